package services

import (
	"context"
	"testing"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/models"
	"activation-api/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReports(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	viewer := testutil.SeedProduct(t, f.db, "Viewer", "5.50", true)
	testutil.SeedKey(t, f.db, viewer.ID, "VVVVVV-VVVVVV-VVVVV1")
	testutil.SeedKey(t, f.db, viewer.ID, "VVVVVV-VVVVVV-VVVVV2")
	testutil.SeedKey(t, f.db, f.product.ID, "EEEEEE-EEEEEE-EEEEE1")
	testutil.SeedUser(t, f.db, "someone@example.com", "")
	testutil.SeedSubscription(t, f.db, testutil.SeedUser(t, f.db, "", "dev-sub").ID, "sub_r", models.SubscriptionActive, time.Now().Add(time.Hour))
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, ActivateInput{ProductKey: "VVVVVV-VVVVVV-VVVVV1", DeviceID: "dev-2", ProductID: &viewer.ID})
	require.NoError(t, err)

	reports := NewReportService(f.db)

	stats, err := reports.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalActivations:    2,
		UsedKeys:            2,
		UnusedKeys:          2,
		TotalProducts:       2,
		TotalUsers:          4,
		ActiveSubscriptions: 1,
	}, stats)

	summary, err := reports.Summary(ctx, ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, "All products", summary.ProductName)
	assert.Equal(t, "25.49", summary.TotalSales.StringFixed(2))
	assert.Equal(t, int64(2), summary.TotalActivations)
	assert.Equal(t, int64(2), summary.UnusedKeys)

	summary, err = reports.Summary(ctx, ReportFilter{ProductID: &viewer.ID})
	require.NoError(t, err)
	assert.Equal(t, "Viewer", summary.ProductName)
	assert.Equal(t, "5.50", summary.TotalSales.StringFixed(2))
	assert.Equal(t, int64(1), summary.TotalActivations)
	assert.Equal(t, int64(1), summary.UnusedKeys)

	future := time.Now().UTC().Add(24 * time.Hour)
	summary, err = reports.Summary(ctx, ReportFilter{Since: &future})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.TotalActivations)
	assert.True(t, summary.TotalSales.IsZero())

	past := time.Now().UTC().Add(-24 * time.Hour)
	_, err = reports.Summary(ctx, ReportFilter{Since: &future, Until: &past})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	records, err := reports.ListActivations(ctx, DefaultActivationLimit, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.NotEmpty(t, r.KeyValue)
		assert.NotEmpty(t, r.ProductName)
		require.NotNil(t, r.UserDeviceID)
		assert.Equal(t, r.DeviceID, *r.UserDeviceID)
	}
	assert.False(t, records[0].ActivatedAt.Before(records[1].ActivatedAt))

	records, err = reports.ListActivations(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	for _, bad := range [][2]int{{0, 0}, {-1, 0}, {MaxActivationLimit + 1, 0}, {10, -1}} {
		_, err = reports.ListActivations(ctx, bad[0], bad[1])
		assert.True(t, apperr.Is(err, apperr.InvalidInput), "limit %d offset %d", bad[0], bad[1])
	}
}

func TestParseReportDate(t *testing.T) {
	t.Parallel()

	start, err := ParseReportDate("2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)

	end, err := ParseReportDate("2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), end)

	ts, err := ParseReportDate("2024-03-01T10:00:00+02:00", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), ts)

	_, err = ParseReportDate("yesterday", false)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}
