package database_test

import (
	"errors"
	"testing"
	"time"

	"activation-api/internal/database"
	"activation-api/internal/models"
	"activation-api/internal/testutil"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newActivation(userID, productID, keyID uuid.UUID, deviceID string) *models.Activation {
	now := time.Now().UTC()
	return &models.Activation{
		UserID:       userID,
		ProductID:    productID,
		DeviceID:     deviceID,
		ProductKeyID: keyID,
		ActivatedAt:  now,
		LastCheck:    now,
		IsActive:     true,
	}
}

func TestOneActiveActivationPerDeviceAndProduct(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	product := testutil.SeedProduct(t, db, "Editor", "19.99", true)
	user := testutil.SeedUser(t, db, "", "dev-1")
	k1 := testutil.SeedKey(t, db, product.ID, "AAAAAA-AAAAAA-AAAAA1")
	k2 := testutil.SeedKey(t, db, product.ID, "AAAAAA-AAAAAA-AAAAA2")
	k3 := testutil.SeedKey(t, db, product.ID, "AAAAAA-AAAAAA-AAAAA3")

	first := newActivation(user.ID, product.ID, k1.ID, "dev-1")
	require.NoError(t, database.CreateActivation(db, first))

	err := database.CreateActivation(db, newActivation(user.ID, product.ID, k2.ID, "dev-1"))
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	n, err := database.DeactivateActivation(db, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = database.DeactivateActivation(db, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, database.CreateActivation(db, newActivation(user.ID, product.ID, k3.ID, "dev-1")))

	found, err := database.FindActiveActivation(db, "dev-1", product.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, k3.ID, found.ProductKeyID)
	require.NotNil(t, found.ProductKey)
	assert.Equal(t, "AAAAAA-AAAAAA-AAAAA3", found.ProductKey.KeyValue)
}

func TestActiveProductNameUnique(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	testutil.SeedProduct(t, db, "Editor", "19.99", true)
	testutil.SeedProduct(t, db, "Editor", "9.99", false)

	err := database.CreateProduct(db, &models.Product{Name: "Editor", Version: "2.0", IsActive: true})
	assert.True(t, database.IsUniqueViolation(err))
}

func TestMarkKeyUsedOnce(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	product := testutil.SeedProduct(t, db, "Editor", "19.99", true)
	key := testutil.SeedKey(t, db, product.ID, "AAAAAA-BBBBBB-CCCCCC")

	n, err := database.MarkKeyUsed(db, key.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = database.MarkKeyUsed(db, key.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	unused, err := database.FindUnusedKey(db, key.KeyValue, product.ID)
	require.NoError(t, err)
	assert.Nil(t, unused)

	n, err = database.DeleteUnusedKey(db, key.KeyValue)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestTouchLastCheckMonotonic(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	product := testutil.SeedProduct(t, db, "Editor", "19.99", true)
	user := testutil.SeedUser(t, db, "", "dev-1")
	key := testutil.SeedKey(t, db, product.ID, "AAAAAA-BBBBBB-CCCCCC")
	activation := newActivation(user.ID, product.ID, key.ID, "dev-1")
	require.NoError(t, database.CreateActivation(db, activation))

	later := activation.LastCheck.Add(time.Minute)
	n, err := database.TouchLastCheck(db, activation.ID, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = database.TouchLastCheck(db, activation.ID, activation.LastCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestApplySubscriptionStateIgnoresOlderEvents(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	user := testutil.SeedUser(t, db, "buyer@example.com", "")
	t0 := time.Now().UTC().Truncate(time.Second)

	inserted, err := database.UpsertSubscription(db, &models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: "sub_1",
		Status:               models.SubscriptionActive,
		CurrentPeriodStart:   t0,
		CurrentPeriodEnd:     t0.Add(time.Hour),
		LastEventAt:          &t0,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := database.ApplySubscriptionState(db, "sub_1", database.SubscriptionState{
		Status:    models.SubscriptionPastDue,
		PeriodEnd: t0.Add(time.Hour),
		EventAt:   t0.Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = database.ApplySubscriptionState(db, "sub_1", database.SubscriptionState{
		Status:    models.SubscriptionCanceled,
		PeriodEnd: t0.Add(time.Hour),
		EventAt:   t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sub, err := database.GetSubscriptionByStripeID(db, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionCanceled, sub.Status)

	ok, err := database.CheckUserHasActiveSubscription(db, user.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordWebhookEventOnce(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	at := time.Now().UTC()

	ok, err := database.RecordWebhookEvent(db, "evt_1", models.EventInvoicePaid, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = database.RecordWebhookEvent(db, "evt_1", models.EventInvoicePaid, at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedAdminIdempotent(t *testing.T) {
	t.Parallel()

	db := testutil.NewDB(t)
	require.NoError(t, database.SeedAdmin(db, "Admin@Example.com", "s3cret-pass", "Administrator"))
	require.NoError(t, database.SeedAdmin(db, "admin@example.com", "other", "Administrator"))

	admin, err := database.FindAdminByEmail(db, "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.IsSuperAdmin)

	var count int64
	require.NoError(t, db.Model(&models.Admin{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, database.IsUniqueViolation(nil))
	assert.True(t, database.IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, database.IsUniqueViolation(errors.New("connection reset")))
}

func TestOpenRedisDisabled(t *testing.T) {
	client, err := database.OpenRedis("")
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = database.OpenRedis("not a url")
	assert.Error(t, err)
}
