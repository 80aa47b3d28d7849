package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/models"
	"activation-api/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type activationFixture struct {
	db            *gorm.DB
	svc           *ActivationService
	subscriptions *SubscriptionService
	product       *models.Product
	key           *models.ProductKey
}

func newActivationFixture(t *testing.T, opts ActivationOptions) *activationFixture {
	t.Helper()

	db := testutil.NewDB(t)
	product := testutil.SeedProduct(t, db, "Editor", "19.99", true)
	key := testutil.SeedKey(t, db, product.ID, "AAAAAA-BBBBBB-CCCCCC")

	catalog := NewCatalogService(db, nil, 0)
	keys := NewKeyService(db, nil)
	subscriptions := NewSubscriptionService(db, nil, nil, nil, 30*24*time.Hour)
	return &activationFixture{
		db:            db,
		svc:           NewActivationService(db, catalog, keys, subscriptions, opts),
		subscriptions: subscriptions,
		product:       product,
		key:           key,
	}
}

func (f *activationFixture) input(deviceID string) ActivateInput {
	return ActivateInput{
		ProductKey: f.key.KeyValue,
		DeviceID:   deviceID,
		ProductID:  &f.product.ID,
	}
}

func activeCount(t *testing.T, db *gorm.DB, deviceID string, productID uuid.UUID) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.Activation{}).
		Where("device_id = ? AND product_id = ? AND is_active = ?", deviceID, productID, true).
		Count(&n).Error)
	return n
}

func TestActivateThenRepeat(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	ctx := context.Background()

	user, _, err := NewIdentityService(f.db).Register(ctx, "", "dev-1")
	require.NoError(t, err)

	activation, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, activation.UserID)
	assert.True(t, activation.IsActive)
	assert.Equal(t, activation.ActivatedAt, activation.LastCheck)
	assert.Equal(t, "Editor", activation.Product.Name)

	key, err := database.FindKeyByValue(f.db, f.key.KeyValue)
	require.NoError(t, err)
	assert.True(t, key.IsUsed)
	assert.NotNil(t, key.UsedAt)

	_, err = f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.Conflict))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
	assert.Equal(t, "Product already activated on this device", apperr.MessageOf(err))
	assert.Equal(t, activation.ID, apperr.FieldsOf(err)["activation_id"])

	assert.Equal(t, int64(1), activeCount(t, f.db, "dev-1", f.product.ID))
}

func TestActivateByName(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	activation, err := f.svc.Activate(context.Background(), ActivateInput{
		ProductKey:  "aaaaaa-bbbbbb-cccccc",
		DeviceID:    "dev-1",
		ProductName: "Editor",
	})
	require.NoError(t, err)
	assert.Equal(t, f.product.ID, activation.ProductID)
}

func TestActivateSpentKeyOnOtherDevice(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, f.input("dev-2"))
	require.True(t, apperr.Is(err, apperr.NotFound))
	assert.Equal(t, "Invalid, used, or incorrect product key for this product", apperr.MessageOf(err))
	assert.Equal(t, int64(0), activeCount(t, f.db, "dev-2", f.product.ID))
}

func TestActivateRejections(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	inactive := testutil.SeedProduct(t, f.db, "Legacy", "9.00", false)
	testutil.SeedKey(t, f.db, inactive.ID, "GGGGGG-HHHHHH-IIIIII")
	ctx := context.Background()
	missing := uuid.New()

	tests := []struct {
		name string
		in   ActivateInput
		kind apperr.Kind
	}{
		{"missing key", ActivateInput{DeviceID: "dev-1", ProductID: &f.product.ID}, apperr.InvalidInput},
		{"missing device", ActivateInput{ProductKey: f.key.KeyValue, ProductID: &f.product.ID}, apperr.InvalidInput},
		{"missing product", ActivateInput{ProductKey: f.key.KeyValue, DeviceID: "dev-1"}, apperr.InvalidInput},
		{"unknown product", ActivateInput{ProductKey: f.key.KeyValue, DeviceID: "dev-1", ProductID: &missing}, apperr.NotFound},
		{"unknown product name", ActivateInput{ProductKey: f.key.KeyValue, DeviceID: "dev-1", ProductName: "Nope"}, apperr.NotFound},
		{"inactive product", ActivateInput{ProductKey: "GGGGGG-HHHHHH-IIIIII", DeviceID: "dev-1", ProductID: &inactive.ID}, apperr.NotFound},
		{"key for other product", ActivateInput{ProductKey: "GGGGGG-HHHHHH-IIIIII", DeviceID: "dev-1", ProductID: &f.product.ID}, apperr.NotFound},
		{"unknown key", ActivateInput{ProductKey: "ZZZZZZ-ZZZZZZ-ZZZZZZ", DeviceID: "dev-1", ProductID: &f.product.ID}, apperr.NotFound},
	}
	for _, tt := range tests {
		_, err := f.svc.Activate(ctx, tt.in)
		assert.Equal(t, tt.kind, apperr.KindOf(err), tt.name)
	}

	count, err := database.CountActivations(f.db, database.ActivationFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestActivateConcurrentSameDevice(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Activate(context.Background(), f.input("dev-1"))
		}(i)
	}
	close(start)
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperr.Is(err, apperr.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, int64(1), activeCount(t, f.db, "dev-1", f.product.ID))

	used := true
	n, err := database.CountKeys(f.db, database.KeyFilter{Used: &used})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestActivateConcurrentDifferentDevices(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})

	devices := []string{"dev-a", "dev-b", "dev-c", "dev-d"}
	errs := make([]error, len(devices))
	var wg sync.WaitGroup
	for i, device := range devices {
		wg.Add(1)
		go func(i int, device string) {
			defer wg.Done()
			_, errs[i] = f.svc.Activate(context.Background(), f.input(device))
		}(i, device)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		kind := apperr.KindOf(err)
		assert.True(t, kind == apperr.NotFound || kind == apperr.Conflict, "unexpected error: %v", err)
	}
	assert.Equal(t, 1, successes)

	count, err := database.CountActivations(f.db, database.ActivationFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestActivateRollsBackWhenRedemptionFails(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_key_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "product_key" {
			_ = tx.AddError(errors.New("injected failure"))
		}
	}))

	_, err := f.svc.Activate(context.Background(), f.input("dev-1"))
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Equal(t, "Activation failed", apperr.MessageOf(err))

	count, err := database.CountActivations(f.db, database.ActivationFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	key, err := database.FindKeyByValue(f.db, f.key.KeyValue)
	require.NoError(t, err)
	assert.False(t, key.IsUsed)

	user, err := database.FindUserByDeviceID(f.db, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))

	activation, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)

	view, err := f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Editor", view.Product)
	assert.Equal(t, "1.0", view.Version)
	assert.Equal(t, "dev-1", view.DeviceID)
	assert.Equal(t, f.key.KeyValue, view.Key)
	assert.False(t, view.LastCheck.Before(view.ActivatedAt))

	later := activation.ActivatedAt.Add(time.Hour)
	f.svc.now = func() time.Time { return later }
	view, err = f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.NoError(t, err)
	assert.True(t, view.LastCheck.Equal(later))

	// a clock that moved backwards never rewinds last_check
	f.svc.now = func() time.Time { return activation.ActivatedAt.Add(time.Minute) }
	view, err = f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.NoError(t, err)
	assert.True(t, view.LastCheck.Equal(later))

	stored, err := database.FindActivationByID(f.db, activation.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastCheck.Equal(later))

	_, err = f.svc.Verify(ctx, "", f.product.ID)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = f.svc.Verify(ctx, "dev-2", f.product.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestDeactivateAllowsNewActivation(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{})
	ctx := context.Background()

	first, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Deactivate(ctx, first.ID))
	err = f.svc.Deactivate(ctx, first.ID)
	assert.True(t, apperr.Is(err, apperr.Conflict))
	err = f.svc.Deactivate(ctx, uuid.New())
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))

	// the redeemed key stays spent
	_, err = f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.NotFound))

	fresh := testutil.SeedKey(t, f.db, f.product.ID, "JJJJJJ-KKKKKK-LLLLLL")
	second, err := f.svc.Activate(ctx, ActivateInput{ProductKey: fresh.KeyValue, DeviceID: "dev-1", ProductID: &f.product.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(1), activeCount(t, f.db, "dev-1", f.product.ID))
}

func TestActivateBillingGated(t *testing.T) {
	t.Parallel()

	f := newActivationFixture(t, ActivationOptions{BillingGated: true})
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.PaymentRequired))

	user := testutil.SeedUser(t, f.db, "payer@example.com", "dev-1")
	testutil.SeedSubscription(t, f.db, user.ID, "sub_expired", models.SubscriptionActive, time.Now().Add(-time.Hour))
	_, err = f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.PaymentRequired))

	testutil.SeedSubscription(t, f.db, user.ID, "sub_canceled", models.SubscriptionCanceled, time.Now().Add(time.Hour))
	_, err = f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.PaymentRequired))

	testutil.SeedSubscription(t, f.db, user.ID, "sub_active", models.SubscriptionActive, time.Now().Add(time.Hour))
	activation, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, activation.UserID)

	_, err = f.svc.Verify(ctx, "dev-1", f.product.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", "sub_active").
		Update("status", models.SubscriptionCanceled).Error)
	_, err = f.svc.Verify(ctx, "dev-1", f.product.ID)
	assert.True(t, apperr.Is(err, apperr.PaymentRequired))
}

func TestActivateRateLimited(t *testing.T) {
	t.Parallel()

	client, mr := testutil.NewRedis(t)
	f := newActivationFixture(t, ActivationOptions{
		Limiter:   NewRedisService(client),
		RateLimit: 2,
	})
	ctx := context.Background()
	bad := ActivateInput{ProductKey: "ZZZZZZ-ZZZZZZ-ZZZZZZ", DeviceID: "dev-1", ProductID: &f.product.ID}

	for i := 0; i < 2; i++ {
		_, err := f.svc.Activate(ctx, bad)
		require.True(t, apperr.Is(err, apperr.NotFound))
	}
	_, err := f.svc.Activate(ctx, f.input("dev-1"))
	require.True(t, apperr.Is(err, apperr.RateLimited))

	// other devices are unaffected
	_, err = f.svc.Activate(ctx, ActivateInput{ProductKey: bad.ProductKey, DeviceID: "dev-2", ProductID: bad.ProductID})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	mr.FastForward(time.Minute + time.Second)
	_, err = f.svc.Activate(ctx, f.input("dev-1"))
	require.NoError(t, err)
}

