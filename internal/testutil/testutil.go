// Package testutil provides in-memory stores and fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"activation-api/internal/database"
	"activation-api/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// NewDB returns a migrated, private in-memory SQLite database
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		database.Close(db, nil)
	})
	return db
}

// NewRedis starts a miniredis server and returns a client connected to it
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}

// SeedProduct inserts a product
func SeedProduct(t testing.TB, db *gorm.DB, name, price string, active bool) *models.Product {
	t.Helper()

	product := &models.Product{
		Name:     name,
		Version:  "1.0",
		Price:    decimal.RequireFromString(price),
		IsActive: active,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

// SeedKey inserts an unused key for productID
func SeedKey(t testing.TB, db *gorm.DB, productID uuid.UUID, keyValue string) *models.ProductKey {
	t.Helper()

	key := &models.ProductKey{
		KeyValue:  keyValue,
		ProductID: productID,
		CreatedBy: "admin@example.com",
	}
	require.NoError(t, db.Create(key).Error)
	return key
}

// SeedUser inserts a user; empty identifiers are left NULL
func SeedUser(t testing.TB, db *gorm.DB, email, deviceID string) *models.User {
	t.Helper()

	user := &models.User{}
	if email != "" {
		user.Email = &email
	}
	if deviceID != "" {
		user.DeviceID = &deviceID
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedAdmin inserts an admin with password
func SeedAdmin(t testing.TB, db *gorm.DB, email, password string) *models.Admin {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	admin := &models.Admin{
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Test Admin",
	}
	require.NoError(t, db.Create(admin).Error)
	return admin
}

// SeedSubscription inserts a subscription for userID
func SeedSubscription(t testing.TB, db *gorm.DB, userID uuid.UUID, stripeID, status string, periodEnd time.Time) *models.Subscription {
	t.Helper()

	periodEnd = periodEnd.UTC()
	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeID,
		Status:               status,
		CurrentPeriodStart:   periodEnd.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:     periodEnd,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}
