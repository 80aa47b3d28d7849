package database

import (
	"activation-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindUserByID returns the user with id, or nil
func FindUserByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	return findOne[models.User](db.Where("id = ?", id))
}

// FindUserByEmail returns the user with email, or nil
func FindUserByEmail(db *gorm.DB, email string) (*models.User, error) {
	return findOne[models.User](db.Where("email = ?", email))
}

// FindUserByDeviceID returns the user with deviceID, or nil
func FindUserByDeviceID(db *gorm.DB, deviceID string) (*models.User, error) {
	return findOne[models.User](db.Where("device_id = ?", deviceID))
}

// FindUserByStripeCustomer returns the user bound to a billing customer, or nil
func FindUserByStripeCustomer(db *gorm.DB, customerID string) (*models.User, error) {
	return findOne[models.User](db.Where("stripe_customer_id = ?", customerID))
}

// CreateUserIfAbsent inserts user unless a unique key already exists.
// It reports whether a row was inserted.
func CreateUserIfAbsent(db *gorm.DB, user *models.User) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// BindStripeCustomer records the billing customer id on a user that has none
func BindStripeCustomer(db *gorm.DB, userID uuid.UUID, customerID string) (int64, error) {
	result := db.Model(&models.User{}).
		Where("id = ? AND stripe_customer_id IS NULL", userID).
		Update("stripe_customer_id", customerID)
	return result.RowsAffected, result.Error
}

// CountUsers counts end users
func CountUsers(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&models.User{}).Count(&count).Error
	return count, err
}

// FindAdminByEmail returns the admin with email, or nil
func FindAdminByEmail(db *gorm.DB, email string) (*models.Admin, error) {
	return findOne[models.Admin](db.Where("email = ?", email))
}
