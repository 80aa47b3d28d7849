package database

import (
	"time"

	"activation-api/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FindActiveActivation returns the active activation for a device and
// product with its product and key loaded, or nil
func FindActiveActivation(db *gorm.DB, deviceID string, productID uuid.UUID) (*models.Activation, error) {
	return findOne[models.Activation](db.
		Preload("Product").
		Preload("ProductKey").
		Where("device_id = ? AND product_id = ? AND is_active = ?", deviceID, productID, true))
}

// FindActivationByID returns the activation with id, or nil
func FindActivationByID(db *gorm.DB, id uuid.UUID) (*models.Activation, error) {
	return findOne[models.Activation](db.Where("id = ?", id))
}

// CreateActivation inserts an activation. The partial unique index on
// (device_id, product_id) rejects a second active row.
func CreateActivation(db *gorm.DB, activation *models.Activation) error {
	return db.Create(activation).Error
}

// TouchLastCheck advances last_check; it never moves it backwards
func TouchLastCheck(db *gorm.DB, id uuid.UUID, at time.Time) (int64, error) {
	result := db.Model(&models.Activation{}).
		Where("id = ? AND is_active = ? AND last_check < ?", id, true, at).
		Update("last_check", at)
	return result.RowsAffected, result.Error
}

// DeactivateActivation clears is_active on an active activation
func DeactivateActivation(db *gorm.DB, id uuid.UUID) (int64, error) {
	result := db.Model(&models.Activation{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// ListActivations lists activations newest first with product, key and user
func ListActivations(db *gorm.DB, limit, offset int) ([]models.Activation, error) {
	var activations []models.Activation
	err := db.
		Preload("Product").
		Preload("ProductKey").
		Preload("User").
		Order("activated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&activations).Error
	return activations, err
}

// ActivationFilter narrows activation reports
type ActivationFilter struct {
	ProductID *uuid.UUID
	From      *time.Time
	To        *time.Time
}

func (f ActivationFilter) apply(q *gorm.DB) *gorm.DB {
	if f.ProductID != nil {
		q = q.Where("activation.product_id = ?", *f.ProductID)
	}
	if f.From != nil {
		q = q.Where("activation.activated_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("activation.activated_at < ?", *f.To)
	}
	return q
}

// CountActivations counts activations matching filter
func CountActivations(db *gorm.DB, filter ActivationFilter) (int64, error) {
	var count int64
	err := filter.apply(db.Model(&models.Activation{})).Count(&count).Error
	return count, err
}

// ActivationPrices returns the product price of every activation matching
// filter, one entry per activation.
func ActivationPrices(db *gorm.DB, filter ActivationFilter) ([]decimal.Decimal, error) {
	var rows []struct {
		Price decimal.Decimal
	}
	err := filter.apply(db.Model(&models.Activation{})).
		Select("product.price AS price").
		Joins("JOIN product ON product.id = activation.product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	prices := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		prices = append(prices, row.Price)
	}
	return prices, nil
}
