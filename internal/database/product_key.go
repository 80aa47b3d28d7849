package database

import (
	"time"

	"activation-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateProductKeys inserts a batch of keys in one statement
func CreateProductKeys(db *gorm.DB, keys []models.ProductKey) error {
	return db.Create(&keys).Error
}

// FindUnusedKey returns the unused key with keyValue for productID, or nil
func FindUnusedKey(db *gorm.DB, keyValue string, productID uuid.UUID) (*models.ProductKey, error) {
	return findOne[models.ProductKey](db.Where("key_value = ? AND product_id = ? AND is_used = ?", keyValue, productID, false))
}

// FindKeyByValue returns the key with keyValue, or nil
func FindKeyByValue(db *gorm.DB, keyValue string) (*models.ProductKey, error) {
	return findOne[models.ProductKey](db.Where("key_value = ?", keyValue))
}

// MarkKeyUsed flips is_used only if the key is still unused, so a racing
// second redeemer observes zero rows affected.
func MarkKeyUsed(db *gorm.DB, keyID uuid.UUID, usedAt time.Time) (int64, error) {
	result := db.Model(&models.ProductKey{}).
		Where("id = ? AND is_used = ?", keyID, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": usedAt,
		})
	return result.RowsAffected, result.Error
}

// DeleteUnusedKey deletes the key with keyValue only if it is unused
func DeleteUnusedKey(db *gorm.DB, keyValue string) (int64, error) {
	result := db.Where("key_value = ? AND is_used = ?", keyValue, false).Delete(&models.ProductKey{})
	return result.RowsAffected, result.Error
}

// ListKeys lists keys with their product, newest first
func ListKeys(db *gorm.DB) ([]models.ProductKey, error) {
	var keys []models.ProductKey
	err := db.Preload("Product").Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// KeyFilter narrows key counts
type KeyFilter struct {
	Used      *bool
	ProductID *uuid.UUID
}

// CountKeys counts keys matching filter
func CountKeys(db *gorm.DB, filter KeyFilter) (int64, error) {
	q := db.Model(&models.ProductKey{})
	if filter.Used != nil {
		q = q.Where("is_used = ?", *filter.Used)
	}
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}
