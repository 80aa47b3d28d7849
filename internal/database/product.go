package database

import (
	"activation-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FindProductByID returns the product regardless of its active flag, or nil
func FindProductByID(db *gorm.DB, id uuid.UUID) (*models.Product, error) {
	return findOne[models.Product](db.Where("id = ?", id))
}

// FindActiveProductByName returns the active product named name, or nil
func FindActiveProductByName(db *gorm.DB, name string) (*models.Product, error) {
	return findOne[models.Product](db.Where("name = ? AND is_active = ?", name, true))
}

// ListActiveProducts lists active products ordered by name
func ListActiveProducts(db *gorm.DB) ([]models.Product, error) {
	var products []models.Product
	err := db.Where("is_active = ?", true).Order("name ASC").Find(&products).Error
	return products, err
}

// ListProducts lists all products ordered by name
func ListProducts(db *gorm.DB) ([]models.Product, error) {
	var products []models.Product
	err := db.Order("name ASC").Find(&products).Error
	return products, err
}

// CountActiveProducts counts products visible in the catalog
func CountActiveProducts(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&models.Product{}).Where("is_active = ?", true).Count(&count).Error
	return count, err
}

// CreateProduct inserts a product
func CreateProduct(db *gorm.DB, product *models.Product) error {
	return db.Create(product).Error
}

// UpdateProduct applies updates to the product with id
func UpdateProduct(db *gorm.DB, id uuid.UUID, updates map[string]interface{}) (int64, error) {
	result := db.Model(&models.Product{}).Where("id = ?", id).Updates(updates)
	return result.RowsAffected, result.Error
}
