package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// prices travel as JSON numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is a sellable product. Inactive products are hidden from the
// catalog and cannot be activated.
type Product struct {
	BaseModel
	Name        string          `json:"name" gorm:"size:255;not null;index"`
	Version     string          `json:"version" gorm:"size:50;not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Description string          `json:"description" gorm:"type:text"`
	IsActive    bool            `json:"is_active" gorm:"not null;index"`
}

// ProductSummary is the public catalog projection of a product
type ProductSummary struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

// Summary projects p for public listing
func (p *Product) Summary() ProductSummary {
	return ProductSummary{
		ID:          p.ID,
		Name:        p.Name,
		Version:     p.Version,
		Price:       p.Price,
		Description: p.Description,
	}
}

// ProductKey is a single-use credential redeemable for one activation of
// one product. IsUsed flips false to true exactly once.
type ProductKey struct {
	BaseModel
	KeyValue  string     `json:"key_value" gorm:"size:20;uniqueIndex;not null"`
	ProductID uuid.UUID  `json:"product_id" gorm:"type:uuid;index;not null"`
	Product   *Product   `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	IsUsed    bool       `json:"is_used" gorm:"not null;index"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedBy string     `json:"created_by" gorm:"size:320"`
	Notes     string     `json:"notes" gorm:"type:text"`
}

// Activation asserts that a product is licensed on a device. At most one
// active row exists per (device_id, product_id).
type Activation struct {
	BaseModel
	UserID       uuid.UUID   `json:"user_id" gorm:"type:uuid;index;not null"`
	User         *User       `json:"user,omitempty" gorm:"foreignKey:UserID"`
	ProductID    uuid.UUID   `json:"product_id" gorm:"type:uuid;index;not null"`
	Product      *Product    `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	DeviceID     string      `json:"device_id" gorm:"size:255;index;not null"`
	ProductKeyID uuid.UUID   `json:"product_key_id" gorm:"type:uuid;uniqueIndex;not null"`
	ProductKey   *ProductKey `json:"product_key,omitempty" gorm:"foreignKey:ProductKeyID"`
	ActivatedAt  time.Time   `json:"activated_at" gorm:"not null;index"`
	LastCheck    time.Time   `json:"last_check" gorm:"not null"`
	IsActive     bool        `json:"is_active" gorm:"not null"`
}
