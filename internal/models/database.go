package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a random id when none is set
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// User is an end-user identity, keyed by email and/or device id.
// Both lookup keys are nullable and independently unique.
type User struct {
	BaseModel
	Email            *string `json:"email,omitempty" gorm:"size:320;uniqueIndex"`
	DeviceID         *string `json:"device_id,omitempty" gorm:"size:255;uniqueIndex"`
	StripeCustomerID *string `json:"stripe_customer_id,omitempty" gorm:"size:255;uniqueIndex"`
	IsAdmin          bool    `json:"is_admin" gorm:"not null"`
}

// TableName avoids the reserved word "user" on PostgreSQL
func (User) TableName() string {
	return "users"
}

// Admin is a back-office operator allowed to manage products and keys
type Admin struct {
	BaseModel
	Email        string `json:"email" gorm:"size:320;uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	Name         string `json:"name"`
	IsSuperAdmin bool   `json:"is_super_admin" gorm:"not null"`
}

// WebhookEvent records a processed billing event id. Its primary key makes
// redelivery of the same event a no-op.
type WebhookEvent struct {
	EventID    string    `json:"event_id" gorm:"size:255;primaryKey"`
	Type       string    `json:"type" gorm:"size:100;not null"`
	ReceivedAt time.Time `json:"received_at" gorm:"not null"`
}
