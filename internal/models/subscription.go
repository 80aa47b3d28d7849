package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription statuses as reported by the billing processor
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// Subscription is billing-derived state. Only verified webhook events mutate it;
// Status is the source of truth for entitlement.
type Subscription struct {
	BaseModel

	UserID               uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	StripeSubscriptionID string    `json:"stripe_subscription_id" gorm:"size:255;not null;uniqueIndex"`
	StripeCustomerID     string    `json:"stripe_customer_id" gorm:"size:255;index"`

	Status             string    `json:"status" gorm:"size:32;not null;index"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" gorm:"index"`

	// LastEventAt is the creation time of the newest applied billing event.
	// Older events never overwrite newer state.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// IsEntitled reports whether the subscription grants entitlement at now
func (s *Subscription) IsEntitled(now time.Time) bool {
	return s.Status == SubscriptionActive && !s.CurrentPeriodEnd.Before(now)
}

// Payment is an append-only record of a paid invoice, deduplicated by the
// processor's invoice id.
type Payment struct {
	BaseModel

	StripeInvoiceID      string          `json:"stripe_invoice_id" gorm:"size:255;not null;uniqueIndex"`
	StripeSubscriptionID string          `json:"stripe_subscription_id" gorm:"size:255;index"`
	StripeCustomerID     string          `json:"stripe_customer_id" gorm:"size:255;index"`
	UserID               *uuid.UUID      `json:"user_id,omitempty" gorm:"type:uuid;index"`
	Amount               decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Currency             string          `json:"currency" gorm:"size:3"`
	PaidAt               time.Time       `json:"paid_at"`
}
