package database

import (
	"time"

	"activation-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionState is the mutable part of a subscription carried by an event
type SubscriptionState struct {
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	EventAt     time.Time
}

// GetSubscriptionByStripeID 通过 Stripe 订阅ID获取订阅
func GetSubscriptionByStripeID(db *gorm.DB, stripeSubscriptionID string) (*models.Subscription, error) {
	return findOne[models.Subscription](db.Where("stripe_subscription_id = ?", stripeSubscriptionID))
}

// GetLatestSubscriptionByUser returns the most recently updated subscription of a user
func GetLatestSubscriptionByUser(db *gorm.DB, userID uuid.UUID) (*models.Subscription, error) {
	return findOne[models.Subscription](db.Where("user_id = ?", userID).Order("updated_at DESC"))
}

// CheckUserHasActiveSubscription 检查用户是否有有效订阅
func CheckUserHasActiveSubscription(db *gorm.DB, userID uuid.UUID, now time.Time) (bool, error) {
	var count int64
	err := db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ? AND current_period_end >= ?", userID, models.SubscriptionActive, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountActiveSubscriptions counts subscriptions currently granting entitlement
func CountActiveSubscriptions(db *gorm.DB, now time.Time) (int64, error) {
	var count int64
	err := db.Model(&models.Subscription{}).
		Where("status = ? AND current_period_end >= ?", models.SubscriptionActive, now).
		Count(&count).Error
	return count, err
}

// ApplySubscriptionState updates a subscription unless a newer event has
// already been applied. It reports the number of rows changed.
func ApplySubscriptionState(db *gorm.DB, stripeSubscriptionID string, state SubscriptionState) (int64, error) {
	result := db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND (last_event_at IS NULL OR last_event_at <= ?)",
			stripeSubscriptionID, state.EventAt).
		Updates(map[string]interface{}{
			"status":               state.Status,
			"current_period_start": state.PeriodStart,
			"current_period_end":   state.PeriodEnd,
			"last_event_at":        state.EventAt,
		})
	return result.RowsAffected, result.Error
}

// InsertSubscriptionIfAbsent inserts subscription unless a row with the same
// stripe_subscription_id exists. It reports whether the row was inserted.
func InsertSubscriptionIfAbsent(db *gorm.DB, subscription *models.Subscription) (bool, error) {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(subscription)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpsertSubscription 创建或更新订阅
// An existing row only takes the event-time guarded update. It reports
// whether the row was inserted.
func UpsertSubscription(db *gorm.DB, subscription *models.Subscription) (bool, error) {
	inserted, err := InsertSubscriptionIfAbsent(db, subscription)
	if err != nil || inserted {
		return inserted, err
	}

	eventAt := subscription.UpdatedAt
	if subscription.LastEventAt != nil {
		eventAt = *subscription.LastEventAt
	}
	_, err = ApplySubscriptionState(db, subscription.StripeSubscriptionID, SubscriptionState{
		Status:      subscription.Status,
		PeriodStart: subscription.CurrentPeriodStart,
		PeriodEnd:   subscription.CurrentPeriodEnd,
		EventAt:     eventAt,
	})
	return false, err
}

// InsertPayment records a paid invoice once. It reports whether the row was
// inserted; a repeated invoice id is ignored.
func InsertPayment(db *gorm.DB, payment *models.Payment) (bool, error) {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_invoice_id"}},
		DoNothing: true,
	}).Create(payment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountPayments counts recorded payments
func CountPayments(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&models.Payment{}).Count(&count).Error
	return count, err
}

// RecordWebhookEvent stores a processed event id. It reports false when the
// event was already recorded.
func RecordWebhookEvent(db *gorm.DB, eventID, eventType string, at time.Time) (bool, error) {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.WebhookEvent{
		EventID:    eventID,
		Type:       eventType,
		ReceivedAt: at,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
