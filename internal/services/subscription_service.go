package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/metrics"
	"activation-api/internal/models"
	"activation-api/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Webhook event outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

const (
	replayGuardTTL = 24 * time.Hour
	mailTimeout    = 2 * time.Minute
)

// currencies whose minor unit equals the major unit
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

var errDuplicateEvent = errors.New("event already processed")

// Mailer sends subscription notifications
type Mailer interface {
	SendSubscriptionConfirmation(ctx context.Context, to string, periodEnd time.Time) error
}

// SubscriptionService tracks billing-derived subscription state and decides
// entitlement
type SubscriptionService struct {
	db             *gorm.DB
	replay         *RedisService
	mailer         Mailer
	metrics        *metrics.Metrics
	checkoutPeriod time.Duration
	now            func() time.Time
}

// NewSubscriptionService creates a subscription service. replay and mailer
// may be nil.
func NewSubscriptionService(db *gorm.DB, replay *RedisService, mailer Mailer, m *metrics.Metrics, checkoutPeriod time.Duration) *SubscriptionService {
	return &SubscriptionService{
		db:             db,
		replay:         replay,
		mailer:         mailer,
		metrics:        m,
		checkoutPeriod: checkoutPeriod,
		now:            time.Now,
	}
}

// IsEntitled reports whether userID holds an active, unexpired subscription
func (s *SubscriptionService) IsEntitled(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := database.CheckUserHasActiveSubscription(s.db.WithContext(ctx), userID, s.now().UTC())
	return ok, storeErr("check subscription", "Failed to check subscription", err)
}

// Status returns the latest subscription of userID, or nil
func (s *SubscriptionService) Status(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := database.GetLatestSubscriptionByUser(s.db.WithContext(ctx), userID)
	return sub, storeErr("get subscription", "Failed to fetch subscription", err)
}

// notice is a confirmation email to send once the transaction commits
type notice struct {
	email     string
	periodEnd time.Time
}

// HandleEvent applies a verified billing event. Redelivery of an event, or
// of the same invoice under a new event id, changes nothing.
func (s *SubscriptionService) HandleEvent(ctx context.Context, event *models.BillingEvent) (string, error) {
	outcome, err := s.handleEvent(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(event.Type, OutcomeFailed)
		return OutcomeFailed, err
	}
	s.metrics.RecordWebhookEvent(event.Type, outcome)
	return outcome, nil
}

func (s *SubscriptionService) handleEvent(ctx context.Context, event *models.BillingEvent) (string, error) {
	if event == nil || event.ID == "" || event.Type == "" {
		return "", apperr.New(apperr.InvalidInput, "Malformed event payload")
	}

	guarded := false
	if s.replay != nil {
		seen, err := s.replay.MarkEventSeen(ctx, event.ID, replayGuardTTL)
		switch {
		case err != nil:
			logging.Warnf("Webhook replay guard unavailable for event %s: %v", event.ID, err)
		case seen:
			logging.Infof("Webhook event %s already seen, skipping", event.ID)
			return OutcomeDuplicate, nil
		default:
			guarded = true
		}
	}

	now := s.now().UTC()
	eventAt := event.CreatedAt(now)
	outcome := OutcomeIgnored
	var mail *notice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recorded, err := database.RecordWebhookEvent(tx, event.ID, event.Type, now)
		if err != nil {
			return err
		}
		if !recorded {
			return errDuplicateEvent
		}

		switch event.Type {
		case models.EventCheckoutCompleted:
			outcome, mail, err = s.applyCheckout(tx, event, eventAt)
		case models.EventSubscriptionCreated, models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
			outcome, err = s.applySubscription(tx, event, eventAt)
		case models.EventInvoicePaid:
			outcome, err = s.applyInvoice(tx, event, eventAt)
		default:
			logging.Debugf("Ignoring webhook event %s of type %s", event.ID, event.Type)
			outcome = OutcomeIgnored
		}
		return err
	})
	if errors.Is(err, errDuplicateEvent) {
		logging.Infof("Webhook event %s already processed", event.ID)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		if guarded {
			// let the processor's redelivery run again
			if ferr := s.replay.ForgetEvent(context.WithoutCancel(ctx), event.ID); ferr != nil {
				logging.Warnf("Failed to clear replay guard for event %s: %v", event.ID, ferr)
			}
		}
		return "", storeErr("handle webhook event", "Failed to process webhook event", err)
	}

	if mail != nil && s.mailer != nil {
		go s.sendConfirmation(*mail)
	}
	logging.Infof("Webhook event %s (%s) %s", event.ID, event.Type, outcome)
	return outcome, nil
}

func (s *SubscriptionService) applyCheckout(tx *gorm.DB, event *models.BillingEvent, eventAt time.Time) (string, *notice, error) {
	var session models.CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return "", nil, apperr.Wrap(apperr.InvalidInput, "Malformed event payload", err)
	}
	if session.Subscription == "" {
		logging.Infof("Checkout %s has no subscription, ignoring", session.ID)
		return OutcomeIgnored, nil, nil
	}

	user, err := s.checkoutUser(tx, &session)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		logging.Warnf("Checkout %s could not be matched to a user, ignoring", session.ID)
		return OutcomeIgnored, nil, nil
	}
	if session.Customer != "" {
		if err := bindCustomer(tx, user.ID, session.Customer); err != nil {
			return "", nil, err
		}
	}

	periodEnd := eventAt.Add(s.checkoutPeriod)
	inserted, err := database.InsertSubscriptionIfAbsent(tx, &models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: session.Subscription,
		StripeCustomerID:     session.Customer,
		Status:               models.SubscriptionActive,
		CurrentPeriodStart:   eventAt,
		CurrentPeriodEnd:     periodEnd,
		LastEventAt:          &eventAt,
	})
	if err != nil {
		return "", nil, err
	}
	if !inserted {
		// subscription events already created the row and carry real periods
		return OutcomeProcessed, nil, nil
	}

	var mail *notice
	if user.Email != nil && *user.Email != "" {
		mail = &notice{email: *user.Email, periodEnd: periodEnd}
	}
	return OutcomeProcessed, mail, nil
}

// checkoutUser finds the user a checkout belongs to: the client reference,
// metadata user id, bound customer, then email. A user is created for an
// unknown email.
func (s *SubscriptionService) checkoutUser(tx *gorm.DB, session *models.CheckoutSession) (*models.User, error) {
	for _, ref := range []string{session.ClientReferenceID, session.Metadata["user_id"]} {
		if id, err := uuid.Parse(ref); err == nil {
			user, err := database.FindUserByID(tx, id)
			if err != nil || user != nil {
				return user, err
			}
		}
	}
	if session.Customer != "" {
		user, err := database.FindUserByStripeCustomer(tx, session.Customer)
		if err != nil || user != nil {
			return user, err
		}
	}

	email := normalizeEmail(session.CustomerDetails.Email)
	if email == "" {
		email = normalizeEmail(session.CustomerEmail)
	}
	if email == "" {
		return nil, nil
	}
	user, _, err := resolveUser(tx, email, "")
	return user, err
}

// bindCustomer records customerID on userID unless another user owns it
func bindCustomer(tx *gorm.DB, userID uuid.UUID, customerID string) error {
	owner, err := database.FindUserByStripeCustomer(tx, customerID)
	if err != nil {
		return err
	}
	if owner != nil {
		if owner.ID != userID {
			logging.Warnf("Billing customer %s already bound to user %s", customerID, owner.ID)
		}
		return nil
	}
	_, err = database.BindStripeCustomer(tx, userID, customerID)
	return err
}

func (s *SubscriptionService) applySubscription(tx *gorm.DB, event *models.BillingEvent, eventAt time.Time) (string, error) {
	var obj models.StripeSubscription
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "Malformed event payload", err)
	}
	if obj.ID == "" {
		return "", apperr.New(apperr.InvalidInput, "Malformed event payload")
	}

	state := database.SubscriptionState{
		Status:      strings.ToLower(obj.Status),
		PeriodStart: unixOr(obj.CurrentPeriodStart, eventAt),
		PeriodEnd:   unixOr(obj.CurrentPeriodEnd, eventAt),
		EventAt:     eventAt,
	}
	if event.Type == models.EventSubscriptionDeleted {
		state.Status = models.SubscriptionCanceled
	}
	if state.Status == "" {
		state.Status = models.SubscriptionActive
	}

	rows, err := database.ApplySubscriptionState(tx, obj.ID, state)
	if err != nil {
		return "", err
	}
	if rows > 0 {
		return OutcomeProcessed, nil
	}

	existing, err := database.GetSubscriptionByStripeID(tx, obj.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		logging.Infof("Ignoring stale %s for subscription %s (event at %s, last applied %s)",
			event.Type, obj.ID, eventAt.Format(time.RFC3339), formatTime(existing.LastEventAt))
		return OutcomeStale, nil
	}

	userID, err := subscriptionOwner(tx, &obj)
	if err != nil {
		return "", err
	}
	if userID == uuid.Nil {
		logging.Warnf("Subscription %s could not be matched to a user, ignoring", obj.ID)
		return OutcomeIgnored, nil
	}
	if _, err := database.UpsertSubscription(tx, &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: obj.ID,
		StripeCustomerID:     obj.Customer,
		Status:               state.Status,
		CurrentPeriodStart:   state.PeriodStart,
		CurrentPeriodEnd:     state.PeriodEnd,
		LastEventAt:          &eventAt,
	}); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

func subscriptionOwner(tx *gorm.DB, obj *models.StripeSubscription) (uuid.UUID, error) {
	if id, err := uuid.Parse(obj.Metadata["user_id"]); err == nil {
		user, err := database.FindUserByID(tx, id)
		if err != nil {
			return uuid.Nil, err
		}
		if user != nil {
			return user.ID, nil
		}
	}
	if obj.Customer == "" {
		return uuid.Nil, nil
	}
	user, err := database.FindUserByStripeCustomer(tx, obj.Customer)
	if err != nil || user == nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (s *SubscriptionService) applyInvoice(tx *gorm.DB, event *models.BillingEvent, eventAt time.Time) (string, error) {
	var invoice models.Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "Malformed event payload", err)
	}
	if invoice.ID == "" {
		return "", apperr.New(apperr.InvalidInput, "Malformed event payload")
	}

	payment := &models.Payment{
		StripeInvoiceID:      invoice.ID,
		StripeSubscriptionID: invoice.Subscription,
		StripeCustomerID:     invoice.Customer,
		Amount:               minorToMajor(invoice.AmountPaid, invoice.Currency),
		Currency:             strings.ToLower(invoice.Currency),
		PaidAt:               unixOr(invoice.StatusTransitions.PaidAt, unixOr(invoice.Created, eventAt)),
	}
	if invoice.Customer != "" {
		user, err := database.FindUserByStripeCustomer(tx, invoice.Customer)
		if err != nil {
			return "", err
		}
		if user != nil {
			payment.UserID = &user.ID
		}
	}

	inserted, err := database.InsertPayment(tx, payment)
	if err != nil {
		return "", err
	}
	if !inserted {
		logging.Infof("Invoice %s already recorded", invoice.ID)
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (s *SubscriptionService) sendConfirmation(n notice) {
	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()
	if err := s.mailer.SendSubscriptionConfirmation(ctx, n.email, n.periodEnd); err != nil {
		logging.Errorf("Failed to send subscription confirmation to %s: %v", n.email, err)
		return
	}
	logging.Infof("Subscription confirmation sent to %s", n.email)
}

// minorToMajor converts an amount in the currency's minor unit
func minorToMajor(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.New(amount, 0)
	}
	return decimal.New(amount, -2)
}

func unixOr(sec int64, fallback time.Time) time.Time {
	if sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0).UTC()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

