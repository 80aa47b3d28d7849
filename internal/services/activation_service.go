package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/metrics"
	"activation-api/internal/models"
	"activation-api/pkg/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const activationRateWindow = time.Minute

// ActivationOptions configures optional activation behavior
type ActivationOptions struct {
	// BillingGated requires an active subscription to activate and verify
	BillingGated bool
	// Limiter and RateLimit cap activation attempts per device per minute
	Limiter   *RedisService
	RateLimit int
	Metrics   *metrics.Metrics
}

// ActivationService redeems product keys into activations and verifies them
type ActivationService struct {
	db            *gorm.DB
	catalog       *CatalogService
	keys          *KeyService
	subscriptions *SubscriptionService
	opts          ActivationOptions
	now           func() time.Time
}

// NewActivationService creates a new activation service
func NewActivationService(db *gorm.DB, catalog *CatalogService, keys *KeyService, subscriptions *SubscriptionService, opts ActivationOptions) *ActivationService {
	return &ActivationService{
		db:            db,
		catalog:       catalog,
		keys:          keys,
		subscriptions: subscriptions,
		opts:          opts,
		now:           time.Now,
	}
}

// ActivateInput identifies the key, device and product of an activation.
// ProductID takes precedence over ProductName.
type ActivateInput struct {
	ProductKey  string
	DeviceID    string
	ProductName string
	ProductID   *uuid.UUID
}

// ActivationView is the read-only projection returned by Verify
type ActivationView struct {
	Product     string    `json:"product"`
	Version     string    `json:"version"`
	DeviceID    string    `json:"device_id"`
	ActivatedAt time.Time `json:"activated_at"`
	LastCheck   time.Time `json:"last_check"`
	Key         string    `json:"key"`
}

// Activate redeems in.ProductKey for in.DeviceID. The duplicate check, key
// validation, user resolution, activation insert and key redemption run in
// one transaction; any failure leaves no trace.
func (s *ActivationService) Activate(ctx context.Context, in ActivateInput) (*models.Activation, error) {
	activation, err := s.activate(ctx, in)
	s.opts.Metrics.RecordActivation(err)
	return activation, err
}

func (s *ActivationService) activate(ctx context.Context, in ActivateInput) (*models.Activation, error) {
	in.ProductKey = NormalizeKey(in.ProductKey)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.ProductName = strings.TrimSpace(in.ProductName)
	if in.ProductKey == "" || in.DeviceID == "" || (in.ProductID == nil && in.ProductName == "") {
		return nil, apperr.New(apperr.InvalidInput, "product_key, device_id, and product_name or product_id are required")
	}

	if err := s.checkRateLimit(ctx, in.DeviceID); err != nil {
		return nil, err
	}

	product, err := s.resolveProduct(ctx, in)
	if err != nil {
		return nil, err
	}
	if product == nil || !product.IsActive {
		return nil, apperr.New(apperr.NotFound, "Product not found or is inactive")
	}

	if s.opts.BillingGated {
		if err := s.requireSubscription(ctx, in.DeviceID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	var activation *models.Activation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := database.FindActiveActivation(tx, in.DeviceID, product.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyActivated(http.StatusBadRequest).WithField("activation_id", existing.ID)
		}

		key, err := s.keys.Validate(tx, in.ProductKey, product.ID)
		if err != nil {
			return err
		}

		user, _, err := resolveUser(tx, "", in.DeviceID)
		if err != nil {
			return err
		}

		activation = &models.Activation{
			UserID:       user.ID,
			ProductID:    product.ID,
			DeviceID:     in.DeviceID,
			ProductKeyID: key.ID,
			ActivatedAt:  now,
			LastCheck:    now,
			IsActive:     true,
		}
		if err := database.CreateActivation(tx, activation); err != nil {
			if database.IsUniqueViolation(err) {
				return alreadyActivated(http.StatusConflict)
			}
			return err
		}

		if err := s.keys.MarkUsed(tx, key.ID, now); err != nil {
			return err
		}
		key.IsUsed = true
		key.UsedAt = &now
		activation.Product = product
		activation.ProductKey = key
		return nil
	})
	if err != nil {
		return nil, storeErr("activate", "Activation failed", err)
	}

	logging.Infof("Product %s activated on device %s (activation %s)", product.Name, in.DeviceID, activation.ID)
	return activation, nil
}

// Verify confirms an active activation for deviceID and productID and
// advances its last_check. A failed last_check update is logged only.
func (s *ActivationService) Verify(ctx context.Context, deviceID string, productID uuid.UUID) (*ActivationView, error) {
	view, err := s.verify(ctx, deviceID, productID)
	s.opts.Metrics.RecordVerification(err)
	return view, err
}

func (s *ActivationService) verify(ctx context.Context, deviceID string, productID uuid.UUID) (*ActivationView, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || productID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "device_id and product_id are required")
	}

	if s.opts.BillingGated {
		if err := s.requireSubscription(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	db := s.db.WithContext(ctx)
	activation, err := database.FindActiveActivation(db, deviceID, productID)
	if err != nil {
		return nil, storeErr("find activation", "Verification failed", err)
	}
	if activation == nil {
		return nil, apperr.New(apperr.NotFound, "No active activation found for this device and product")
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	rows, err := database.TouchLastCheck(db, activation.ID, now)
	if err != nil {
		logging.Warnf("Failed to update last_check for activation %s: %v", activation.ID, err)
	} else if rows > 0 {
		activation.LastCheck = now
	}

	view := &ActivationView{
		Product:     "N/A",
		Version:     "N/A",
		DeviceID:    activation.DeviceID,
		ActivatedAt: activation.ActivatedAt,
		LastCheck:   activation.LastCheck,
		Key:         "N/A",
	}
	if activation.Product != nil {
		view.Product = activation.Product.Name
		view.Version = activation.Product.Version
	}
	if activation.ProductKey != nil {
		view.Key = activation.ProductKey.KeyValue
	}
	return view, nil
}

// Deactivate ends activation id, freeing its (device, product) pair for a new
// activation. The redeemed key stays used.
func (s *ActivationService) Deactivate(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := database.DeactivateActivation(tx, id)
		if err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}
		existing, err := database.FindActivationByID(tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.New(apperr.NotFound, "Activation not found")
		}
		return apperr.New(apperr.Conflict, "Activation is already inactive").WithStatus(http.StatusBadRequest)
	})
	if err != nil {
		return storeErr("deactivate", "Failed to deactivate activation", err)
	}
	logging.Infof("Activation %s deactivated", id)
	return nil
}

func (s *ActivationService) resolveProduct(ctx context.Context, in ActivateInput) (*models.Product, error) {
	if in.ProductID != nil {
		return s.catalog.FindByID(ctx, *in.ProductID)
	}
	return s.catalog.FindByName(ctx, in.ProductName)
}

// checkRateLimit fails open when Redis is unavailable
func (s *ActivationService) checkRateLimit(ctx context.Context, deviceID string) error {
	if s.opts.Limiter == nil || s.opts.RateLimit <= 0 {
		return nil
	}
	ok, err := s.opts.Limiter.Allow(ctx, "activate", deviceID, s.opts.RateLimit, activationRateWindow)
	if err != nil {
		logging.Warnf("Activation rate limiter unavailable: %v", err)
		return nil
	}
	if !ok {
		return apperr.New(apperr.RateLimited, "Too many activation attempts, please try again later")
	}
	return nil
}

// requireSubscription checks the entitlement of the user registered for
// deviceID
func (s *ActivationService) requireSubscription(ctx context.Context, deviceID string) error {
	user, err := database.FindUserByDeviceID(s.db.WithContext(ctx), deviceID)
	if err != nil {
		return storeErr("find user", "Failed to check subscription", err)
	}
	if user == nil {
		return apperr.New(apperr.PaymentRequired, "Active subscription required")
	}
	entitled, err := s.subscriptions.IsEntitled(ctx, user.ID)
	if err != nil {
		return err
	}
	if !entitled {
		return apperr.New(apperr.PaymentRequired, "Active subscription required")
	}
	return nil
}

func alreadyActivated(status int) *apperr.Error {
	return apperr.New(apperr.Conflict, "Product already activated on this device").WithStatus(status)
}
