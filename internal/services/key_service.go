package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"regexp"
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

// Batch limits for key generation
const (
	MinKeyBatch = 1
	MaxKeyBatch = 100
)

const (
	keyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyGroups      = 3
	keyGroupLength = 6
	// largest multiple of len(keyAlphabet) that fits in a byte
	keyByteLimit        = 252
	maxGenerateAttempts = 3
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{6}-[A-Z0-9]{6}-[A-Z0-9]{6}$`)

// NormalizeKey canonicalizes user-entered key input
func NormalizeKey(keyValue string) string {
	return strings.ToUpper(strings.TrimSpace(keyValue))
}

// ValidKeyFormat reports whether keyValue looks like XXXXXX-XXXXXX-XXXXXX
func ValidKeyFormat(keyValue string) bool {
	return keyPattern.MatchString(NormalizeKey(keyValue))
}

// NewKey returns a random key. Every character is drawn uniformly from
// [A-Z0-9] by rejection sampling.
func NewKey() (string, error) {
	const total = keyGroups * keyGroupLength
	out := make([]byte, 0, total+keyGroups-1)
	buf := make([]byte, 32)
	n := 0
	for n < total {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= keyByteLimit {
				continue
			}
			if n > 0 && n%keyGroupLength == 0 {
				out = append(out, '-')
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			n++
			if n == total {
				break
			}
		}
	}
	return string(out), nil
}

// KeyService is the product key ledger
type KeyService struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	newKey  func() (string, error)
}

// NewKeyService creates a new key service
func NewKeyService(db *gorm.DB, m *metrics.Metrics) *KeyService {
	return &KeyService{db: db, metrics: m, newKey: NewKey}
}

// GenerateBatch creates count unused keys for productID. The batch is
// inserted atomically; a key collision regenerates the whole batch.
func (s *KeyService) GenerateBatch(ctx context.Context, productID uuid.UUID, count int, createdBy, notes string) ([]models.ProductKey, error) {
	if count < MinKeyBatch || count > MaxKeyBatch {
		return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("Key count must be between %d and %d", MinKeyBatch, MaxKeyBatch))
	}

	db := s.db.WithContext(ctx)
	product, err := database.FindProductByID(db, productID)
	if err != nil {
		return nil, storeErr("find product", "Failed to generate keys", err)
	}
	if product == nil {
		return nil, apperr.New(apperr.NotFound, "Product not found")
	}
	if strings.TrimSpace(notes) == "" {
		notes = fmt.Sprintf("Key for %s - created by %s", product.Name, createdBy)
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		keys, err := s.newBatch(product.ID, count, createdBy, notes)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "Failed to generate keys", err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			return database.CreateProductKeys(tx, keys)
		})
		if err == nil {
			s.metrics.AddKeysGenerated(len(keys))
			for i := range keys {
				keys[i].Product = product
			}
			return keys, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, storeErr("create product keys", "Failed to generate keys", err)
		}
		logging.Warnf("Product key collision on attempt %d for product %s, regenerating batch", attempt, product.ID)
	}

	return nil, apperr.New(apperr.Conflict, "Failed to generate unique keys, please retry")
}

func (s *KeyService) newBatch(productID uuid.UUID, count int, createdBy, notes string) ([]models.ProductKey, error) {
	seen := make(map[string]struct{}, count)
	keys := make([]models.ProductKey, 0, count)
	for len(keys) < count {
		value, err := s.newKey()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		keys = append(keys, models.ProductKey{
			KeyValue:  value,
			ProductID: productID,
			CreatedBy: createdBy,
			Notes:     notes,
		})
	}
	return keys, nil
}

// Validate returns the unused key keyValue of productID. tx should be the
// transaction that will redeem the key.
func (s *KeyService) Validate(tx *gorm.DB, keyValue string, productID uuid.UUID) (*models.ProductKey, error) {
	key, err := database.FindUnusedKey(tx, NormalizeKey(keyValue), productID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apperr.New(apperr.NotFound, "Invalid, used, or incorrect product key for this product")
	}
	return key, nil
}

// MarkUsed redeems keyID. A key already redeemed by a racing request fails
// Conflict.
func (s *KeyService) MarkUsed(tx *gorm.DB, keyID uuid.UUID, at time.Time) error {
	rows, err := database.MarkKeyUsed(tx, keyID, at)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.New(apperr.Conflict, "Product key was redeemed by another request")
	}
	return nil
}

// DeleteIfUnused removes keyValue. Used keys can never be deleted.
func (s *KeyService) DeleteIfUnused(ctx context.Context, keyValue string) error {
	keyValue = NormalizeKey(keyValue)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key, err := database.FindKeyByValue(tx, keyValue)
		if err != nil {
			return err
		}
		if key == nil {
			return apperr.New(apperr.NotFound, "Key not found")
		}
		if key.IsUsed {
			return usedKeyErr()
		}
		rows, err := database.DeleteUnusedKey(tx, keyValue)
		if err != nil {
			return err
		}
		if rows == 0 {
			return usedKeyErr()
		}
		return nil
	})
	return storeErr("delete key", "Failed to delete key", err)
}

// List returns every key with its product, newest first
func (s *KeyService) List(ctx context.Context) ([]models.ProductKey, error) {
	keys, err := database.ListKeys(s.db.WithContext(ctx))
	return keys, storeErr("list keys", "Failed to fetch keys", err)
}

func usedKeyErr() error {
	return apperr.New(apperr.Conflict, "Cannot delete used key").WithStatus(http.StatusBadRequest)
}
