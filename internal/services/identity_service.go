package services

import (
	"context"
	"strings"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IdentityService maps {email, device_id} to a stable user record
type IdentityService struct {
	db *gorm.DB
}

// NewIdentityService creates a new identity service
func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{db: db}
}

// Register resolves the user for email and/or deviceID, creating one on
// first sight. It reports whether the user was created.
func (s *IdentityService) Register(ctx context.Context, email, deviceID string) (*models.User, bool, error) {
	email, deviceID = normalizeEmail(email), strings.TrimSpace(deviceID)
	if email == "" && deviceID == "" {
		return nil, false, apperr.New(apperr.InvalidInput, "Either email or device_id is required")
	}

	user, created, err := resolveUser(s.db.WithContext(ctx), email, deviceID)
	if err != nil {
		return nil, false, storeErr("resolve user", "Server error during registration", err)
	}
	return user, created, nil
}

// Resolve returns the id of the user for email and/or deviceID
func (s *IdentityService) Resolve(ctx context.Context, email, deviceID string) (uuid.UUID, error) {
	user, _, err := s.Register(ctx, email, deviceID)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// resolveUser looks a user up by email first, then by device id, and creates
// one with the supplied identifiers when neither matches. When email and
// device id match different users the email match wins. db may be a
// transaction.
func resolveUser(db *gorm.DB, email, deviceID string) (*models.User, bool, error) {
	if email == "" && deviceID == "" {
		return nil, false, apperr.New(apperr.InvalidInput, "Either email or device_id is required")
	}

	user, err := lookupUser(db, email, deviceID)
	if err != nil || user != nil {
		return user, false, err
	}

	user = &models.User{}
	if email != "" {
		user.Email = &email
	}
	if deviceID != "" {
		user.DeviceID = &deviceID
	}
	created, err := database.CreateUserIfAbsent(db, user)
	if err != nil {
		return nil, false, err
	}
	if created {
		return user, true, nil
	}

	// a concurrent request inserted the same identity first
	user, err = lookupUser(db, email, deviceID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, apperr.New(apperr.Conflict, "User identity conflicts with an existing user")
	}
	return user, false, nil
}

func lookupUser(db *gorm.DB, email, deviceID string) (*models.User, error) {
	if email != "" {
		user, err := database.FindUserByEmail(db, email)
		if err != nil || user != nil {
			return user, err
		}
	}
	if deviceID != "" {
		return database.FindUserByDeviceID(db, deviceID)
	}
	return nil, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
