package services

import (
	"context"
	"strings"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RoleAdmin is the role claim carried by admin tokens
const RoleAdmin = "admin"

// AdminClaims are the claims of an admin bearer token
type AdminClaims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	jwt.RegisteredClaims
}

// AuthService authenticates admins and issues their tokens
type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(db *gorm.DB, secret string, ttl time.Duration) *AuthService {
	return &AuthService{db: db, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Login checks admin credentials and returns a signed token
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.Admin, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, apperr.New(apperr.InvalidInput, "Email and password required")
	}

	admin, err := database.FindAdminByEmail(s.db.WithContext(ctx), email)
	if err != nil {
		return "", nil, storeErr("find admin", "Server error during login", err)
	}
	if admin == nil {
		return "", nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}

	token, err := s.IssueToken(admin)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.Internal, "Server error during login", err)
	}
	return token, admin, nil
}

// IssueToken signs an admin token for admin
func (s *AuthService) IssueToken(admin *models.Admin) (string, error) {
	now := s.now()
	claims := AdminClaims{
		UserID:       admin.ID.String(),
		Email:        admin.Email,
		Role:         RoleAdmin,
		IsSuperAdmin: admin.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   admin.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken verifies an admin bearer token
func (s *AuthService) ParseToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Forbidden, "Invalid or expired token", err)
	}
	if claims.Role != RoleAdmin {
		return nil, apperr.New(apperr.Forbidden, "Admin access required")
	}
	return claims, nil
}
