package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"
	"activation-api/internal/models"
	"activation-api/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	activeProductsCacheKey = "catalog:active"
	defaultProductVersion  = "1.0"
)

// CatalogService manages products and the public catalog
type CatalogService struct {
	db       *gorm.DB
	cache    *RedisService
	cacheTTL time.Duration
}

// NewCatalogService creates a catalog service. cache may be nil.
func NewCatalogService(db *gorm.DB, cache *RedisService, cacheTTL time.Duration) *CatalogService {
	return &CatalogService{db: db, cache: cache, cacheTTL: cacheTTL}
}

// ProductInput carries the editable fields of a product
type ProductInput struct {
	Name        string
	Version     string
	Price       *decimal.Decimal
	Description string
	IsActive    *bool
}

func (in *ProductInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Version = strings.TrimSpace(in.Version)
	if in.Name == "" || in.Price == nil {
		return apperr.New(apperr.InvalidInput, "Product name and price are required")
	}
	if in.Price.IsNegative() {
		return apperr.New(apperr.InvalidInput, "Price must be a non-negative number")
	}
	return nil
}

// FindByName returns the active product named name, or nil
func (s *CatalogService) FindByName(ctx context.Context, name string) (*models.Product, error) {
	product, err := database.FindActiveProductByName(s.db.WithContext(ctx), strings.TrimSpace(name))
	return product, storeErr("find product by name", "Failed to fetch product", err)
}

// FindByID returns the product with id whether active or not, or nil
func (s *CatalogService) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := database.FindProductByID(s.db.WithContext(ctx), id)
	return product, storeErr("find product", "Failed to fetch product", err)
}

// ListActive returns the public catalog ordered by name
func (s *CatalogService) ListActive(ctx context.Context) ([]models.ProductSummary, error) {
	if s.cache != nil {
		var cached []models.ProductSummary
		hit, err := s.cache.GetJSON(ctx, activeProductsCacheKey, &cached)
		if err != nil {
			logging.Warnf("Product cache read failed: %v", err)
		} else if hit {
			return cached, nil
		}
	}

	products, err := database.ListActiveProducts(s.db.WithContext(ctx))
	if err != nil {
		return nil, storeErr("list active products", "Failed to fetch products", err)
	}
	summaries := make([]models.ProductSummary, 0, len(products))
	for i := range products {
		summaries = append(summaries, products[i].Summary())
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, activeProductsCacheKey, summaries, s.cacheTTL); err != nil {
			logging.Warnf("Product cache write failed: %v", err)
		}
	}
	return summaries, nil
}

// ListAll returns every product ordered by name
func (s *CatalogService) ListAll(ctx context.Context) ([]models.Product, error) {
	products, err := database.ListProducts(s.db.WithContext(ctx))
	return products, storeErr("list products", "Failed to fetch products", err)
}

// Create adds a product. New products are active unless stated otherwise.
func (s *CatalogService) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:        in.Name,
		Version:     in.Version,
		Price:       in.Price.Round(2),
		Description: in.Description,
		IsActive:    true,
	}
	if product.Version == "" {
		product.Version = defaultProductVersion
	}
	if in.IsActive != nil {
		product.IsActive = *in.IsActive
	}

	if err := database.CreateProduct(s.db.WithContext(ctx), product); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, duplicateProductName(product.Name)
		}
		return nil, storeErr("create product", "Failed to add product", err)
	}
	s.invalidate(ctx)
	return product, nil
}

// Update replaces the editable fields of product id
func (s *CatalogService) Update(ctx context.Context, id uuid.UUID, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":        in.Name,
		"price":       in.Price.Round(2),
		"description": in.Description,
	}
	if in.Version != "" {
		updates["version"] = in.Version
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}

	product, err := s.update(ctx, id, updates, "Failed to update product")
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, duplicateProductName(in.Name)
		}
		return nil, err
	}
	return product, nil
}

// SetActive shows or hides product id in the catalog
func (s *CatalogService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.Product, error) {
	product, err := s.update(ctx, id, map[string]interface{}{"is_active": active}, "Failed to toggle product status")
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "Another active product already uses this name")
		}
		return nil, err
	}
	return product, nil
}

func (s *CatalogService) update(ctx context.Context, id uuid.UUID, updates map[string]interface{}, message string) (*models.Product, error) {
	var product *models.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := database.FindProductByID(tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.New(apperr.NotFound, "Product not found")
		}
		if _, err := database.UpdateProduct(tx, id, updates); err != nil {
			return err
		}
		product, err = database.FindProductByID(tx, id)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, err
		}
		return nil, storeErr("update product", message, err)
	}
	s.invalidate(ctx)
	return product, nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, activeProductsCacheKey); err != nil {
		logging.Warnf("Product cache invalidation failed: %v", err)
	}
}

func duplicateProductName(name string) error {
	return apperr.New(apperr.Conflict, fmt.Sprintf("An active product named %q already exists", name))
}
