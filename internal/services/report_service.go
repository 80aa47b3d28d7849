package services

import (
	"context"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Pagination bounds of the activation listing
const (
	DefaultActivationLimit = 100
	MaxActivationLimit     = 1000
)

const allProductsName = "All products"

// ReportService provides admin statistics and reports
type ReportService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReportService creates a new report service
func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db, now: time.Now}
}

// Stats are aggregate counts over the whole store
type Stats struct {
	TotalActivations    int64 `json:"total_activations"`
	UsedKeys            int64 `json:"used_keys"`
	UnusedKeys          int64 `json:"unused_keys"`
	TotalProducts       int64 `json:"total_products"`
	TotalUsers          int64 `json:"total_users"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
}

// Stats counts activations, keys, active products, users and active
// subscriptions concurrently
func (s *ReportService) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	used, unused := true, false
	now := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, fn func(db *gorm.DB) (int64, error)) {
		g.Go(func() error {
			n, err := fn(s.db.WithContext(gctx))
			*dst = n
			return err
		})
	}
	count(&stats.TotalActivations, func(db *gorm.DB) (int64, error) {
		return database.CountActivations(db, database.ActivationFilter{})
	})
	count(&stats.UsedKeys, func(db *gorm.DB) (int64, error) {
		return database.CountKeys(db, database.KeyFilter{Used: &used})
	})
	count(&stats.UnusedKeys, func(db *gorm.DB) (int64, error) {
		return database.CountKeys(db, database.KeyFilter{Used: &unused})
	})
	count(&stats.TotalProducts, database.CountActiveProducts)
	count(&stats.TotalUsers, database.CountUsers)
	count(&stats.ActiveSubscriptions, func(db *gorm.DB) (int64, error) {
		return database.CountActiveSubscriptions(db, now)
	})

	if err := g.Wait(); err != nil {
		return nil, storeErr("stats", "Failed to fetch statistics", err)
	}
	return &stats, nil
}

// ActivationRecord is one row of the admin activation listing
type ActivationRecord struct {
	ID             uuid.UUID `json:"id"`
	DeviceID       string    `json:"device_id"`
	ActivatedAt    time.Time `json:"activated_at"`
	LastCheck      time.Time `json:"last_check"`
	IsActive       bool      `json:"is_active"`
	KeyValue       string    `json:"key_value"`
	ProductName    string    `json:"product_name"`
	ProductVersion string    `json:"product_version"`
	UserEmail      *string   `json:"user_email,omitempty"`
	UserDeviceID   *string   `json:"user_device_id,omitempty"`
}

// ListActivations pages through activations newest first
func (s *ReportService) ListActivations(ctx context.Context, limit, offset int) ([]ActivationRecord, error) {
	if limit < 1 || limit > MaxActivationLimit || offset < 0 {
		return nil, apperr.New(apperr.InvalidInput, "limit must be between 1 and 1000 and offset must not be negative")
	}

	activations, err := database.ListActivations(s.db.WithContext(ctx), limit, offset)
	if err != nil {
		return nil, storeErr("list activations", "Failed to fetch activations", err)
	}

	records := make([]ActivationRecord, 0, len(activations))
	for _, a := range activations {
		record := ActivationRecord{
			ID:          a.ID,
			DeviceID:    a.DeviceID,
			ActivatedAt: a.ActivatedAt,
			LastCheck:   a.LastCheck,
			IsActive:    a.IsActive,
		}
		if a.ProductKey != nil {
			record.KeyValue = a.ProductKey.KeyValue
		}
		if a.Product != nil {
			record.ProductName = a.Product.Name
			record.ProductVersion = a.Product.Version
		}
		if a.User != nil {
			record.UserEmail = a.User.Email
			record.UserDeviceID = a.User.DeviceID
		}
		records = append(records, record)
	}
	return records, nil
}

// ReportFilter narrows the summary report. Until is exclusive.
type ReportFilter struct {
	ProductID *uuid.UUID
	Since     *time.Time
	Until     *time.Time
}

// Summary is the sales and activation report
type Summary struct {
	ProductName      string          `json:"product_name"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalActivations int64           `json:"total_activations"`
	UnusedKeys       int64           `json:"unused_keys"`
}

// Summary sums the product price of every matching activation and counts the
// remaining unused keys
func (s *ReportService) Summary(ctx context.Context, filter ReportFilter) (*Summary, error) {
	if filter.Since != nil && filter.Until != nil && !filter.Since.Before(*filter.Until) {
		return nil, apperr.New(apperr.InvalidInput, "start_date must be before end_date")
	}

	db := s.db.WithContext(ctx)
	report := &Summary{ProductName: allProductsName, TotalSales: decimal.Zero}

	if filter.ProductID != nil {
		product, err := database.FindProductByID(db, *filter.ProductID)
		if err != nil {
			return nil, storeErr("find product", "Failed to generate report", err)
		}
		if product != nil {
			report.ProductName = product.Name
		}
	}

	prices, err := database.ActivationPrices(db, database.ActivationFilter{
		ProductID: filter.ProductID,
		From:      filter.Since,
		To:        filter.Until,
	})
	if err != nil {
		return nil, storeErr("activation prices", "Failed to generate report", err)
	}
	for _, price := range prices {
		report.TotalSales = report.TotalSales.Add(price)
	}
	report.TotalActivations = int64(len(prices))

	unused := false
	report.UnusedKeys, err = database.CountKeys(db, database.KeyFilter{Used: &unused, ProductID: filter.ProductID})
	if err != nil {
		return nil, storeErr("count keys", "Failed to generate report", err)
	}
	return report, nil
}

// ParseReportDate parses an RFC 3339 timestamp or a YYYY-MM-DD date. For the
// end of a range the result is an exclusive bound: a bare date covers the
// whole day.
func ParseReportDate(value string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		if end {
			t = t.Add(time.Microsecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.InvalidInput, "Dates must be YYYY-MM-DD or RFC 3339", err)
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
