package api

import (
	"fmt"
	"strconv"

	"activation-api/internal/apperr"
	"activation-api/internal/middleware"
	"activation-api/internal/response"
	"activation-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// LoginRequest represents admin login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin exchanges admin credentials for a bearer token
// POST /admin/login
func (h *Handler) AdminLogin(c *gin.Context) {
	var req LoginRequest
	if err := bindJSON(c, &req, "Email and password required"); err != nil {
		fail(c, "admin login", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	token, admin, err := h.svc.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		fail(c, "admin login", err)
		return
	}
	response.SuccessJSON(c, "Admin login successful!", gin.H{
		"token": token,
		"user": gin.H{
			"email":          admin.Email,
			"name":           admin.Name,
			"is_super_admin": admin.IsSuperAdmin,
		},
	})
}

// CreateKeysRequest represents create keys request
type CreateKeysRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Count     int    `json:"count"`
	Notes     string `json:"notes" binding:"max=1000"`
}

// CreateKeys generates a batch of product keys
// POST /admin/keys
func (h *Handler) CreateKeys(c *gin.Context) {
	var req CreateKeysRequest
	if err := bindJSON(c, &req, "Product ID is required"); err != nil {
		fail(c, "create keys", err)
		return
	}
	productID, err := parseID(req.ProductID, "product_id")
	if err != nil {
		fail(c, "create keys", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	keys, err := h.svc.Keys.GenerateBatch(ctx, productID, req.Count, middleware.AdminEmail(c), req.Notes)
	if err != nil {
		fail(c, "create keys", err)
		return
	}

	out := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		out = append(out, gin.H{
			"id":         k.ID,
			"key_value":  k.KeyValue,
			"product_id": k.ProductID,
		})
	}
	response.CreatedJSON(c, fmt.Sprintf("Generated %d key(s) successfully!", len(keys)), gin.H{"keys": out})
}

// ListKeys lists all keys with their product
// GET /admin/keys
func (h *Handler) ListKeys(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	keys, err := h.svc.Keys.List(ctx)
	if err != nil {
		fail(c, "list keys", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"keys": keys})
}

// DeleteKey deletes an unused key
// DELETE /admin/keys/:key_value
func (h *Handler) DeleteKey(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	if err := h.svc.Keys.DeleteIfUnused(ctx, c.Param("key_value")); err != nil {
		fail(c, "delete key", err)
		return
	}
	response.SuccessJSON(c, "Key deleted successfully!", nil)
}

// ProductRequest represents create/update product request
type ProductRequest struct {
	Name        string           `json:"name" binding:"required,max=255"`
	Version     string           `json:"version" binding:"max=50"`
	Price       *decimal.Decimal `json:"price" binding:"required"`
	Description string           `json:"description"`
	IsActive    *bool            `json:"is_active"`
}

func (r ProductRequest) input() services.ProductInput {
	return services.ProductInput{
		Name:        r.Name,
		Version:     r.Version,
		Price:       r.Price,
		Description: r.Description,
		IsActive:    r.IsActive,
	}
}

// CreateProduct adds a product
// POST /admin/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := bindJSON(c, &req, "Product name and price are required"); err != nil {
		fail(c, "create product", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	product, err := h.svc.Catalog.Create(ctx, req.input())
	if err != nil {
		fail(c, "create product", err)
		return
	}
	response.CreatedJSON(c, "Product added successfully!", gin.H{"product": product})
}

// ListAllProducts lists active and inactive products
// GET /admin/products
func (h *Handler) ListAllProducts(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	products, err := h.svc.Catalog.ListAll(ctx)
	if err != nil {
		fail(c, "list products", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"products": products})
}

// GetProduct returns one product
// GET /admin/products/:id
func (h *Handler) GetProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		fail(c, "get product", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	product, err := h.svc.Catalog.FindByID(ctx, id)
	if err != nil {
		fail(c, "get product", err)
		return
	}
	if product == nil {
		fail(c, "get product", apperr.New(apperr.NotFound, "Product not found"))
		return
	}
	response.SuccessJSON(c, "success", gin.H{"product": product})
}

// UpdateProduct replaces a product's editable fields
// PUT /admin/products/:id
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		fail(c, "update product", err)
		return
	}
	var req ProductRequest
	if err := bindJSON(c, &req, "Product name and price are required"); err != nil {
		fail(c, "update product", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	product, err := h.svc.Catalog.Update(ctx, id, req.input())
	if err != nil {
		fail(c, "update product", err)
		return
	}
	response.SuccessJSON(c, "Product updated successfully!", gin.H{"product": product})
}

// ToggleStatusRequest represents toggle product status request
type ToggleStatusRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// ToggleProductStatus shows or hides a product
// PUT /admin/products/:id/toggle-status
func (h *Handler) ToggleProductStatus(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		fail(c, "toggle product status", err)
		return
	}
	var req ToggleStatusRequest
	if err := bindJSON(c, &req, "is_active must be a boolean value"); err != nil {
		fail(c, "toggle product status", apperr.Wrap(apperr.InvalidInput, "is_active must be a boolean value", err))
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	product, err := h.svc.Catalog.SetActive(ctx, id, *req.IsActive)
	if err != nil {
		fail(c, "toggle product status", err)
		return
	}

	state := "inactive"
	if product.IsActive {
		state = "active"
	}
	response.SuccessJSON(c, fmt.Sprintf("Product status updated to %s!", state), gin.H{
		"product": gin.H{
			"id":        product.ID,
			"name":      product.Name,
			"is_active": product.IsActive,
		},
	})
}

// GetStats returns aggregate counts
// GET /admin/stats
func (h *Handler) GetStats(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	stats, err := h.svc.Reports.Stats(ctx)
	if err != nil {
		fail(c, "stats", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"stats": stats})
}

// ListActivations pages through activations
// GET /admin/activations?limit=100&offset=0
func (h *Handler) ListActivations(c *gin.Context) {
	limit, err := queryInt(c, "limit", services.DefaultActivationLimit)
	if err != nil {
		fail(c, "list activations", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		fail(c, "list activations", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	activations, err := h.svc.Reports.ListActivations(ctx, limit, offset)
	if err != nil {
		fail(c, "list activations", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"activations": activations})
}

// DeactivateActivation ends an activation
// PUT /admin/activations/:id/deactivate
func (h *Handler) DeactivateActivation(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		fail(c, "deactivate", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	if err := h.svc.Activations.Deactivate(ctx, id); err != nil {
		fail(c, "deactivate", err)
		return
	}
	response.SuccessJSON(c, "Activation deactivated successfully!", nil)
}

// GetReportSummary returns sales and activation totals
// GET /admin/reports/summary?product_id=&start_date=&end_date=
func (h *Handler) GetReportSummary(c *gin.Context) {
	var filter services.ReportFilter
	if v := c.Query("product_id"); v != "" {
		id, err := parseID(v, "product_id")
		if err != nil {
			fail(c, "report summary", err)
			return
		}
		filter.ProductID = &id
	}
	if v := c.Query("start_date"); v != "" {
		t, err := services.ParseReportDate(v, false)
		if err != nil {
			fail(c, "report summary", err)
			return
		}
		filter.Since = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := services.ParseReportDate(v, true)
		if err != nil {
			fail(c, "report summary", err)
			return
		}
		filter.Until = &t
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	report, err := h.svc.Reports.Summary(ctx, filter)
	if err != nil {
		fail(c, "report summary", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"report": report})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Wrap(apperr.InvalidInput, name+" must be an integer", err)
	}
	return n, nil
}
