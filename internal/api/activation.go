package api

import (
	"net/http"
	"strings"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/response"
	"activation-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRequest represents register request
type RegisterRequest struct {
	Email    string `json:"email" binding:"omitempty,email,max=320"`
	DeviceID string `json:"device_id" binding:"omitempty,max=255"`
}

// Register resolves or creates the user for an email and/or device id
// POST /register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := bindJSON(c, &req, "Either email or device_id is required"); err != nil {
		fail(c, "register", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	user, created, err := h.svc.Identity.Register(ctx, req.Email, req.DeviceID)
	if err != nil {
		fail(c, "register", err)
		return
	}

	status, message := http.StatusOK, "User already registered"
	if created {
		status, message = http.StatusCreated, "User registered successfully!"
	}
	response.JSON(c, status, response.Body(true, message, gin.H{
		"user_id": user.ID,
		"user": gin.H{
			"email":     user.Email,
			"device_id": user.DeviceID,
		},
	}))
}

// ListProducts lists the active catalog
// GET /products
func (h *Handler) ListProducts(c *gin.Context) {
	ctx, cancel := h.opContext(c)
	defer cancel()

	products, err := h.svc.Catalog.ListActive(ctx)
	if err != nil {
		fail(c, "list products", err)
		return
	}
	response.SuccessJSON(c, "success", gin.H{"products": products})
}

// ActivateRequest represents activate request
type ActivateRequest struct {
	ProductKey  string `json:"product_key" binding:"required,productkey"`
	DeviceID    string `json:"device_id" binding:"required,max=255"`
	ProductName string `json:"product_name"`
	ProductID   string `json:"product_id"`
}

// Activate redeems a product key on a device
// POST /activate
func (h *Handler) Activate(c *gin.Context) {
	const missing = "product_key, device_id, and product_name or product_id are required"

	var req ActivateRequest
	if err := bindJSON(c, &req, missing); err != nil {
		fail(c, "activate", err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" && strings.TrimSpace(req.ProductName) == "" {
		fail(c, "activate", apperr.New(apperr.InvalidInput, missing))
		return
	}

	in := services.ActivateInput{
		ProductKey:  req.ProductKey,
		DeviceID:    req.DeviceID,
		ProductName: req.ProductName,
	}
	if req.ProductID != "" {
		id, err := parseID(req.ProductID, "product_id")
		if err != nil {
			fail(c, "activate", err)
			return
		}
		in.ProductID = &id
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	activation, err := h.svc.Activations.Activate(ctx, in)
	if err != nil {
		fail(c, "activate", err)
		return
	}

	response.CreatedJSON(c, "Product activated successfully!", gin.H{
		"activation_id": activation.ID,
		"product":       activation.Product.Name,
		"version":       activation.Product.Version,
		"device_id":     activation.DeviceID,
		"activated_at":  activation.ActivatedAt,
	})
}

// VerifyRequest represents verify request
type VerifyRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
}

// Verify checks that a product is activated on a device
// POST /verify
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := bindJSON(c, &req, "device_id and product_id are required"); err != nil {
		fail(c, "verify", err)
		return
	}
	productID, err := parseID(req.ProductID, "product_id")
	if err != nil {
		fail(c, "verify", err)
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	view, err := h.svc.Activations.Verify(ctx, req.DeviceID, productID)
	if err != nil {
		fail(c, "verify", err)
		return
	}
	response.SuccessJSON(c, "Activation is valid", gin.H{"activation": view})
}

// GetSubscriptionStatus reports the latest subscription of a user
// GET /subscription/status?user_id=xxx
func (h *Handler) GetSubscriptionStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		fail(c, "subscription status", apperr.New(apperr.InvalidInput, "user_id is required"))
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	sub, err := h.svc.Subscriptions.Status(ctx, userID)
	if err != nil {
		fail(c, "subscription status", err)
		return
	}
	if sub == nil {
		response.SuccessJSON(c, "No subscription found", gin.H{
			"is_active": false,
			"status":    "inactive",
		})
		return
	}

	response.SuccessJSON(c, "success", gin.H{
		"is_active":  sub.IsEntitled(time.Now()),
		"status":     sub.Status,
		"expires_at": sub.CurrentPeriodEnd,
	})
}
