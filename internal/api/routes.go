package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"activation-api/internal/apperr"
	"activation-api/internal/middleware"
	"activation-api/internal/response"
	"activation-api/internal/services"
	"activation-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Services are the collaborators of the HTTP handlers
type Services struct {
	Identity      *services.IdentityService
	Catalog       *services.CatalogService
	Keys          *services.KeyService
	Activations   *services.ActivationService
	Subscriptions *services.SubscriptionService
	Reports       *services.ReportService
	Auth          *services.AuthService
	Webhooks      *services.WebhookVerifier
}

// Handler serves the HTTP API
type Handler struct {
	svc          Services
	storeTimeout time.Duration
}

// NewHandler creates a handler. storeTimeout bounds every store-touching
// request.
func NewHandler(svc Services, storeTimeout time.Duration) *Handler {
	return &Handler{svc: svc, storeTimeout: storeTimeout}
}

var registerValidators sync.Once

// SetupRoutes sets up all routes. metrics may be nil.
func SetupRoutes(r *gin.Engine, h *Handler, metrics http.Handler) {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("productkey", func(fl validator.FieldLevel) bool {
				return services.ValidKeyFormat(fl.Field().String())
			})
		}
	})

	// Client routes (no authentication required)
	r.POST("/register", h.Register)
	r.GET("/products", h.ListProducts)
	r.POST("/activate", h.Activate)
	r.POST("/verify", h.Verify)
	r.GET("/subscription/status", h.GetSubscriptionStatus)

	// Billing processor calls this, authenticated by signature
	r.POST("/webhook", h.BillingWebhook)

	r.POST("/admin/login", h.AdminLogin)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(h.svc.Auth))
	{
		admin.POST("/keys", h.CreateKeys)
		admin.GET("/keys", h.ListKeys)
		admin.DELETE("/keys/:key_value", h.DeleteKey)

		admin.POST("/products", h.CreateProduct)
		admin.GET("/products", h.ListAllProducts)
		admin.GET("/products/:id", h.GetProduct)
		admin.PUT("/products/:id", h.UpdateProduct)
		admin.PUT("/products/:id/toggle-status", h.ToggleProductStatus)

		admin.GET("/stats", h.GetStats)
		admin.GET("/activations", h.ListActivations)
		admin.PUT("/activations/:id/deactivate", h.DeactivateActivation)
		admin.GET("/reports/summary", h.GetReportSummary)
	}

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": "Activation API running!",
		})
	})
}

// opContext derives the context of a store operation: detached from client
// cancellation and bounded by the store timeout.
func (h *Handler) opContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.storeTimeout)
}

// bindJSON decodes the request body into req. Validation failures report
// message, except malformed product keys.
func bindJSON(c *gin.Context, req interface{}, message string) error {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "productkey" {
				return apperr.Wrap(apperr.InvalidInput, "Invalid product key format", err)
			}
		}
		return apperr.Wrap(apperr.InvalidInput, message, err)
	}
	return apperr.Wrap(apperr.InvalidInput, "Invalid request format", err)
}

// parseID parses a uuid path or body value
func parseID(value, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.InvalidInput, name+" must be a valid UUID", err)
	}
	return id, nil
}

// fail writes err, logging the cause of server-side failures
func fail(c *gin.Context, op string, err error) {
	if status := apperr.StatusOf(err); status >= http.StatusInternalServerError {
		logging.Errorf("%s failed: %v", op, err)
	} else {
		logging.Debugf("%s rejected: %v", op, err)
	}
	response.Fail(c, err)
}
