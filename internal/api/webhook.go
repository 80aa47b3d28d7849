package api

import (
	"encoding/json"
	"io"
	"net/http"

	"activation-api/internal/apperr"
	"activation-api/internal/models"
	"activation-api/internal/services"
	"activation-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps the size of a billing event
const maxWebhookBody = 1 << 20

// BillingWebhook receives signed billing events
// POST /webhook
func (h *Handler) BillingWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		fail(c, "webhook", apperr.Wrap(apperr.InvalidInput, "Failed to read request body", err))
		return
	}
	if len(body) == 0 || len(body) > maxWebhookBody {
		fail(c, "webhook", apperr.New(apperr.InvalidInput, "Invalid request body"))
		return
	}

	if err := h.svc.Webhooks.Verify(body, c.GetHeader(services.SignatureHeader)); err != nil {
		logging.Warnf("Webhook signature verification failed: %v", err)
		fail(c, "webhook", err)
		return
	}

	var event models.BillingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		fail(c, "webhook", apperr.Wrap(apperr.InvalidInput, "Invalid event format", err))
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()

	outcome, err := h.svc.Subscriptions.HandleEvent(ctx, &event)
	if err != nil {
		fail(c, "webhook", err)
		return
	}
	logging.Debugf("Webhook event %s handled: %s", event.ID, outcome)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
