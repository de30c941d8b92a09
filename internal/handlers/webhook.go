package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/services"
	"github.com/stylistio/tryon-backend/internal/utils"
)

// WebhookHandler receives job state reports from the try-on runner. The
// runner authenticates with a shared secret header, not a user token.
type WebhookHandler struct {
	log         *logger.Logger
	generations services.GenerationService
	secret      string
}

func NewWebhookHandler(log *logger.Logger, generations services.GenerationService) *WebhookHandler {
	return &WebhookHandler{
		log:         log.With("handler", "WebhookHandler"),
		generations: generations,
		secret:      utils.GetEnv("VERTEX_WEBHOOK_SECRET", "", log),
	}
}

type webhookBody struct {
	GenerationID string `json:"generation_id"`
	JobID        string `json:"job_id"`
	State        string `json:"state"`
	ResultPath   string `json:"result_path"`
	Error        string `json:"error"`
}

// POST /vertex/webhook
func (h *WebhookHandler) JobUpdate(c *gin.Context) {
	if h.secret == "" {
		RespondError(c, http.StatusServiceUnavailable, "webhook_disabled", errors.New("webhook secret not configured"))
		return
	}
	provided := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid webhook secret"))
		return
	}

	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid request body", err))
		return
	}
	genID, err := uuid.Parse(body.GenerationID)
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid generation_id", err))
		return
	}

	gen, err := h.generations.ApplyJobUpdate(c.Request.Context(), nil, services.JobUpdate{
		GenerationID: genID,
		State:        body.State,
		ResultPath:   body.ResultPath,
		ErrorReason:  body.Error,
	})
	if err != nil {
		h.log.Error("Failed to apply job update", "generation_id", body.GenerationID, "state", body.State, "error", err)
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"id": gen.ID, "status": gen.Status})
}
