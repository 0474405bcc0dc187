package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type enqueueWebhookEventRequest struct {
	WebhookID string          `json:"webhook_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type webhookEventResponse struct {
	ID             snowflake.ID `json:"id"`
	WebhookID      snowflake.ID `json:"webhook_id"`
	EventType      string       `json:"event_type"`
	Status         string       `json:"status"`
	Attempts       int          `json:"attempts"`
	MaxAttempts    int          `json:"max_attempts"`
	ResponseStatus *int         `json:"response_status,omitempty"`
	ResponseBody   string       `json:"response_body,omitempty"`
	NextRetryAt    *time.Time   `json:"next_retry_at,omitempty"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (s *Server) EnqueueWebhookEvent(c *gin.Context) {
	var req enqueueWebhookEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	webhookID, err := parseSnowflakeParam(req.WebhookID)
	if err != nil {
		AbortWithError(c, newValidationError("webhook_id", "invalid_webhook_id", "webhook_id must be a valid id"))
		return
	}

	event, err := s.webhookSvc.Enqueue(c.Request.Context(), webhookID, strings.TrimSpace(req.EventType), req.Payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"event": webhookEventResponse{
			ID:          event.ID,
			WebhookID:   event.WebhookID,
			EventType:   event.EventType,
			Status:      event.Status,
			Attempts:    event.Attempts,
			MaxAttempts: event.MaxAttempts,
			CreatedAt:   event.CreatedAt,
		},
	})
}

func (s *Server) GetWebhookEvent(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "id must be a valid id"))
		return
	}

	event, err := s.webhookSvc.GetEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, webhookEventResponse{
		ID:             event.ID,
		WebhookID:      event.WebhookID,
		EventType:      event.EventType,
		Status:         event.Status,
		Attempts:       event.Attempts,
		MaxAttempts:    event.MaxAttempts,
		ResponseStatus: event.ResponseStatus,
		ResponseBody:   event.ResponseBody,
		NextRetryAt:    event.NextRetryAt,
		SentAt:         event.SentAt,
		CreatedAt:      event.CreatedAt,
	})
}

func parseSnowflakeParam(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidRequest
	}
	return snowflake.ParseString(raw)
}
