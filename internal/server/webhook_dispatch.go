package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/crowdfield/eventcore/internal/webhook/domain"
)

type dispatchWebhookRequest struct {
	EventID string `json:"event_id"`
}

// DispatchWebhookEvent runs one delivery attempt synchronously. A delivery
// that fails but leaves the event retryable is reported as a server error so
// callers know the attempt did not land; the sweeper picks it up later.
func (s *Server) DispatchWebhookEvent(c *gin.Context) {
	var req dispatchWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	eventID, err := parseSnowflakeParam(req.EventID)
	if err != nil {
		AbortWithError(c, newValidationError("event_id", "invalid_event_id", "event_id must be a valid id"))
		return
	}

	result, err := s.webhookSvc.Dispatch(c.Request.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, webhookdomain.ErrDestinationNotFound),
			errors.Is(err, webhookdomain.ErrDestinationInactive):
			AbortWithError(c, err)
		case errors.Is(err, webhookdomain.ErrDeliveryFailed),
			errors.Is(err, webhookdomain.ErrAttemptsExhausted):
			c.JSON(http.StatusInternalServerError, gin.H{
				"success":  false,
				"status":   result.Status,
				"attempts": result.Attempts,
			})
		default:
			AbortWithError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"status":   result.Status,
		"attempts": result.Attempts,
	})
}
