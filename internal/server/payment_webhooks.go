package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Provider callbacks land here. Redeliveries of an already processed event
// get the same 200 as the first delivery so providers stop retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ingestSvc.Ingest(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"new_balance": float64(result.NewBalanceMinor) / 100,
	})
}

func (s *Server) GetCompanyBalance(c *gin.Context) {
	companyID := strings.TrimSpace(c.Param("id"))
	if companyID == "" {
		AbortWithError(c, newValidationError("id", "required", "company id is required"))
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"company_id": companyID,
		"balance":    float64(balance) / 100,
	})
}
