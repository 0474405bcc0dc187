package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ingest/providers/meta"
)

type Parser struct {
	webhookSecret string
	skipVerify    bool
}

func New(webhookSecret string, skipVerify bool) *Parser {
	return &Parser{
		webhookSecret: strings.TrimSpace(webhookSecret),
		skipVerify:    skipVerify,
	}
}

func (p *Parser) Provider() string { return domain.ProviderPaystack }

// Verify checks Paystack's scheme: HMAC-SHA512 of the raw body with the
// account secret, hex encoded in X-Paystack-Signature.
func (p *Parser) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if p.skipVerify {
		return nil
	}
	if p.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}

	signature := strings.TrimSpace(headers.Get("X-Paystack-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(p.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (p *Parser) Parse(ctx context.Context, payload []byte) (*domain.ParsedEvent, error) {
	var event paystackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	eventID := strings.TrimSpace(event.Data.ID.String())
	if eventID == "" || eventID == "0" {
		eventID = strings.TrimSpace(event.Event)
	}
	if eventID == "" {
		return nil, domain.ErrInvalidEvent
	}

	return &domain.ParsedEvent{
		Provider:        domain.ProviderPaystack,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(event.Event),
		CompanyID:       meta.ReadString(event.Data.Metadata, "company_id"),
		AmountMinor:     event.Data.Amount,
	}, nil
}

type paystackEvent struct {
	Event string       `json:"event"`
	Data  paystackData `json:"data"`
}

type paystackData struct {
	ID       json.Number    `json:"id"`
	Amount   int64          `json:"amount"`
	Metadata map[string]any `json:"metadata"`
}
