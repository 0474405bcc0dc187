package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
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

func (p *Parser) Provider() string { return domain.ProviderStripe }

func (p *Parser) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if p.skipVerify {
		return nil
	}
	if p.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}

	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (p *Parser) Parse(ctx context.Context, payload []byte) (*domain.ParsedEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var object stripeObject
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}

	amount := object.AmountTotal
	if amount == 0 {
		amount = object.Amount
	}

	return &domain.ParsedEvent{
		Provider:        domain.ProviderStripe,
		ProviderEventID: strings.TrimSpace(event.ID),
		EventType:       strings.TrimSpace(event.Type),
		CompanyID:       meta.ReadString(object.Metadata, "company_id"),
		AmountMinor:     amount,
	}, nil
}

type stripeEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeObject struct {
	ID          string         `json:"id"`
	AmountTotal int64          `json:"amount_total"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata"`
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
