package manual

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/crowdfield/eventcore/internal/clock"
	"github.com/crowdfield/eventcore/internal/ingest/domain"
)

// Parser accepts operator-submitted payments. There is no signature scheme;
// the HTTP surface is expected to sit behind internal auth.
type Parser struct {
	clk clock.Clock
}

func New(clk clock.Clock) *Parser {
	return &Parser{clk: clk}
}

func (p *Parser) Provider() string { return domain.ProviderManual }

func (p *Parser) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (p *Parser) Parse(ctx context.Context, payload []byte) (*domain.ParsedEvent, error) {
	var event manualEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	reference := strings.TrimSpace(event.Reference)
	if reference == "" {
		reference = fmt.Sprintf("manual-%d", p.clk.Now().UnixNano())
	}

	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		eventType = "manual.payment"
	}

	return &domain.ParsedEvent{
		Provider:        domain.ProviderManual,
		ProviderEventID: reference,
		EventType:       eventType,
		CompanyID:       strings.TrimSpace(event.CompanyID),
		AmountMinor:     event.Amount,
	}, nil
}

type manualEvent struct {
	Reference string `json:"reference"`
	EventType string `json:"event_type"`
	CompanyID string `json:"company_id"`
	Amount    int64  `json:"amount"`
}
