package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	CompanyID       string         `json:"company_id" gorm:"type:text"`
	AmountMinor     int64          `json:"amount_minor"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Status          string         `json:"status" gorm:"type:text;not null"`
	FailureReason   string         `json:"failure_reason" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

const (
	ProviderStripe   = "stripe"
	ProviderPaystack = "paystack"
	ProviderManual   = "manual"
)

// ParsedEvent is the canonical inbound event produced by provider parsers.
type ParsedEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	CompanyID       string
	AmountMinor     int64
}

// Parser normalizes one provider's callback payloads. Verify checks the
// provider's signature scheme against the raw body; Parse extracts identity
// and settlement fields without touching I/O.
type Parser interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ParsedEvent, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
}

// Result is what a successful (or duplicate) ingestion reports back to the
// HTTP surface. NewBalanceMinor is the company balance after the credit.
type Result struct {
	EventID         snowflake.ID
	Provider        string
	ProviderEventID string
	NewBalanceMinor int64
	Duplicate       bool
}

type Service interface {
	Ingest(ctx context.Context, payload []byte, headers http.Header) (*Result, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMissingCompany   = errors.New("missing_company")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
