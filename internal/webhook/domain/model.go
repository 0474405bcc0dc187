package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Event struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	WebhookID      snowflake.ID   `json:"webhook_id" gorm:"not null;index"`
	EventType      string         `json:"event_type" gorm:"type:text;not null"`
	Payload        datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Attempts       int            `json:"attempts" gorm:"not null"`
	MaxAttempts    int            `json:"max_attempts" gorm:"not null"`
	Status         string         `json:"status" gorm:"type:text;not null"`
	ResponseStatus *int           `json:"response_status"`
	ResponseBody   string         `json:"response_body" gorm:"type:text"`
	NextRetryAt    *time.Time     `json:"next_retry_at"`
	SentAt         *time.Time     `json:"sent_at"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`
}

func (Event) TableName() string { return "webhook_events" }

type Destination struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	CompanyID    string       `json:"company_id" gorm:"type:text;not null"`
	URL          string       `json:"url" gorm:"type:text;not null"`
	SecretKey    string       `json:"secret_key" gorm:"type:text;not null"`
	IsActive     bool         `json:"is_active" gorm:"not null"`
	MaxAttempts  int          `json:"max_attempts" gorm:"not null"`
	FailureCount int          `json:"failure_count" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Destination) TableName() string { return "webhook_destinations" }

const (
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusRetrying = "retrying"
	StatusFailed   = "failed"
)

const DefaultMaxAttempts = 8

// IsTerminal reports whether an event has reached a state no dispatch
// attempt may move it out of.
func IsTerminal(status string) bool {
	return status == StatusSent || status == StatusFailed
}

// DeliveryRecord is the outcome of one dispatch attempt, written back in a
// single guarded update.
type DeliveryRecord struct {
	Attempts       int
	Status         string
	ResponseStatus *int
	ResponseBody   string
	NextRetryAt    *time.Time
	SentAt         *time.Time
}

type Repository interface {
	GetEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	GetDestination(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Destination, error)
	Enqueue(ctx context.Context, db *gorm.DB, event *Event) error
	RecordOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, record DeliveryRecord) (bool, error)
	IncrementFailureCount(ctx context.Context, db *gorm.DB, destinationID snowflake.ID) error
	ResetFailureCount(ctx context.Context, db *gorm.DB, destinationID snowflake.ID) error
	FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}

// DispatchResult reports what a single attempt did. Terminal results with
// Delivered false mean the event exhausted its attempts or was failed fast.
type DispatchResult struct {
	EventID        snowflake.ID
	Status         string
	Attempts       int
	ResponseStatus *int
	Delivered      bool
	AlreadyFinal   bool
}

type Service interface {
	Dispatch(ctx context.Context, eventID snowflake.ID) (*DispatchResult, error)
	Enqueue(ctx context.Context, webhookID snowflake.ID, eventType string, payload json.RawMessage) (*Event, error)
	GetEvent(ctx context.Context, id snowflake.ID) (*Event, error)
}

var (
	ErrEventNotFound       = errors.New("event_not_found")
	ErrDestinationNotFound = errors.New("destination_not_found")
	ErrDestinationInactive = errors.New("destination_inactive")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrDeliveryFailed      = errors.New("delivery_failed")
	ErrAttemptsExhausted   = errors.New("attempts_exhausted")
)
