package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/ingest/domain"
	pkgdb "github.com/crowdfield/eventcore/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// eventRow widens the timestamp columns so the lookup scans under every
// supported driver.
type eventRow struct {
	ID              snowflake.ID
	Provider        string
	ProviderEventID string
	EventType       string
	CompanyID       string
	AmountMinor     int64
	Payload         datatypes.JSON
	Status          string
	FailureReason   string
	ReceivedAt      pkgdb.Time
	ProcessedAt     pkgdb.Time
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var row eventRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, company_id, amount_minor,
			payload, status, failure_reason, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &domain.EventRecord{
		ID:              row.ID,
		Provider:        row.Provider,
		ProviderEventID: row.ProviderEventID,
		EventType:       row.EventType,
		CompanyID:       row.CompanyID,
		AmountMinor:     row.AmountMinor,
		Payload:         row.Payload,
		Status:          row.Status,
		FailureReason:   row.FailureReason,
		ReceivedAt:      row.ReceivedAt.Time,
		ProcessedAt:     row.ProcessedAt.Ptr(),
	}, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, company_id, amount_minor,
			payload, status, failure_reason, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.CompanyID,
		event.AmountMinor,
		event.Payload,
		event.Status,
		event.FailureReason,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET status = ?, processed_at = ?
		 WHERE id = ?`,
		domain.StatusProcessed,
		processedAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET status = ?, failure_reason = ?
		 WHERE id = ?`,
		domain.StatusFailed,
		reason,
		id,
	).Error
}
