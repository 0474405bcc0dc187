package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/webhook/domain"
	pkgdb "github.com/crowdfield/eventcore/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// eventRow and destinationRow widen the timestamp columns so lookups scan
// under every supported driver.
type eventRow struct {
	ID             snowflake.ID
	WebhookID      snowflake.ID
	EventType      string
	Payload        datatypes.JSON
	Attempts       int
	MaxAttempts    int
	Status         string
	ResponseStatus *int
	ResponseBody   string
	NextRetryAt    pkgdb.Time
	SentAt         pkgdb.Time
	CreatedAt      pkgdb.Time
	UpdatedAt      pkgdb.Time
}

type destinationRow struct {
	ID           snowflake.ID
	CompanyID    string
	URL          string
	SecretKey    string
	IsActive     bool
	MaxAttempts  int
	FailureCount int
	CreatedAt    pkgdb.Time
	UpdatedAt    pkgdb.Time
}

func (r *repo) GetEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var row eventRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, webhook_id, event_type, payload, attempts, max_attempts, status,
			response_status, response_body, next_retry_at, sent_at, created_at, updated_at
		 FROM webhook_events
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &domain.Event{
		ID:             row.ID,
		WebhookID:      row.WebhookID,
		EventType:      row.EventType,
		Payload:        row.Payload,
		Attempts:       row.Attempts,
		MaxAttempts:    row.MaxAttempts,
		Status:         row.Status,
		ResponseStatus: row.ResponseStatus,
		ResponseBody:   row.ResponseBody,
		NextRetryAt:    row.NextRetryAt.Ptr(),
		SentAt:         row.SentAt.Ptr(),
		CreatedAt:      row.CreatedAt.Time,
		UpdatedAt:      row.UpdatedAt.Time,
	}, nil
}

func (r *repo) GetDestination(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Destination, error) {
	var row destinationRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, url, secret_key, is_active, max_attempts, failure_count, created_at, updated_at
		 FROM webhook_destinations
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &domain.Destination{
		ID:           row.ID,
		CompanyID:    row.CompanyID,
		URL:          row.URL,
		SecretKey:    row.SecretKey,
		IsActive:     row.IsActive,
		MaxAttempts:  row.MaxAttempts,
		FailureCount: row.FailureCount,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}, nil
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, webhook_id, event_type, payload, attempts, max_attempts, status,
			response_status, response_body, next_retry_at, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.WebhookID,
		event.EventType,
		event.Payload,
		event.Attempts,
		event.MaxAttempts,
		event.Status,
		event.ResponseStatus,
		event.ResponseBody,
		event.NextRetryAt,
		event.SentAt,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

// RecordOutcome writes an attempt's result. The status guard keeps sent and
// failed sticky: an update racing a terminal transition affects zero rows.
func (r *repo) RecordOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, record domain.DeliveryRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET attempts = ?, status = ?, response_status = ?, response_body = ?,
			 next_retry_at = ?, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		record.Attempts,
		record.Status,
		record.ResponseStatus,
		record.ResponseBody,
		record.NextRetryAt,
		record.SentAt,
		time.Now().UTC(),
		id,
		domain.StatusPending,
		domain.StatusRetrying,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementFailureCount(ctx context.Context, db *gorm.DB, destinationID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_destinations
		 SET failure_count = failure_count + 1, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		destinationID,
	).Error
}

func (r *repo) ResetFailureCount(ctx context.Context, db *gorm.DB, destinationID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_destinations
		 SET failure_count = 0, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		destinationID,
	).Error
}

func (r *repo) FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id
		 FROM webhook_events
		 WHERE status = ? OR (status = ? AND next_retry_at <= ?)
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusPending,
		domain.StatusRetrying,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
