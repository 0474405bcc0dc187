package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ingest/repository"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			company_id TEXT,
			amount_minor BIGINT,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT,
			received_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_event_id ON payment_events(provider, provider_event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

func newEvent(t *testing.T, node *snowflake.Node, providerEventID string, receivedAt time.Time) *domain.EventRecord {
	t.Helper()

	return &domain.EventRecord{
		ID:              node.Generate(),
		Provider:        domain.ProviderStripe,
		ProviderEventID: providerEventID,
		EventType:       "checkout.session.completed",
		CompanyID:       "C1",
		AmountMinor:     5000,
		Payload:         datatypes.JSON(`{"id":"evt_1"}`),
		Status:          domain.StatusReceived,
		ReceivedAt:      receivedAt,
	}
}

func TestFindEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()

	node, err := snowflake.NewNode(61)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	receivedAt := time.Now().UTC().Truncate(time.Second)
	event := newEvent(t, node, "evt_1", receivedAt)

	inserted, err := repo.InsertEvent(ctx, db, event)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report a new row")
	}

	got, err := repo.FindEvent(ctx, db, domain.ProviderStripe, "evt_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil {
		t.Fatal("expected event")
	}
	if got.ID != event.ID || got.AmountMinor != 5000 || got.Status != domain.StatusReceived {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("received_at = %v, want %v", got.ReceivedAt, receivedAt)
	}
	if got.ProcessedAt != nil {
		t.Fatalf("processed_at should be nil, got %v", got.ProcessedAt)
	}

	processedAt := receivedAt.Add(time.Second)
	if err := repo.MarkProcessed(ctx, db, event.ID, processedAt); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, err = repo.FindEvent(ctx, db, domain.ProviderStripe, "evt_1")
	if err != nil {
		t.Fatalf("find after processing: %v", err)
	}
	if got.Status != domain.StatusProcessed {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusProcessed)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(processedAt) {
		t.Fatalf("processed_at = %v, want %v", got.ProcessedAt, processedAt)
	}
}

func TestFindEventUnknownReturnsNil(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()

	got, err := repo.FindEvent(ctx, db, domain.ProviderStripe, "evt_missing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestInsertEventDuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := repository.Provide()

	node, err := snowflake.NewNode(62)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	receivedAt := time.Now().UTC().Truncate(time.Second)
	first := newEvent(t, node, "evt_dup", receivedAt)
	if _, err := repo.InsertEvent(ctx, db, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := newEvent(t, node, "evt_dup", receivedAt)
	inserted, err := repo.InsertEvent(ctx, db, second)
	if err != nil {
		t.Fatalf("redelivered insert: %v", err)
	}
	if inserted {
		t.Fatal("redelivered insert should not report a new row")
	}

	got, err := repo.FindEvent(ctx, db, domain.ProviderStripe, "evt_dup")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("lookup should return the original row, got %+v", got)
	}
}
