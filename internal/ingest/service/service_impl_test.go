package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/clock"
	ingestdomain "github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ingest/providers"
	"github.com/crowdfield/eventcore/internal/ingest/providers/manual"
	"github.com/crowdfield/eventcore/internal/ingest/providers/paystack"
	"github.com/crowdfield/eventcore/internal/ingest/providers/stripe"
	ingestrepo "github.com/crowdfield/eventcore/internal/ingest/repository"
	ingestservice "github.com/crowdfield/eventcore/internal/ingest/service"
	ledgerservice "github.com/crowdfield/eventcore/internal/ledger/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	stripeSecret   = "whsec_test"
	paystackSecret = "sk_test"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	// Single connection: sqlite's shared-cache locking is not the
	// concurrency model under test, the unique index is.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`PRAGMA busy_timeout = 5000`,
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
		`CREATE TABLE ledger_credits (
			id BIGINT PRIMARY KEY,
			company_id TEXT NOT NULL,
			amount_minor BIGINT NOT NULL,
			reference TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_ledger_credits_reference ON ledger_credits(reference)`,
		`CREATE TABLE company_balances (
			company_id TEXT PRIMARY KEY,
			balance_minor BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func newIngestService(t *testing.T, db *gorm.DB) ingestdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(30)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})

	registry := providers.NewRegistry(
		stripe.New(stripeSecret, false),
		paystack.New(paystackSecret, false),
		manual.New(clock.NewFakeClock(time.Now())),
	)

	return ingestservice.NewService(ingestservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Registry:  registry,
		LedgerSvc: ledgerSvc,
		Repo:      ingestrepo.Provide(),
	})
}

func stripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func paystackSignature(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func stripeCheckoutRequest(eventID, companyID string, amountMinor int64) ([]byte, http.Header) {
	payload := []byte(fmt.Sprintf(
		`{"id":"%s","type":"checkout.session.completed","data":{"object":{"id":"cs_1","amount_total":%d,"currency":"usd","metadata":{"company_id":"%s"}}}}`,
		eventID, amountMinor, companyID,
	))
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripeSignatureHeader(stripeSecret, payload, time.Now().Unix()))
	return payload, headers
}

func TestStripeCheckoutCreditedOnceAcrossRedeliveries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload, headers := stripeCheckoutRequest("evt_1", "C1", 150000)

	result, err := svc.Ingest(ctx, payload, headers)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Duplicate {
		t.Fatalf("first delivery flagged duplicate")
	}
	if result.NewBalanceMinor != 150000 {
		t.Fatalf("expected balance 150000, got %d", result.NewBalanceMinor)
	}

	result, err = svc.Ingest(ctx, payload, headers)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected redelivery to be flagged duplicate")
	}
	if result.NewBalanceMinor != 150000 {
		t.Fatalf("expected balance unchanged at 150000, got %d", result.NewBalanceMinor)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM ledger_credits", 1)

	var status string
	if err := db.Raw("SELECT status FROM payment_events LIMIT 1").Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != ingestdomain.StatusProcessed {
		t.Fatalf("expected status processed, got %s", status)
	}
}

func TestPaystackChargeSuccess(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload := []byte(`{"event":"charge.success","data":{"id":987654,"amount":250000,"metadata":{"company_id":"C2"}}}`)
	headers := http.Header{}
	headers.Set("X-Paystack-Signature", paystackSignature(paystackSecret, payload))

	result, err := svc.Ingest(ctx, payload, headers)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.NewBalanceMinor != 250000 {
		t.Fatalf("expected balance 250000, got %d", result.NewBalanceMinor)
	}
	if result.ProviderEventID != "987654" {
		t.Fatalf("expected identity from data.id, got %s", result.ProviderEventID)
	}
}

func TestManualSubmissionWithoutSignature(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload := []byte(`{"reference":"inv-42","company_id":"C9","amount":5000}`)
	result, err := svc.Ingest(ctx, payload, http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Provider != ingestdomain.ProviderManual {
		t.Fatalf("expected manual provider, got %s", result.Provider)
	}
	if result.NewBalanceMinor != 5000 {
		t.Fatalf("expected balance 5000, got %d", result.NewBalanceMinor)
	}
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload, headers := stripeCheckoutRequest("evt_race", "C1", 150000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Ingest(ctx, payload, headers)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM ledger_credits", 1)

	var balance int64
	if err := db.Raw("SELECT balance_minor FROM company_balances WHERE company_id = 'C1'").Scan(&balance).Error; err != nil {
		t.Fatalf("scan balance: %v", err)
	}
	if balance != 150000 {
		t.Fatalf("expected single credit of 150000, got %d", balance)
	}
}

func TestMissingCompanyMarksFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload := []byte(`{"reference":"inv-43","amount":5000}`)
	if _, err := svc.Ingest(ctx, payload, http.Header{}); !errors.Is(err, ingestdomain.ErrMissingCompany) {
		t.Fatalf("expected ErrMissingCompany, got %v", err)
	}

	var status, reason string
	row := db.Raw("SELECT status, failure_reason FROM payment_events LIMIT 1").Row()
	if err := row.Scan(&status, &reason); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status != ingestdomain.StatusFailed {
		t.Fatalf("expected status failed, got %s", status)
	}
	if reason != "missing_company" {
		t.Fatalf("expected failure reason missing_company, got %s", reason)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM ledger_credits", 0)
}

func TestNonPositiveAmountRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload := []byte(`{"reference":"inv-44","company_id":"C9","amount":0}`)
	if _, err := svc.Ingest(ctx, payload, http.Header{}); !errors.Is(err, ingestdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM ledger_credits", 0)
}

func TestInvalidSignatureRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload := []byte(`{"id":"evt_bad","type":"checkout.session.completed"}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripeSignatureHeader("whsec_wrong", payload, time.Now().Unix()))

	if _, err := svc.Ingest(ctx, payload, headers); !errors.Is(err, ingestdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 0)
}

// A crash after the ledger credit but before the processed mark leaves the
// event at received. Redelivery must complete the event without a second
// credit.
func TestRedeliveryAfterPartialWrite(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	payload, headers := stripeCheckoutRequest("evt_partial", "C1", 150000)

	if _, err := svc.Ingest(ctx, payload, headers); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Rewind the event to received, as if the final status write was lost.
	if err := db.Exec("UPDATE payment_events SET status = 'received', processed_at = NULL").Error; err != nil {
		t.Fatalf("rewind: %v", err)
	}

	result, err := svc.Ingest(ctx, payload, headers)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.NewBalanceMinor != 150000 {
		t.Fatalf("expected balance 150000 after replay, got %d", result.NewBalanceMinor)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM ledger_credits", 1)

	var status string
	if err := db.Raw("SELECT status FROM payment_events LIMIT 1").Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != ingestdomain.StatusProcessed {
		t.Fatalf("expected status processed, got %s", status)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
