package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/clock"
	"github.com/crowdfield/eventcore/internal/config"
	obsmetrics "github.com/crowdfield/eventcore/internal/observability/metrics"
	"github.com/crowdfield/eventcore/internal/webhook/domain"
	"github.com/crowdfield/eventcore/internal/webhook/signer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock
	HTTPClient *http.Client
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	httpClient *http.Client
	cfg        config.Config
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		httpClient: p.HTTPClient,
		cfg:        p.Cfg,
		obsMetrics: p.ObsMetrics,
	}
}

// deliveryBody is the envelope posted to destinations. Payload is frozen at
// enqueue time; only the timestamp is attempt-specific.
type deliveryBody struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (s *Service) Enqueue(ctx context.Context, webhookID snowflake.ID, eventType string, payload json.RawMessage) (*domain.Event, error) {
	eventType = strings.TrimSpace(eventType)
	if webhookID == 0 || eventType == "" {
		return nil, domain.ErrInvalidEvent
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	dest, err := s.repo.GetDestination(ctx, s.db, webhookID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, domain.ErrDestinationNotFound
	}

	maxAttempts := dest.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > domain.DefaultMaxAttempts {
		maxAttempts = domain.DefaultMaxAttempts
	}

	now := s.clock.Now()
	event := &domain.Event{
		ID:          s.genID.Generate(),
		WebhookID:   webhookID,
		EventType:   eventType,
		Payload:     datatypes.JSON(payload),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Enqueue(ctx, s.db, event); err != nil {
		return nil, err
	}

	s.log.Info("webhook event enqueued",
		zap.String("event_id", event.ID.String()),
		zap.String("webhook_id", webhookID.String()),
		zap.String("event_type", eventType),
	)
	return event, nil
}

func (s *Service) GetEvent(ctx context.Context, id snowflake.ID) (*domain.Event, error) {
	event, err := s.repo.GetEvent(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	return event, nil
}

// Dispatch performs exactly one delivery attempt. The dispatcher never
// self-schedules: on failure it writes the next retry time and returns, and
// the sweeper picks the event up again when that time passes.
func (s *Service) Dispatch(ctx context.Context, eventID snowflake.ID) (*domain.DispatchResult, error) {
	event, err := s.repo.GetEvent(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}

	if domain.IsTerminal(event.Status) {
		return &domain.DispatchResult{
			EventID:        event.ID,
			Status:         event.Status,
			Attempts:       event.Attempts,
			ResponseStatus: event.ResponseStatus,
			Delivered:      event.Status == domain.StatusSent,
			AlreadyFinal:   true,
		}, nil
	}

	dest, err := s.repo.GetDestination(ctx, s.db, event.WebhookID)
	if err != nil {
		return nil, err
	}
	if dest == nil || !dest.IsActive {
		reason := "destination inactive"
		cause := domain.ErrDestinationInactive
		if dest == nil {
			reason = "destination not found"
			cause = domain.ErrDestinationNotFound
		}
		if _, err := s.repo.RecordOutcome(ctx, s.db, event.ID, domain.DeliveryRecord{
			Attempts:     event.Attempts,
			Status:       domain.StatusFailed,
			ResponseBody: reason,
		}); err != nil {
			return nil, err
		}
		s.log.Warn("webhook delivery skipped",
			zap.String("event_id", event.ID.String()),
			zap.String("reason", reason),
		)
		return &domain.DispatchResult{
			EventID:  event.ID,
			Status:   domain.StatusFailed,
			Attempts: event.Attempts,
		}, cause
	}

	now := s.clock.Now()
	body, err := json.Marshal(deliveryBody{
		Event:     event.EventType,
		Timestamp: now.Format(time.RFC3339),
		Data:      json.RawMessage(event.Payload),
	})
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	status, respBody, attemptErr := s.attempt(ctx, dest, event, body)
	attempts := event.Attempts + 1

	if attemptErr == nil && status >= 200 && status < 300 {
		return s.recordSuccess(ctx, event, dest, attempts, status, respBody, now)
	}
	return s.recordFailure(ctx, event, dest, attempts, status, respBody, attemptErr, now)
}

func (s *Service) attempt(ctx context.Context, dest *domain.Destination, event *domain.Event, body []byte) (int, string, error) {
	timeout := s.cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signer.Sign(dest.SecretKey, body))
	req.Header.Set("X-Webhook-Event", event.EventType)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		s.observe("error", elapsed)
		return 0, "", err
	}
	defer resp.Body.Close()

	limit := s.cfg.ResponseBodyLimit
	if limit <= 0 {
		limit = 1000
	}
	truncated, _ := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))

	outcome := "failure"
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome = "success"
	}
	s.observe(outcome, elapsed)

	return resp.StatusCode, string(truncated), nil
}

func (s *Service) recordSuccess(
	ctx context.Context,
	event *domain.Event,
	dest *domain.Destination,
	attempts int,
	status int,
	respBody string,
	now time.Time,
) (*domain.DispatchResult, error) {

	sentAt := now
	updated, err := s.repo.RecordOutcome(ctx, s.db, event.ID, domain.DeliveryRecord{
		Attempts:       attempts,
		Status:         domain.StatusSent,
		ResponseStatus: &status,
		ResponseBody:   respBody,
		SentAt:         &sentAt,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return s.reloadFinal(ctx, event.ID)
	}

	if err := s.repo.ResetFailureCount(ctx, s.db, dest.ID); err != nil {
		s.log.Warn("failed to reset destination failure count",
			zap.String("destination_id", dest.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Info("webhook delivered",
		zap.String("event_id", event.ID.String()),
		zap.Int("attempts", attempts),
		zap.Int("response_status", status),
	)
	return &domain.DispatchResult{
		EventID:        event.ID,
		Status:         domain.StatusSent,
		Attempts:       attempts,
		ResponseStatus: &status,
		Delivered:      true,
	}, nil
}

func (s *Service) recordFailure(
	ctx context.Context,
	event *domain.Event,
	dest *domain.Destination,
	attempts int,
	status int,
	respBody string,
	attemptErr error,
	now time.Time,
) (*domain.DispatchResult, error) {

	record := domain.DeliveryRecord{
		Attempts:     attempts,
		ResponseBody: respBody,
	}
	var responseStatus *int
	if status > 0 {
		responseStatus = &status
		record.ResponseStatus = responseStatus
	} else if attemptErr != nil {
		record.ResponseBody = truncate(attemptErr.Error(), s.cfg.ResponseBodyLimit)
	}

	cause := domain.ErrDeliveryFailed
	if attempts >= event.MaxAttempts {
		record.Status = domain.StatusFailed
		cause = domain.ErrAttemptsExhausted
	} else {
		record.Status = domain.StatusRetrying
		next := now.Add(s.backoff(attempts))
		record.NextRetryAt = &next
	}

	updated, err := s.repo.RecordOutcome(ctx, s.db, event.ID, record)
	if err != nil {
		return nil, err
	}
	if !updated {
		return s.reloadFinal(ctx, event.ID)
	}

	if err := s.repo.IncrementFailureCount(ctx, s.db, dest.ID); err != nil {
		s.log.Warn("failed to increment destination failure count",
			zap.String("destination_id", dest.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Warn("webhook delivery failed",
		zap.String("event_id", event.ID.String()),
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", event.MaxAttempts),
		zap.String("status", record.Status),
		zap.Int("response_status", status),
		zap.Error(attemptErr),
	)
	return &domain.DispatchResult{
		EventID:        event.ID,
		Status:         record.Status,
		Attempts:       attempts,
		ResponseStatus: responseStatus,
	}, cause
}

// backoff doubles per attempt starting at two minutes, capped so a stuck
// destination cannot push retries out indefinitely.
func (s *Service) backoff(attempts int) time.Duration {
	delay := 60 * time.Second
	for i := 0; i < attempts; i++ {
		delay *= 2
		if s.cfg.MaxBackoff > 0 && delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return delay
}

func (s *Service) reloadFinal(ctx context.Context, id snowflake.ID) (*domain.DispatchResult, error) {
	event, err := s.repo.GetEvent(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	return &domain.DispatchResult{
		EventID:        event.ID,
		Status:         event.Status,
		Attempts:       event.Attempts,
		ResponseStatus: event.ResponseStatus,
		Delivered:      event.Status == domain.StatusSent,
		AlreadyFinal:   true,
	}, nil
}

func (s *Service) observe(outcome string, elapsed time.Duration) {
	if s.obsMetrics != nil {
		s.obsMetrics.ObserveDispatch(outcome, elapsed.Seconds())
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = 1000
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
