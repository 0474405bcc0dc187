package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ingest/providers"
	ledgerdomain "github.com/crowdfield/eventcore/internal/ledger/domain"
	obsmetrics "github.com/crowdfield/eventcore/internal/observability/metrics"
	"github.com/crowdfield/eventcore/pkg/db"
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
	Registry   *providers.Registry
	LedgerSvc  ledgerdomain.Service
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	registry   *providers.Registry
	ledgerSvc  ledgerdomain.Service
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ingest.service"),
		genID:      p.GenID,
		registry:   p.Registry,
		ledgerSvc:  p.LedgerSvc,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest runs the inbound pipeline: resolve the provider off the signature
// headers, verify, parse, insert the event exactly once, credit the ledger,
// mark processed. A redelivery of an already processed event short-circuits
// to success without touching the ledger.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) (*domain.Result, error) {
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	parser, err := s.registry.Resolve(headers)
	if err != nil {
		return nil, err
	}
	provider := parser.Provider()

	if err := parser.Verify(ctx, payload, headers); err != nil {
		s.countFailure(provider, "invalid_signature")
		return nil, err
	}

	parsed, err := parser.Parse(ctx, payload)
	if err != nil {
		s.countFailure(provider, "invalid_payload")
		return nil, err
	}

	now := time.Now().UTC()
	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: parsed.ProviderEventID,
		EventType:       parsed.EventType,
		CompanyID:       strings.TrimSpace(parsed.CompanyID),
		AmountMinor:     parsed.AmountMinor,
		Payload:         datatypes.JSON(payload),
		Status:          domain.StatusReceived,
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		// Dialects without a usable conflict clause surface the race as a
		// duplicate-key error instead of zero rows affected.
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		inserted = false
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, parsed.ProviderEventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			balance, err := s.ledgerSvc.Balance(ctx, stored.CompanyID)
			if err != nil {
				return nil, err
			}
			s.countIngested(provider, "duplicate")
			s.log.Info("duplicate provider event short-circuited",
				zap.String("provider", provider),
				zap.String("provider_event_id", stored.ProviderEventID),
			)
			return &domain.Result{
				EventID:         stored.ID,
				Provider:        provider,
				ProviderEventID: stored.ProviderEventID,
				NewBalanceMinor: balance,
				Duplicate:       true,
			}, nil
		}
	}

	if err := s.validate(ctx, stored); err != nil {
		return nil, err
	}

	// The credit and the processed mark are two separate writes. A crash
	// between them leaves the event at received; the ledger's unique
	// reference absorbs the replay.
	reference := stored.Provider + ":" + stored.ProviderEventID
	balance, applied, err := s.ledgerSvc.Credit(ctx, stored.CompanyID, stored.AmountMinor, reference)
	if err != nil {
		return nil, err
	}
	if !applied {
		s.log.Info("ledger reference already credited, completing event",
			zap.String("reference", reference),
		)
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return nil, err
	}

	s.countIngested(provider, "processed")
	s.log.Info("provider event processed",
		zap.String("provider", provider),
		zap.String("provider_event_id", stored.ProviderEventID),
		zap.String("company_id", stored.CompanyID),
		zap.Int64("amount_minor", stored.AmountMinor),
	)

	return &domain.Result{
		EventID:         stored.ID,
		Provider:        provider,
		ProviderEventID: stored.ProviderEventID,
		NewBalanceMinor: balance,
	}, nil
}

func (s *Service) validate(ctx context.Context, stored *domain.EventRecord) error {
	if strings.TrimSpace(stored.CompanyID) == "" {
		s.countFailure(stored.Provider, "missing_company")
		if err := s.repo.MarkFailed(ctx, s.db, stored.ID, "missing_company"); err != nil {
			s.log.Warn("failed to mark event failed", zap.Error(err))
		}
		return domain.ErrMissingCompany
	}
	if stored.AmountMinor <= 0 {
		s.countFailure(stored.Provider, "invalid_amount")
		if err := s.repo.MarkFailed(ctx, s.db, stored.ID, "invalid_amount"); err != nil {
			s.log.Warn("failed to mark event failed", zap.Error(err))
		}
		return domain.ErrInvalidAmount
	}
	return nil
}

func (s *Service) countIngested(provider, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.IncEventIngested(provider, outcome)
	}
}

func (s *Service) countFailure(provider, reason string) {
	if s.obsMetrics != nil {
		s.obsMetrics.IncIngestFailure(provider, reason)
	}
}
