package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/clock"
	obsmetrics "github.com/crowdfield/eventcore/internal/observability/metrics"
	webhookdomain "github.com/crowdfield/eventcore/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepLockKey = "eventcore:webhook_sweep"

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	WebhookSvc webhookdomain.Service
	Repo       webhookdomain.Repository
	Clock      clock.Clock
	Locker     *Locker             `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Sweeper re-invokes the dispatcher for every webhook event that is due:
// never-attempted pending events and retrying events whose next_retry_at has
// passed. The dispatcher itself stays stateless between attempts.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	webhookSvc webhookdomain.Service
	repo       webhookdomain.Repository
	clock      clock.Clock
	locker     *Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.WebhookSvc == nil || p.Repo == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:        p.Config.withDefaults(),
		webhookSvc: p.WebhookSvc,
		repo:       p.Repo,
		clock:      p.Clock,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("sweep lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				s.log.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	if s.obsMetrics != nil {
		s.obsMetrics.IncSweepRun()
	}

	var runErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(runErr, ctx.Err())
		}

		ids, err := s.claimDue(ctx)
		if err != nil {
			return errors.Join(runErr, err)
		}
		if len(ids) == 0 {
			break
		}
		if s.obsMetrics != nil {
			s.obsMetrics.AddSweepClaimed(len(ids))
		}

		progressed := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				return errors.Join(runErr, ctx.Err())
			}
			if err := s.dispatchOne(ctx, id); err != nil {
				runErr = errors.Join(runErr, err)
				continue
			}
			progressed++
		}
		if progressed == 0 {
			// Nothing transitioned; refetching would spin on the same rows.
			break
		}
	}

	return runErr
}

// claimDue runs inside a short transaction so the row locks from SKIP LOCKED
// fence off concurrent sweepers for the duration of the claim.
func (s *Sweeper) claimDue(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ids, err = s.repo.FetchDue(ctx, tx, s.clock.Now(), s.cfg.BatchSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Sweeper) dispatchOne(ctx context.Context, id snowflake.ID) error {
	_, err := s.webhookSvc.Dispatch(ctx, id)
	if err == nil {
		return nil
	}

	// Failed attempts are recorded outcomes with a schedule of their own,
	// not sweep errors.
	if errors.Is(err, webhookdomain.ErrDeliveryFailed) ||
		errors.Is(err, webhookdomain.ErrAttemptsExhausted) ||
		errors.Is(err, webhookdomain.ErrDestinationInactive) ||
		errors.Is(err, webhookdomain.ErrDestinationNotFound) {
		s.log.Debug("sweep dispatch recorded failure",
			zap.String("event_id", id.String()),
			zap.Error(err),
		)
		return nil
	}

	s.log.Warn("sweep dispatch failed",
		zap.String("event_id", id.String()),
		zap.Error(err),
	)
	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
