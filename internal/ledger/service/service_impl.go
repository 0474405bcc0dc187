package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) Credit(ctx context.Context, companyID string, amountMinor int64, reference string) (int64, bool, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return 0, false, domain.ErrInvalidCompany
	}
	if amountMinor <= 0 {
		return 0, false, domain.ErrInvalidAmount
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return 0, false, domain.ErrInvalidReference
	}

	now := time.Now().UTC()
	creditID := s.genID.Generate()
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_credits (id, company_id, amount_minor, reference, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (reference) DO NOTHING`,
			creditID,
			companyID,
			amountMinor,
			reference,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		if !applied {
			return nil
		}

		return tx.WithContext(ctx).Exec(
			`INSERT INTO company_balances (company_id, balance_minor, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (company_id) DO UPDATE
			 SET balance_minor = company_balances.balance_minor + ?,
			     updated_at = ?`,
			companyID,
			amountMinor,
			now,
			amountMinor,
			now,
		).Error
	})
	if err != nil {
		return 0, false, err
	}

	if !applied {
		s.log.Debug("ledger credit replayed",
			zap.String("company_id", companyID),
			zap.String("reference", reference),
		)
	}

	balance, err := s.Balance(ctx, companyID)
	if err != nil {
		return 0, applied, err
	}
	return balance, applied, nil
}

func (s *Service) Balance(ctx context.Context, companyID string) (int64, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return 0, domain.ErrInvalidCompany
	}

	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(
			(SELECT balance_minor FROM company_balances WHERE company_id = ?),
			0
		 ) AS balance`,
		companyID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
