package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Credit is one idempotent balance mutation. Reference is globally unique;
// replaying a credit with a reference that already landed is a no-op.
type Credit struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	CompanyID   string       `gorm:"type:text;not null;index"`
	AmountMinor int64        `gorm:"not null"`
	Reference   string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_credits_reference"`
	CreatedAt   time.Time    `gorm:"not null"`
}

func (Credit) TableName() string { return "ledger_credits" }

// CompanyBalance is the maintained running balance, in minor units.
type CompanyBalance struct {
	CompanyID    string    `gorm:"type:text;primaryKey"`
	BalanceMinor int64     `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (CompanyBalance) TableName() string { return "company_balances" }

var (
	ErrInvalidCompany   = errors.New("invalid_company")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidReference = errors.New("invalid_reference")
)

type Service interface {
	// Credit applies amountMinor to the company balance exactly once per
	// reference. The returned bool reports whether this call applied the
	// mutation (false means the reference was already settled).
	Credit(ctx context.Context, companyID string, amountMinor int64, reference string) (int64, bool, error)
	Balance(ctx context.Context, companyID string) (int64, error)
}
