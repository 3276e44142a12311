package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Filing states. Terminal states accept no further transitions.
const (
	StateDraft           = "DRAFT"
	StateSubmitted       = "SUBMITTED"
	StateAwaitingPayment = "AWAITING_PAYMENT"
	StatePaymentFailed   = "PAYMENT_FAILED"
	StateCompleted       = "COMPLETED"
	StateRejected        = "REJECTED"
)

// Filing is the workflow aggregate, one row per tax filing.
// Version is the optimistic-concurrency token: every committed
// transition bumps it by exactly one.
type Filing struct {
	ID            string          `gorm:"primaryKey;size:64"`
	State         string          `gorm:"size:32;not null"`
	Version       uint64          `gorm:"not null;default:0"`
	TaxYear       int             `gorm:"not null"`
	AmountOwed    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PaymentRef    *string         `gorm:"size:128"`
	FailureReason *string         `gorm:"size:256"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime"`
}

func (Filing) TableName() string { return "filing" }

// Terminal reports whether the filing accepts further transitions.
func (f *Filing) Terminal() bool {
	return f.State == StateCompleted || f.State == StateRejected
}
