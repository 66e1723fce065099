package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CreditKind distinguishes winnings from returned reservations.
type CreditKind string

const (
	CreditPayout CreditKind = "payout"
	CreditRefund CreditKind = "refund"
)

// SettlementCredit is one balance credit issued at settlement.
type SettlementCredit struct {
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id"`
	Kind    CreditKind      `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Ref     string          `json:"ref"`
}

// SettlementReport summarises a settled market.
type SettlementReport struct {
	MarketID       string             `json:"market_id"`
	Question       string             `json:"question"`
	Result         Option             `json:"result"`
	Trigger        ExpiryTrigger      `json:"trigger"`
	Observed       *decimal.Decimal   `json:"observed,omitempty"`
	Collected      decimal.Decimal    `json:"collected"`
	Payouts        decimal.Decimal    `json:"payouts"`
	Refunds        decimal.Decimal    `json:"refunds"`
	Margin         decimal.Decimal    `json:"margin"`
	Credits        []SettlementCredit `json:"credits"`
	Orders         []Order            `json:"-"`
	AlreadySettled bool               `json:"-"`
	SettledAt      time.Time          `json:"settled_at"`
}

// SettlementArchiver stores settlement reports in cold storage.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, report SettlementReport) error
}
