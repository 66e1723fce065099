// Package lifecycle implements the market state machine
// active -> expired -> settled.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
)

var next = map[domain.MarketStatus]domain.MarketStatus{
	domain.MarketStatusActive:  domain.MarketStatusExpired,
	domain.MarketStatusExpired: domain.MarketStatusSettled,
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to domain.MarketStatus) bool {
	n, ok := next[from]
	return ok && n == to
}

// Expire moves an active market to expired and records the trigger.
func Expire(m *domain.Market, trigger domain.ExpiryTrigger, now time.Time) error {
	if !CanTransition(m.Status, domain.MarketStatusExpired) {
		return fmt.Errorf("lifecycle: expire market %s from %s: %w", m.ID, m.Status, domain.ErrInvalidTransition)
	}
	if trigger != domain.ExpiryTriggerTime && trigger != domain.ExpiryTriggerThreshold {
		return fmt.Errorf("lifecycle: expire market %s: unknown trigger %q: %w", m.ID, trigger, domain.ErrInvalidTransition)
	}
	m.Status = domain.MarketStatusExpired
	m.Trigger = trigger
	m.ExpiredAt = &now
	m.UpdatedAt = now
	return nil
}

// Settle moves an expired market to settled with the given result.
func Settle(m *domain.Market, result domain.Option, now time.Time) error {
	if !CanTransition(m.Status, domain.MarketStatusSettled) {
		return fmt.Errorf("lifecycle: settle market %s from %s: %w", m.ID, m.Status, domain.ErrInvalidTransition)
	}
	if !result.Valid() {
		return fmt.Errorf("lifecycle: settle market %s: result %q: %w", m.ID, result, domain.ErrInvalidTransition)
	}
	m.Status = domain.MarketStatusSettled
	m.Result = result
	m.SettledAt = &now
	m.UpdatedAt = now
	return nil
}

// ObservePrice expires an active market whose YES price has reached the
// threshold. It reports whether the transition fired.
func ObservePrice(m *domain.Market, now time.Time) bool {
	if m.Status != domain.MarketStatusActive || m.YesPrice.LessThan(m.Threshold) {
		return false
	}
	return Expire(m, domain.ExpiryTriggerThreshold, now) == nil
}

// ObserveClock expires an active market whose expiry time has passed.
func ObserveClock(m *domain.Market, now time.Time) bool {
	if m.Status != domain.MarketStatusActive || now.Before(m.Expiry) {
		return false
	}
	return Expire(m, domain.ExpiryTriggerTime, now) == nil
}

// Predetermined returns the result of a market that needs no oracle call.
func Predetermined(m domain.Market) (domain.Option, bool) {
	if m.Trigger == domain.ExpiryTriggerThreshold {
		return domain.OptionYes, true
	}
	return "", false
}

// ResultFor compares an observed value against the threshold.
func ResultFor(observed, threshold decimal.Decimal) domain.Option {
	if observed.GreaterThanOrEqual(threshold) {
		return domain.OptionYes
	}
	return domain.OptionNo
}

// ThresholdAnalysis describes how close a market is to early expiry.
type ThresholdAnalysis struct {
	CurrentYesPrice     decimal.Decimal
	Threshold           decimal.Decimal
	DistanceToThreshold decimal.Decimal
	PercentOfThreshold  decimal.Decimal
	WillAutoSettle      bool
	TimeToExpiry        time.Duration
}

// Analyze reports the threshold position of m at now.
func Analyze(m domain.Market, now time.Time) ThresholdAnalysis {
	a := ThresholdAnalysis{
		CurrentYesPrice:     m.YesPrice,
		Threshold:           m.Threshold,
		DistanceToThreshold: m.Threshold.Sub(m.YesPrice),
		PercentOfThreshold:  decimal.Zero,
		WillAutoSettle:      m.YesPrice.GreaterThanOrEqual(m.Threshold),
	}
	if m.Threshold.IsPositive() {
		a.PercentOfThreshold = m.YesPrice.Div(m.Threshold).Mul(decimal.NewFromInt(100)).Round(2)
	}
	if left := m.Expiry.Sub(now); left > 0 {
		a.TimeToExpiry = left
	}
	return a
}
