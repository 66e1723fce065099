package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateMarketRequest is an administrative market listing.
type CreateMarketRequest struct {
	Question  string
	Threshold decimal.Decimal
	Expiry    time.Time
}

// MarketStatus is a market with its threshold analysis.
type MarketStatus struct {
	Market   domain.Market
	Analysis lifecycle.ThresholdAnalysis
}

// MarketService handles market listing and read paths.
type MarketService struct {
	store  domain.BookStore
	cache  domain.MarketCache
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache and audit may be nil.
func NewMarketService(store domain.BookStore, cache domain.MarketCache, audit domain.AuditStore, logger *slog.Logger) *MarketService {
	return &MarketService{store: store, cache: cache, audit: audit, now: time.Now, logger: logger}
}

// CreateMarket lists a new active market at the opening price.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	q := strings.TrimSpace(req.Question)
	now := s.now().UTC()
	switch {
	case q == "":
		return domain.Market{}, fmt.Errorf("market_service: question is required: %w", domain.ErrInvalidMarket)
	case !req.Threshold.IsPositive():
		return domain.Market{}, fmt.Errorf("market_service: threshold %s must be positive: %w", req.Threshold, domain.ErrInvalidMarket)
	case !req.Expiry.After(now):
		return domain.Market{}, fmt.Errorf("market_service: expiry %s is not in the future: %w", req.Expiry, domain.ErrInvalidMarket)
	}

	m := domain.NewMarket(uuid.NewString(), q, req.Threshold, req.Expiry.UTC(), now)
	if err := s.store.CreateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}
	m.Version = 1

	if s.audit != nil {
		if err := s.audit.Log(ctx, "market_created", map[string]any{
			"market_id": m.ID,
			"question":  m.Question,
			"threshold": m.Threshold.String(),
			"expiry":    m.Expiry,
		}); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("market_id", m.ID), slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("question", m.Question),
		slog.String("threshold", m.Threshold.String()),
		slog.Time("expiry", m.Expiry),
	)
	return m, nil
}

// GetMarket retrieves a market. Only settled markets are cached since nothing
// mutates them afterwards.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}

	if s.cache != nil && m.Status == domain.MarketStatusSettled {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id), slog.String("error", err.Error()))
		}
	}
	return m, nil
}

// ListActive returns markets still open for trading.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	ms, err := s.store.ListMarkets(ctx, []domain.MarketStatus{domain.MarketStatusActive}, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return ms, nil
}

// Status returns a market with its distance to the early-expiry threshold.
func (s *MarketService) Status(ctx context.Context, id string) (MarketStatus, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return MarketStatus{}, err
	}
	return MarketStatus{Market: m, Analysis: lifecycle.Analyze(m, s.now())}, nil
}
