package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Status(ctx context.Context, id string) (service.MarketStatus, error)
}

// BookReader exposes resting orders of a market.
type BookReader interface {
	OrderBook(ctx context.Context, marketID string) (domain.OrderBook, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	books   BookReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, books BookReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		books:   books,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns active markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, toMarketView(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

// GetStatus returns a market with its threshold analysis.
// GET /api/markets/{id}/status
func (h *MarketHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.markets.Status(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(st))
}

// GetOrderBook returns the resting orders of a market.
// GET /api/markets/{id}/orderbook
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.books.OrderBook(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order book", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderBookView(b))
}

type createMarketRequest struct {
	Question  string          `json:"question"`
	Threshold decimal.Decimal `json:"threshold"`
	Expiry    time.Time       `json:"expiry"`
}

// CreateMarket lists a new market. Admin only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || req.Expiry.IsZero() {
		writeError(w, http.StatusBadRequest, "question, threshold and expiry are required")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), service.CreateMarketRequest{
		Question:  req.Question,
		Threshold: req.Threshold,
		Expiry:    req.Expiry,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketView(m))
}
