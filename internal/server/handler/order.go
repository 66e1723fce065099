package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/service"
)

// Exchange submits orders.
type Exchange interface {
	SubmitOrder(ctx context.Context, req service.SubmitRequest) (domain.OrderResult, error)
}

// OrderService defines the read methods the order handler requires.
type OrderService interface {
	ListUserOrders(ctx context.Context, userID, marketID string) (service.UserOrders, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	exchange Exchange
	orders   OrderService
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given services and logger.
func NewOrderHandler(exchange Exchange, orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		exchange: exchange,
		orders:   orders,
		logger:   logger,
	}
}

type placeOrderRequest struct {
	Option string          `json:"option"`
	Side   string          `json:"side"`
	Amount int64           `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// PlaceOrder submits an order on behalf of the caller.
// POST /api/markets/{id}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	user := callerID(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return
	}
	var req placeOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.exchange.SubmitOrder(r.Context(), service.SubmitRequest{
		MarketID:   pathParam(r, "id"),
		UserID:     user,
		Option:     domain.Option(req.Option),
		Side:       domain.OrderSide(req.Side),
		Amount:     req.Amount,
		LimitPrice: req.Price,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResultView(res))
}

type userOrdersResponse struct {
	Pending           []orderView `json:"pending"`
	PartiallyExecuted []orderView `json:"partially_executed"`
	Executed          []orderView `json:"executed"`
	Settled           []orderView `json:"settled"`
	Cancelled         []orderView `json:"cancelled"`
}

// ListUserOrders returns the caller's orders grouped by status. Users may
// only read their own orders.
// GET /api/users/{id}/orders?market_id=...
func (h *OrderHandler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.self(w, r)
	if !ok {
		return
	}
	uo, err := h.orders.ListUserOrders(r.Context(), user, r.URL.Query().Get("market_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list user orders", err)
		return
	}
	writeJSON(w, http.StatusOK, userOrdersResponse{
		Pending:           toOrderViews(uo.Pending),
		PartiallyExecuted: toOrderViews(uo.PartiallyExecuted),
		Executed:          toOrderViews(uo.Executed),
		Settled:           toOrderViews(uo.Settled),
		Cancelled:         toOrderViews(uo.Cancelled),
	})
}

// GetBalance returns the caller's available balance.
// GET /api/users/{id}/balance
func (h *OrderHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := h.self(w, r)
	if !ok {
		return
	}
	b, err := h.orders.Balance(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user, "balance": b})
}

func (h *OrderHandler) self(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := pathParam(r, "id")
	if caller := callerID(r); caller == "" || caller != user {
		writeError(w, http.StatusForbidden, "users may only read their own orders")
		return "", false
	}
	return user, true
}
