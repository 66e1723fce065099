package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
)

// UserOrders groups a user's orders by status.
type UserOrders struct {
	Pending           []domain.Order `json:"pending"`
	PartiallyExecuted []domain.Order `json:"partially_executed"`
	Executed          []domain.Order `json:"executed"`
	Settled           []domain.Order `json:"settled"`
	Cancelled         []domain.Order `json:"cancelled"`
}

// OrderService answers read queries about a user's orders and funds.
type OrderService struct {
	store  domain.BookStore
	ledger domain.Ledger
}

// NewOrderService creates an OrderService.
func NewOrderService(store domain.BookStore, ledger domain.Ledger) *OrderService {
	return &OrderService{store: store, ledger: ledger}
}

// ListUserOrders returns the user's orders, newest first within each group.
// An empty marketID spans all markets.
func (s *OrderService) ListUserOrders(ctx context.Context, userID, marketID string) (UserOrders, error) {
	orders, err := s.store.ListUserOrders(ctx, userID, marketID)
	if err != nil {
		return UserOrders{}, fmt.Errorf("order_service: list orders of %s: %w", userID, err)
	}
	out := UserOrders{
		Pending:           []domain.Order{},
		PartiallyExecuted: []domain.Order{},
		Executed:          []domain.Order{},
		Settled:           []domain.Order{},
		Cancelled:         []domain.Order{},
	}
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusPending:
			out.Pending = append(out.Pending, o)
		case domain.OrderStatusPartiallyExecuted:
			out.PartiallyExecuted = append(out.PartiallyExecuted, o)
		case domain.OrderStatusExecuted:
			out.Executed = append(out.Executed, o)
		case domain.OrderStatusSettled:
			out.Settled = append(out.Settled, o)
		case domain.OrderStatusCancelled:
			out.Cancelled = append(out.Cancelled, o)
		}
	}
	return out, nil
}

// Balance returns the user's available balance.
func (s *OrderService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	b, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("order_service: balance of %s: %w", userID, err)
	}
	return b, nil
}
