// Package memory implements the domain stores in process memory. It backs
// single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// BookStore implements domain.BookStore.
type BookStore struct {
	mu        sync.RWMutex
	markets   map[string]domain.Market
	questions map[string]string
	orders    map[string]domain.Order
	byMarket  map[string][]string
	fills     map[string][]domain.Fill
}

// NewBookStore returns an empty BookStore.
func NewBookStore() *BookStore {
	return &BookStore{
		markets:   make(map[string]domain.Market),
		questions: make(map[string]string),
		orders:    make(map[string]domain.Order),
		byMarket:  make(map[string][]string),
		fills:     make(map[string][]domain.Fill),
	}
}

// CreateMarket stores a new market. Both the ID and the question must be
// unused.
func (s *BookStore) CreateMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if _, ok := s.questions[m.Question]; ok {
		return fmt.Errorf("memory: create market %q: %w", m.Question, domain.ErrAlreadyExists)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	s.markets[m.ID] = m
	s.questions[m.Question] = m.ID
	return nil
}

// GetMarket returns the market with the given ID.
func (s *BookStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// ListMarkets returns markets in one of statuses (all when empty), oldest
// first.
func (s *BookStore) ListMarkets(_ context.Context, statuses []domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.MarketStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if len(want) == 0 || want[m.Status] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, opts), nil
}

// LoadBook returns the market and its non-terminal orders, oldest first.
func (s *BookStore) LoadBook(_ context.Context, marketID string) (domain.MarketBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return domain.MarketBook{}, fmt.Errorf("memory: load book %s: %w", marketID, domain.ErrNotFound)
	}
	book := domain.MarketBook{Market: m}
	for _, id := range s.byMarket[marketID] {
		if o := s.orders[id]; !o.Status.Terminal() {
			book.Orders = append(book.Orders, o)
		}
	}
	return book, nil
}

// Commit applies mut if the stored version still matches.
func (s *BookStore) Commit(_ context.Context, mut domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[mut.Market.ID]
	if !ok {
		return fmt.Errorf("memory: commit %s: %w", mut.Market.ID, domain.ErrNotFound)
	}
	if cur.Version != mut.ExpectedVersion {
		return fmt.Errorf("memory: commit %s at version %d, have %d: %w",
			mut.Market.ID, mut.ExpectedVersion, cur.Version, domain.ErrConcurrencyConflict)
	}

	m := mut.Market
	m.Version = cur.Version + 1
	s.markets[m.ID] = m

	for _, o := range mut.Orders {
		if _, exists := s.orders[o.ID]; !exists {
			s.byMarket[o.MarketID] = append(s.byMarket[o.MarketID], o.ID)
		}
		s.orders[o.ID] = o
	}
	s.fills[m.ID] = append(s.fills[m.ID], mut.Fills...)
	return nil
}

// ListUserOrders returns a user's orders, newest first, optionally limited to
// one market.
func (s *BookStore) ListUserOrders(_ context.Context, userID, marketID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.UserID != userID || (marketID != "" && o.MarketID != marketID) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListFills returns every fill on a market in execution order.
func (s *BookStore) ListFills(_ context.Context, marketID string) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Fill(nil), s.fills[marketID]...), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
