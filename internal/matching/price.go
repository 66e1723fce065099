package matching

import (
	"sort"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
)

// reprice sets the price of the side with more executed shares to its
// volume-weighted average fill price and the other side to the complement.
// YES leads on a tie.
func reprice(m *domain.Market) {
	switch {
	case m.YesShares > 0 && m.YesShares >= m.NoShares:
		m.YesPrice = clamp(m.YesValue.Div(decimal.NewFromInt(m.YesShares)))
		m.NoPrice = domain.Notional.Sub(m.YesPrice)
	case m.NoShares > 0:
		m.NoPrice = clamp(m.NoValue.Div(decimal.NewFromInt(m.NoShares)))
		m.YesPrice = domain.Notional.Sub(m.NoPrice)
	}
}

func clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(domain.MinPrice) {
		return domain.MinPrice
	}
	if p.GreaterThan(domain.MaxPrice) {
		return domain.MaxPrice
	}
	return p.Round(4)
}

// BuildOrderBook returns the resting orders of book grouped by the option
// they back, highest effective price first, FIFO within a price.
func BuildOrderBook(book domain.MarketBook) domain.OrderBook {
	ob := domain.OrderBook{
		MarketID:  book.Market.ID,
		YesPrice:  book.Market.YesPrice,
		NoPrice:   book.Market.NoPrice,
		YesOrders: []domain.BookLevel{},
		NoOrders:  []domain.BookLevel{},
	}
	for _, o := range book.Orders {
		if !o.Status.Resting() || o.Remaining() <= 0 {
			continue
		}
		opt, price := o.Exposure()
		lvl := domain.BookLevel{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Side:      o.Side,
			Price:     price,
			Remaining: o.Remaining(),
			CreatedAt: o.CreatedAt,
		}
		if opt == domain.OptionYes {
			ob.YesOrders = append(ob.YesOrders, lvl)
		} else {
			ob.NoOrders = append(ob.NoOrders, lvl)
		}
	}
	sortLevels(ob.YesOrders)
	sortLevels(ob.NoOrders)
	return ob
}

func sortLevels(levels []domain.BookLevel) {
	sort.SliceStable(levels, func(i, j int) bool {
		if c := levels[i].Price.Cmp(levels[j].Price); c != 0 {
			return c > 0
		}
		return levels[i].CreatedAt.Before(levels[j].CreatedAt)
	})
}
