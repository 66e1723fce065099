package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"github.com/alanyoungcy/opinionbook/internal/service"
)

type marketView struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Threshold  decimal.Decimal `json:"threshold"`
	Expiry     time.Time       `json:"expiry"`
	YesPrice   decimal.Decimal `json:"yes_price"`
	NoPrice    decimal.Decimal `json:"no_price"`
	YesShares  int64           `json:"yes_shares"`
	NoShares   int64           `json:"no_shares"`
	Status     string          `json:"status"`
	Trigger    string          `json:"expiry_trigger,omitempty"`
	Result     string          `json:"result,omitempty"`
	Halted     bool            `json:"halted,omitempty"`
	HaltReason string          `json:"halt_reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiredAt  *time.Time      `json:"expired_at,omitempty"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

func toMarketView(m domain.Market) marketView {
	return marketView{
		ID:         m.ID,
		Question:   m.Question,
		Threshold:  m.Threshold,
		Expiry:     m.Expiry,
		YesPrice:   m.YesPrice,
		NoPrice:    m.NoPrice,
		YesShares:  m.YesShares,
		NoShares:   m.NoShares,
		Status:     string(m.Status),
		Trigger:    string(m.Trigger),
		Result:     string(m.Result),
		Halted:     m.Halted,
		HaltReason: m.HaltReason,
		CreatedAt:  m.CreatedAt,
		ExpiredAt:  m.ExpiredAt,
		SettledAt:  m.SettledAt,
	}
}

type analysisView struct {
	CurrentYesPrice     decimal.Decimal `json:"current_yes_price"`
	Threshold           decimal.Decimal `json:"threshold"`
	DistanceToThreshold decimal.Decimal `json:"distance_to_threshold"`
	PercentOfThreshold  decimal.Decimal `json:"percent_of_threshold"`
	WillAutoSettle      bool            `json:"will_auto_settle"`
	SecondsToExpiry     int64           `json:"seconds_to_expiry"`
}

type statusView struct {
	Market   marketView   `json:"market"`
	Analysis analysisView `json:"analysis"`
}

func toStatusView(st service.MarketStatus) statusView {
	return statusView{
		Market:   toMarketView(st.Market),
		Analysis: toAnalysisView(st.Analysis),
	}
}

func toAnalysisView(a lifecycle.ThresholdAnalysis) analysisView {
	return analysisView{
		CurrentYesPrice:     a.CurrentYesPrice,
		Threshold:           a.Threshold,
		DistanceToThreshold: a.DistanceToThreshold,
		PercentOfThreshold:  a.PercentOfThreshold,
		WillAutoSettle:      a.WillAutoSettle,
		SecondsToExpiry:     int64(a.TimeToExpiry / time.Second),
	}
}

type orderView struct {
	ID              string          `json:"id"`
	MarketID        string          `json:"market_id"`
	UserID          string          `json:"user_id"`
	Option          string          `json:"option"`
	Side            string          `json:"side"`
	RequestedAmount int64           `json:"requested_amount"`
	ExecutedAmount  int64           `json:"executed_amount"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	ExecutePrice    decimal.Decimal `json:"execute_price"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toOrderViews(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			ID:              o.ID,
			MarketID:        o.MarketID,
			UserID:          o.UserID,
			Option:          string(o.Option),
			Side:            string(o.Side),
			RequestedAmount: o.RequestedAmount,
			ExecutedAmount:  o.ExecutedAmount,
			LimitPrice:      o.LimitPrice,
			ExecutePrice:    o.ExecutePrice,
			Status:          string(o.Status),
			CreatedAt:       o.CreatedAt,
		})
	}
	return out
}

type fillView struct {
	ID     string          `json:"id"`
	Option string          `json:"option"`
	Amount int64           `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	House  bool            `json:"house"`
}

type orderResultView struct {
	OrderID         string     `json:"order_id"`
	Status          string     `json:"status"`
	FilledAmount    int64      `json:"filled_amount"`
	RemainingAmount int64      `json:"remaining_amount"`
	Fills           []fillView `json:"fills"`
	MarketExpired   bool       `json:"market_expired"`
	MarketSettled   bool       `json:"market_settled"`
}

func toOrderResultView(res domain.OrderResult) orderResultView {
	fills := make([]fillView, 0, len(res.Fills))
	for _, f := range res.Fills {
		fills = append(fills, fillView{ID: f.ID, Option: string(f.Option), Amount: f.Amount, Price: f.Price, House: f.House})
	}
	return orderResultView{
		OrderID:         res.OrderID,
		Status:          string(res.Status),
		FilledAmount:    res.FilledAmount,
		RemainingAmount: res.RemainingAmount,
		Fills:           fills,
		MarketExpired:   res.MarketExpired,
		MarketSettled:   res.MarketSettled,
	}
}

type levelView struct {
	OrderID   string          `json:"order_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Remaining int64           `json:"remaining"`
}

type orderBookView struct {
	MarketID  string          `json:"market_id"`
	YesPrice  decimal.Decimal `json:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price"`
	YesOrders []levelView     `json:"yes_orders"`
	NoOrders  []levelView     `json:"no_orders"`
}

func toLevels(levels []domain.BookLevel) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelView{OrderID: l.OrderID, Side: string(l.Side), Price: l.Price, Remaining: l.Remaining})
	}
	return out
}

func toOrderBookView(b domain.OrderBook) orderBookView {
	return orderBookView{
		MarketID:  b.MarketID,
		YesPrice:  b.YesPrice,
		NoPrice:   b.NoPrice,
		YesOrders: toLevels(b.YesOrders),
		NoOrders:  toLevels(b.NoOrders),
	}
}
