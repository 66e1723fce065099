package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// ReportArchiver implements domain.SettlementArchiver. Each settled market is
// written as one JSONL object: a header line with the report followed by one
// line per order.
type ReportArchiver struct {
	writer objectPutter
}

// objectPutter is satisfied by *Writer.
type objectPutter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// NewReportArchiver creates a ReportArchiver that uploads through writer.
func NewReportArchiver(writer objectPutter) *ReportArchiver {
	return &ReportArchiver{writer: writer}
}

type reportLine struct {
	Kind string `json:"kind"`
	domain.SettlementReport
}

type orderLine struct {
	Kind         string             `json:"kind"`
	OrderID      string             `json:"order_id"`
	UserID       string             `json:"user_id"`
	Option       domain.Option      `json:"option"`
	Side         domain.OrderSide   `json:"side"`
	Requested    int64              `json:"requested"`
	LimitPrice   decimal.Decimal    `json:"limit_price"`
	Executed     int64              `json:"executed"`
	ExecutePrice decimal.Decimal    `json:"execute_price"`
	Status       domain.OrderStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ArchiveSettlement uploads r to settlements/YYYY/MM/<market>.jsonl.
func (a *ReportArchiver) ArchiveSettlement(ctx context.Context, r domain.SettlementReport) error {
	lines := make([]any, 0, len(r.Orders)+1)
	lines = append(lines, reportLine{Kind: "report", SettlementReport: r})
	for _, o := range r.Orders {
		lines = append(lines, orderLine{
			Kind:         "order",
			OrderID:      o.ID,
			UserID:       o.UserID,
			Option:       o.Option,
			Side:         o.Side,
			Requested:    o.RequestedAmount,
			LimitPrice:   o.LimitPrice,
			Executed:     o.ExecutedAmount,
			ExecutePrice: o.ExecutePrice,
			Status:       o.Status,
			CreatedAt:    o.CreatedAt,
		})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return fmt.Errorf("s3blob: archive settlement %s marshal: %w", r.MarketID, err)
	}
	path := reportPath(r.MarketID, r.SettledAt)
	if err := a.writer.PutObject(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s upload: %w", r.MarketID, err)
	}
	return nil
}

// reportPath partitions reports by settlement month.
//
//	settlements/2026/03/<market-id>.jsonl
func reportPath(marketID string, settledAt time.Time) string {
	return fmt.Sprintf("settlements/%s/%s.jsonl", settledAt.UTC().Format("2006/01"), marketID)
}

// marshalJSONL serializes a slice of values into newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
