package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Metric names the backend computes only on the full tier.
const (
	MetricTrend24h        = "trend24h"
	MetricTrend30d        = "trend30d"
	MetricTrend180d       = "trend180d"
	MetricMaxDrawdown180d = "maxDrawdown180d"
	MetricDrawdown180d    = "drawdown180d"
)

// MultiDayMetrics are the metrics only a full health computation produces.
var MultiDayMetrics = []string{
	MetricTrend30d,
	MetricTrend180d,
	MetricMaxDrawdown180d,
	MetricDrawdown180d,
}

// Health is a health response. Nil pointers and nil slices mean the field
// was absent.
type Health struct {
	Score      *float64 `json:"score,omitempty"`
	Status     string   `json:"status,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Metrics    Metrics  `json:"metrics,omitempty"`
}

// Metrics holds numeric health metrics. Null or non-numeric values are
// dropped on decode so that absence is the only "unknown".
type Metrics map[string]float64

func (m *Metrics) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metrics, len(raw))
	for k, v := range raw {
		if f, ok := parseFlexFloat(v); ok {
			out[k] = f
		}
	}
	*m = out
	return nil
}

// HasMultiDay reports whether any full-only metric is present.
func (m Metrics) HasMultiDay() bool {
	for _, k := range MultiDayMetrics {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// IsMultiDayMetric reports whether name is a full-only metric.
func IsMultiDayMetric(name string) bool {
	for _, k := range MultiDayMetrics {
		if k == name {
			return true
		}
	}
	return false
}

// SnapshotItem is one watchlist entry sent to the snapshot endpoint.
type SnapshotItem struct {
	Symbol   string `json:"symbol"`
	Mode     string `json:"mode"`
	ID       string `json:"id,omitempty"`
	Chain    string `json:"chain,omitempty"`
	Contract string `json:"contract,omitempty"`
}

// Snapshot is a partial market record. Nil fields are unknown, not zero.
type Snapshot struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price,omitempty"`
	Change24h *float64 `json:"change24h,omitempty"`
	Volume24h *float64 `json:"volume24h,omitempty"`
	Liquidity *float64 `json:"liquidity,omitempty"`
	Source    string   `json:"source,omitempty"`
	Mode      string   `json:"mode,omitempty"`
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol    string          `json:"symbol"`
		Price     json.RawMessage `json:"price"`
		Change24h json.RawMessage `json:"change24h"`
		Volume24h json.RawMessage `json:"volume24h"`
		Liquidity json.RawMessage `json:"liquidity"`
		Source    string          `json:"source"`
		Mode      string          `json:"mode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Snapshot{
		Symbol:    raw.Symbol,
		Price:     flexFloatPtr(raw.Price),
		Change24h: flexFloatPtr(raw.Change24h),
		Volume24h: flexFloatPtr(raw.Volume24h),
		Liquidity: flexFloatPtr(raw.Liquidity),
		Source:    raw.Source,
		Mode:      raw.Mode,
	}
	return nil
}

// Order statuses.
const (
	StatusOpen      = "OPEN"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
)

// OrderID accepts both string and numeric ids.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	*id = OrderID(string(data))
	return nil
}

// Order is a simulated grid order.
type Order struct {
	ID     OrderID         `json:"id"`
	Item   string          `json:"item"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

// Size returns qty, or amount when qty is unset.
func (o Order) Size() decimal.Decimal {
	if !o.Qty.IsZero() {
		return o.Qty
	}
	return o.Amount
}

// NormalizeStatus uppercases a status and maps CANCELED to CANCELLED.
func NormalizeStatus(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "CANCELED" {
		return StatusCancelled
	}
	return s
}

// GridParams starts a grid session.
type GridParams struct {
	Item     string          `json:"item"`
	Lower    decimal.Decimal `json:"lower"`
	Upper    decimal.Decimal `json:"upper"`
	Levels   int             `json:"levels"`
	Budget   decimal.Decimal `json:"budget"`
	Mode     string          `json:"mode,omitempty"`
	Contract string          `json:"contract,omitempty"`
}

// OrderRequest adds a manual order.
type OrderRequest struct {
	Item   string          `json:"item"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// GridResponse is the common shape of grid lifecycle responses.
type GridResponse struct {
	OK      *bool   `json:"ok,omitempty"`
	Error   string  `json:"error,omitempty"`
	Running *bool   `json:"running,omitempty"`
	Orders  []Order `json:"orders,omitempty"`
}

// AIRequest asks for commentary on the current view.
type AIRequest struct {
	Question string `json:"question"`
	Context  any    `json:"context,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

func parseFlexFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func flexFloatPtr(raw json.RawMessage) *float64 {
	f, ok := parseFlexFloat(raw)
	if !ok {
		return nil
	}
	return &f
}
