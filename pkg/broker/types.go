package broker

import (
	"fmt"
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Segment identifies a market segment with its own trading hours.
type Segment string

const (
	SegmentDomestic Segment = "domestic"
	SegmentGlobal   Segment = "global"
)

// ParseSegment normalizes a user-supplied segment name.
func ParseSegment(s string) (Segment, error) {
	switch Segment(strings.ToLower(strings.TrimSpace(s))) {
	case SegmentDomestic:
		return SegmentDomestic, nil
	case SegmentGlobal:
		return SegmentGlobal, nil
	}
	return "", fmt.Errorf("unknown market segment %q", s)
}

// Point is one close of a price series.
type Point struct {
	Time  time.Time `json:"time"`
	Close float64   `json:"close"`
}

// Closes extracts the close prices of a series in order.
func Closes(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Close
	}
	return out
}

// OrderRequest captures an order intent sent to the venue.
type OrderRequest struct {
	AccountID string
	Code      string
	Side      Side
	Qty       float64
	Price     float64 // 0 means market
	ClientRef string  // idempotency key supplied by the caller
}

// OrderResult is the venue acknowledgement. Only Accepted results carry a fill.
type OrderResult struct {
	Accepted  bool
	FillPrice float64
	FilledQty float64
	OrderRef  string
	Message   string
}

// Holding is a position as reported by the venue.
type Holding struct {
	Code    string
	Qty     float64
	AvgCost float64
}
