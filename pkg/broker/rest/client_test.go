package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/broker"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:       srv.URL,
		APIKey:        "k",
		Timeout:       2 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
		RequestBudget: 100,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCurrentPriceRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-KEY"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set(usageHeader, "42")
		writeJSON(w, http.StatusOK, map[string]any{"code": "AAPL", "price": 187.5})
	}))

	price, err := c.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.5, price)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	used, limit, _ := c.Usage()
	assert.Equal(t, 42, used)
	assert.Equal(t, 100, limit)
}

func TestCurrentPriceGivesUpAsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.CurrentPrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrUnavailable))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad key"})
	}))

	_, err := c.PriceHistory(context.Background(), "AAPL", 30)
	assert.True(t, errors.Is(err, broker.ErrUnavailable))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmitOrder(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         any
		wantAccepted bool
		wantErr      bool
	}{
		{"accepted fill", http.StatusOK, map[string]any{"accepted": true, "fill_price": 101.0, "filled_qty": 5, "order_ref": "o-1"}, true, false},
		{"venue rejection", http.StatusUnprocessableEntity, map[string]any{"accepted": true, "message": "insufficient cash"}, false, false},
		{"outage", http.StatusInternalServerError, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				var p orderPayload
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
				assert.Equal(t, "BUY", p.Side)
				assert.Equal(t, "ref-1", p.ClientRef)
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			}))

			res, err := c.SubmitOrder(context.Background(), broker.OrderRequest{
				AccountID: "acct", Code: "AAPL", Side: broker.SideBuy, Qty: 5, ClientRef: "ref-1",
			})
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "orders must never be retried")
			if tt.wantErr {
				assert.True(t, errors.Is(err, broker.ErrUnavailable))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, res.Accepted)
		})
	}
}

func TestMarketOpenAndPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/market/domestic/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"is_open": true})
	})
	mux.HandleFunc("/v1/accounts/acct/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"positions": []map[string]any{{"code": "005930", "qty": 10, "avg_cost": 70000}},
		})
	})
	c := newTestClient(t, mux)

	open, err := c.MarketOpen(context.Background(), broker.SegmentDomestic)
	require.NoError(t, err)
	assert.True(t, open)

	holdings, err := c.Positions(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, broker.Holding{Code: "005930", Qty: 10, AvgCost: 70000}, holdings[0])
}
