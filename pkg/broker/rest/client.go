// Package rest implements broker.Gateway over the venue's HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logger"
)

const usageHeader = "X-RateLimit-Used"

// Config configures the HTTP gateway.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	MaxRetries int
	// RetryInterval is the first backoff step for idempotent reads.
	RetryInterval time.Duration
	// RequestBudget is the venue's per-minute request allowance, 0 disables tracking.
	RequestBudget int
}

// Client talks to the venue REST API. Reads are retried, order submission never is.
type Client struct {
	http  *resty.Client
	cfg   Config
	usage *broker.UsageTracker
}

var (
	_ broker.Gateway     = (*Client)(nil)
	_ broker.MarketClock = (*Client)(nil)
	_ broker.Canceler    = (*Client)(nil)
)

// New builds a client. Timeout defaults to 15s.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	host := strings.TrimSuffix(cfg.BaseURL, "/")

	hc := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "autotrade-core")
	if cfg.APIKey != "" {
		hc.SetHeader("X-API-KEY", cfg.APIKey)
	}
	if cfg.APISecret != "" {
		hc.SetHeader("X-API-SECRET", cfg.APISecret)
	}

	return &Client{
		http:  hc,
		cfg:   cfg,
		usage: broker.NewUsageTracker(cfg.RequestBudget, time.Minute),
	}
}

type quoteResponse struct {
	Code  string  `json:"code"`
	Price float64 `json:"price"`
}

type historyResponse struct {
	Points []broker.Point `json:"points"`
}

type orderPayload struct {
	AccountID string  `json:"account_id"`
	Code      string  `json:"code"`
	Side      string  `json:"side"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price,omitempty"`
	ClientRef string  `json:"client_ref"`
}

type orderResponse struct {
	Accepted  bool    `json:"accepted"`
	FillPrice float64 `json:"fill_price"`
	FilledQty float64 `json:"filled_qty"`
	OrderRef  string  `json:"order_ref"`
	Message   string  `json:"message"`
}

type positionsResponse struct {
	Positions []struct {
		Code    string  `json:"code"`
		Qty     float64 `json:"qty"`
		AvgCost float64 `json:"avg_cost"`
	} `json:"positions"`
}

type marketStatusResponse struct {
	IsOpen bool `json:"is_open"`
}

// CurrentPrice returns the last traded price of code.
func (c *Client) CurrentPrice(ctx context.Context, code string) (float64, error) {
	var out quoteResponse
	if err := c.getJSON(ctx, "/v1/quotes/"+code, nil, &out); err != nil {
		return 0, err
	}
	if out.Price <= 0 {
		return 0, errors.Wrapf(broker.ErrUnavailable, "quote %s: non-positive price %v", code, out.Price)
	}
	return out.Price, nil
}

// PriceHistory returns daily closes for the trailing days, oldest first.
func (c *Client) PriceHistory(ctx context.Context, code string, days int) ([]broker.Point, error) {
	var out historyResponse
	params := map[string]string{"days": strconv.Itoa(days)}
	if err := c.getJSON(ctx, "/v1/history/"+code, params, &out); err != nil {
		return nil, err
	}
	return out.Points, nil
}

// Positions returns the holdings the venue reports for accountID.
func (c *Client) Positions(ctx context.Context, accountID string) ([]broker.Holding, error) {
	var out positionsResponse
	if err := c.getJSON(ctx, "/v1/accounts/"+accountID+"/positions", nil, &out); err != nil {
		return nil, err
	}
	holdings := make([]broker.Holding, 0, len(out.Positions))
	for _, p := range out.Positions {
		holdings = append(holdings, broker.Holding{Code: p.Code, Qty: p.Qty, AvgCost: p.AvgCost})
	}
	return holdings, nil
}

// MarketOpen asks the venue whether segment is currently trading.
func (c *Client) MarketOpen(ctx context.Context, segment broker.Segment) (bool, error) {
	var out marketStatusResponse
	if err := c.getJSON(ctx, "/v1/market/"+string(segment)+"/status", nil, &out); err != nil {
		return false, err
	}
	return out.IsOpen, nil
}

// SubmitOrder sends one order. A transport failure is reported as ErrUnavailable;
// a venue rejection is a normal result with Accepted=false.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	payload := orderPayload{
		AccountID: req.AccountID,
		Code:      req.Code,
		Side:      string(req.Side),
		Qty:       req.Qty,
		Price:     req.Price,
		ClientRef: req.ClientRef,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/v1/orders")
	if err != nil {
		return broker.OrderResult{}, errors.Wrapf(broker.ErrUnavailable, "POST /v1/orders: %v", err)
	}
	c.usage.UpdateFromHeader(resp.Header().Get(usageHeader))

	// 4xx with a body is a rejection; anything else non-2xx is an outage.
	if resp.StatusCode() >= 500 || (resp.IsError() && len(resp.Body()) == 0) {
		return broker.OrderResult{}, errors.Wrapf(broker.ErrUnavailable, "POST /v1/orders: status %d", resp.StatusCode())
	}

	var out orderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return broker.OrderResult{}, errors.Wrapf(broker.ErrUnavailable, "decode order ack: %v", err)
	}
	if resp.IsError() {
		out.Accepted = false
		if out.Message == "" {
			out.Message = resp.Status()
		}
	}
	return broker.OrderResult{
		Accepted:  out.Accepted,
		FillPrice: out.FillPrice,
		FilledQty: out.FilledQty,
		OrderRef:  out.OrderRef,
		Message:   out.Message,
	}, nil
}

// CancelOpenOrders cancels every resting order of accountID.
func (c *Client) CancelOpenOrders(ctx context.Context, accountID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/v1/accounts/" + accountID + "/orders")
	if err != nil {
		return errors.Wrapf(broker.ErrUnavailable, "DELETE orders of %s: %v", accountID, err)
	}
	c.usage.UpdateFromHeader(resp.Header().Get(usageHeader))
	if resp.IsError() {
		return errors.Wrapf(broker.ErrUnavailable, "DELETE orders of %s: status %d", accountID, resp.StatusCode())
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Ping checks that the venue answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var out healthResponse
	return c.getJSON(ctx, "/v1/health", nil, &out)
}

// Usage exposes the tracked request budget.
func (c *Client) Usage() (used int, limit int, percentage float64) {
	return c.usage.Usage()
}

// getJSON performs an idempotent GET with exponential backoff on transient failures.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxInterval = c.cfg.RetryInterval * 10

	log := logger.WithComponent("broker.rest").WithField("path", path)
	notify := func(err error, wait time.Duration) {
		log.WithError(err).Debugf("retrying in %s", wait)
	}

	operation := func() ([]byte, error) {
		if c.usage.ShouldDelay() {
			log.Warn("request budget nearly exhausted")
		}
		resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
		if err != nil {
			return nil, err
		}
		c.usage.UpdateFromHeader(resp.Header().Get(usageHeader))
		switch {
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
			return nil, errors.Errorf("status %d", resp.StatusCode())
		case resp.IsError():
			return nil, backoff.Permanent(errors.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
		}
		return resp.Body(), nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(c.cfg.Timeout),
		backoff.WithNotify(notify))
	if err != nil {
		return errors.Wrapf(broker.ErrUnavailable, "GET %s: %v", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(broker.ErrUnavailable, "decode %s: %v", path, err)
	}
	return nil
}
