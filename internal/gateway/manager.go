// Package gateway keeps one broker gateway per account with failure accounting.
package gateway

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logger"
)

var (
	ErrAccountRequired  = errors.New("account id is required")
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
	ErrPoolFull         = errors.New("gateway pool is full")
)

// Factory creates the gateway of one account.
type Factory func(accountID string) (broker.Gateway, error)

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // accounts kept before the least recently used is closed
	IdleTimeout      time.Duration // unused gateways older than this are closed
	HealthInterval   time.Duration // Ping cadence for gateways that support it
	FailureThreshold int           // consecutive outages that open the circuit
	CircuitTimeout   time.Duration // how long an open circuit refuses Get
	Now              func() time.Time
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 5,
		CircuitTimeout:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = def.MaxSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = def.CircuitTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// entry is one pooled account gateway; it lives in Manager.lru.
type entry struct {
	account   string
	gw        broker.Gateway
	lastUsed  time.Time
	healthyAt time.Time
	failures  int
}

// Manager pools per-account gateways. Entries are closed when least recently
// used beyond MaxSize or idle past IdleTimeout, and an account whose gateway
// keeps failing is refused for CircuitTimeout.
type Manager struct {
	cfg     Config
	factory Factory

	mu        sync.Mutex
	lru       *list.List // front = most recently used
	byAccount map[string]*list.Element
	evictions int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates an empty pool; zero Config fields take DefaultConfig values.
func NewManager(factory Factory, cfg Config) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		factory:   factory,
		lru:       list.New(),
		byAccount: make(map[string]*list.Element),
		stopCh:    make(chan struct{}),
	}
}

// Start runs idle cleanup and health probing until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		idle := time.NewTicker(m.cfg.IdleTimeout / 2)
		health := time.NewTicker(m.cfg.HealthInterval)
		defer idle.Stop()
		defer health.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-idle.C:
				m.closeIdle()
			case <-health.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop ends the background loop and closes every pooled gateway.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for el := m.lru.Front(); el != nil; el = el.Next() {
		closeGateway(el.Value.(*entry).gw)
	}
	m.lru.Init()
	m.byAccount = make(map[string]*list.Element)
}

// Get returns the account's gateway, creating it on first use. The returned
// gateway reports its own outcomes back to the pool.
func (m *Manager) Get(ctx context.Context, accountID string) (broker.Gateway, error) {
	if accountID == "" {
		return nil, ErrAccountRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.byAccount[accountID]; ok {
		e := el.Value.(*entry)
		if e.failures >= m.cfg.FailureThreshold && m.cfg.Now().Sub(e.healthyAt) < m.cfg.CircuitTimeout {
			return nil, fmt.Errorf("%w: %w: account %s", broker.ErrUnavailable, ErrGatewayUnhealthy, accountID)
		}
		e.lastUsed = m.cfg.Now()
		m.lru.MoveToFront(el)
		return &tracked{Gateway: e.gw, account: accountID, pool: m}, nil
	}

	if m.lru.Len() >= m.cfg.MaxSize && !m.evictLocked() {
		return nil, ErrPoolFull
	}
	gw, err := m.factory(accountID)
	if err != nil {
		return nil, fmt.Errorf("create gateway for %s: %w", accountID, err)
	}
	now := m.cfg.Now()
	m.byAccount[accountID] = m.lru.PushFront(&entry{account: accountID, gw: gw, lastUsed: now, healthyAt: now})
	return &tracked{Gateway: gw, account: accountID, pool: m}, nil
}

// Remove closes and forgets the account's gateway.
func (m *Manager) Remove(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.byAccount[accountID]; ok {
		m.dropLocked(el)
	}
}

// RecordFailure counts one outage against the account's gateway.
func (m *Manager) RecordFailure(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.byAccount[accountID]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	e.failures++
	if e.failures == m.cfg.FailureThreshold {
		logger.WithComponent("gateway").WithFields(logger.Fields{
			"account": accountID, "failures": e.failures,
		}).Warn("gateway circuit opened")
	}
}

// RecordSuccess closes the account's circuit.
func (m *Manager) RecordSuccess(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.byAccount[accountID]; ok {
		e := el.Value.(*entry)
		e.failures = 0
		e.healthyAt = m.cfg.Now()
	}
}

// PoolStats contains gateway pool statistics.
type PoolStats struct {
	TotalGateways  int `json:"total_gateways"`
	MaxSize        int `json:"max_size"`
	UnhealthyCount int `json:"unhealthy_count"`
	Evictions      int `json:"evictions"`
}

func (m *Manager) Stats() PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := PoolStats{TotalGateways: m.lru.Len(), MaxSize: m.cfg.MaxSize, Evictions: m.evictions}
	for el := m.lru.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).failures >= m.cfg.FailureThreshold {
			st.UnhealthyCount++
		}
	}
	return st
}

func (m *Manager) evictLocked() bool {
	el := m.lru.Back()
	if el == nil {
		return false
	}
	logger.WithComponent("gateway").WithField("account", el.Value.(*entry).account).Debug("evicting least recently used gateway")
	m.dropLocked(el)
	m.evictions++
	return true
}

func (m *Manager) dropLocked(el *list.Element) {
	e := m.lru.Remove(el).(*entry)
	delete(m.byAccount, e.account)
	closeGateway(e.gw)
}

func (m *Manager) closeIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.cfg.Now().Add(-m.cfg.IdleTimeout)
	// Oldest entries sit at the back.
	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).lastUsed.After(cutoff) {
			break
		}
		m.dropLocked(el)
		el = prev
	}
}

// probe pings every pooled gateway that implements Ping outside the lock.
func (m *Manager) probe(ctx context.Context) {
	type target struct {
		account string
		pinger  interface{ Ping(context.Context) error }
	}
	m.mu.Lock()
	targets := make([]target, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if p, ok := e.gw.(interface{ Ping(context.Context) error }); ok {
			targets = append(targets, target{e.account, p})
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := t.pinger.Ping(pctx)
		cancel()
		if err != nil {
			m.RecordFailure(t.account)
		} else {
			m.RecordSuccess(t.account)
		}
	}
}

func closeGateway(gw broker.Gateway) {
	if closer, ok := gw.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
