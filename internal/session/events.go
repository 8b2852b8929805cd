package session

import (
	"sync"
	"time"
)

// EventType names a session notification.
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventTick          EventType = "tick"
	EventOrder         EventType = "order"
	EventRiskExit      EventType = "risk_exit"
)

// Event is delivered to observers registered on the Registry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Status    Status    `json:"status,omitempty"`
	Previous  Status    `json:"previous,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Observer is called synchronously from the emitting session; it must not block.
type Observer func(Event)

type observers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
