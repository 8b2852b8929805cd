package session

import (
	"errors"

	"autotrade-core/pkg/broker"
)

var (
	// ErrInvalidConfiguration rejects a session before it is registered.
	ErrInvalidConfiguration = errors.New("invalid session configuration")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a request does not fit the current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrGatewayUnavailable marks price, history or order calls that failed.
	ErrGatewayUnavailable = broker.ErrUnavailable
	// ErrTickTimeout marks a tick that ran past its deadline.
	ErrTickTimeout = errors.New("tick timed out")
)
