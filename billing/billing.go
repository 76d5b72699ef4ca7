// Package billing dispatches meter events to the usage ingestion backend.
// The backend is the system of record for billable usage; this package is a
// producer only.
package billing

import (
	"context"
	"sync"
	"time"
)

// DefaultEventName is the meter event name under which token usage is
// ingested.
const DefaultEventName = "token-billing-tokens"

// TokenType tags a meter event as billing input or output tokens.
type TokenType string

const (
	TokenTypeInput  TokenType = "input"
	TokenTypeOutput TokenType = "output"
)

// MeterEvent is one ingestion-API record. Timestamp is set at time of send,
// not at the time of the originating request.
type MeterEvent struct {
	EventName  string    `json:"event_name"`
	Identifier string    `json:"identifier,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    Payload   `json:"payload"`

	// Account optionally routes the event to a connected account.
	Account string `json:"account,omitempty"`
}

// Payload carries the billable quantities. Value is serialized as a string,
// matching the ingestion API's wire format.
type Payload struct {
	CustomerID string    `json:"customer_id"`
	Value      string    `json:"value,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokenType  TokenType `json:"token_type,omitempty"`
}

// Dispatcher sends meter events to the billing backend. Implementations must
// be safe for concurrent use; each in-flight metering task builds its own
// request payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, event MeterEvent) error
}

// InMemoryDispatcher records events instead of sending them. Used in tests
// and local development.
type InMemoryDispatcher struct {
	mu     sync.Mutex
	events []MeterEvent

	// Err, when set, is returned by every Dispatch call.
	Err error
}

func NewInMemoryDispatcher() *InMemoryDispatcher {
	return &InMemoryDispatcher{}
}

func (d *InMemoryDispatcher) Dispatch(ctx context.Context, event MeterEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Err != nil {
		return d.Err
	}
	d.events = append(d.events, event)
	return nil
}

// Events returns a copy of everything dispatched so far.
func (d *InMemoryDispatcher) Events() []MeterEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]MeterEvent, len(d.events))
	copy(out, d.events)
	return out
}
