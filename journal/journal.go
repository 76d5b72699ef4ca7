// Package journal keeps a local audit trail of dispatched meter events for
// reconciliation against the billing backend. The backend remains the system
// of record; the pipeline never reads the journal back.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-meter/billing"
)

// Entry records one billing dispatch attempt.
type Entry struct {
	Identifier   string
	EventName    string
	CustomerID   string
	Model        string
	TokenType    billing.TokenType
	Value        int
	DispatchedAt time.Time
	Status       string // "sent" or "failed"
	Error        string
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Journal persists dispatch entries. Implementations must be safe for
// concurrent use by in-flight metering tasks.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	CustomerEntries(ctx context.Context, customerID string, since time.Time) ([]Entry, error)
	CustomerTokenTotal(ctx context.Context, customerID string, tokenType billing.TokenType, since time.Time) (int64, error)
}

// InMemory keeps entries in process memory. Suitable for tests and
// single-instance deployments that only need best-effort reconciliation.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (j *InMemory) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
	return nil
}

func (j *InMemory) CustomerEntries(ctx context.Context, customerID string, since time.Time) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []Entry
	for _, e := range j.entries {
		if e.CustomerID == customerID && e.DispatchedAt.After(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (j *InMemory) CustomerTokenTotal(ctx context.Context, customerID string, tokenType billing.TokenType, since time.Time) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var total int64
	for _, e := range j.entries {
		if e.CustomerID == customerID && e.TokenType == tokenType && e.Status == StatusSent && e.DispatchedAt.After(since) {
			total += int64(e.Value)
		}
	}
	return total, nil
}

// AllEntries returns a copy of every entry. Used in tests.
func (j *InMemory) AllEntries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
