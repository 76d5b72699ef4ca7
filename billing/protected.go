package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felipepmaragno/llm-meter/circuitbreaker"
	"github.com/felipepmaragno/llm-meter/notify"
)

// ProtectedDispatcher wraps a Dispatcher with a circuit breaker and optional
// alerting on state transitions. While the circuit is open every dispatch
// fails immediately; the reporter drops the event and logs.
type ProtectedDispatcher struct {
	next     Dispatcher
	breaker  circuitbreaker.CircuitBreaker
	notifier notify.Notifier

	mu      sync.Mutex
	wasOpen bool
}

func NewProtectedDispatcher(next Dispatcher, breaker circuitbreaker.CircuitBreaker, notifier notify.Notifier) *ProtectedDispatcher {
	return &ProtectedDispatcher{
		next:     next,
		breaker:  breaker,
		notifier: notifier,
	}
}

func (d *ProtectedDispatcher) Dispatch(ctx context.Context, event MeterEvent) error {
	if err := d.breaker.Allow(ctx); err != nil {
		return fmt.Errorf("billing backend unavailable: %w", err)
	}

	err := d.next.Dispatch(ctx, event)
	if err != nil {
		d.breaker.RecordFailure(ctx)
	} else {
		d.breaker.RecordSuccess(ctx)
	}

	d.observeState(ctx)
	return err
}

// observeState raises an alert when the breaker opens and another when it
// closes again. Transitions are detected locally, so with the Redis breaker
// every instance alerts at most once per transition it observes.
func (d *ProtectedDispatcher) observeState(ctx context.Context) {
	open := d.breaker.State(ctx) == circuitbreaker.StateOpen

	d.mu.Lock()
	changed := open != d.wasOpen
	d.wasOpen = open
	d.mu.Unlock()

	if !changed || d.notifier == nil {
		return
	}

	notification := notify.Notification{
		Type:    notify.NotificationBillingRecovered,
		Message: "billing backend recovered, dispatch resumed",
	}
	if open {
		notification = notify.Notification{
			Type:    notify.NotificationBillingDown,
			Message: "billing backend unreachable, meter events are being dropped",
		}
	}

	if err := d.notifier.Send(ctx, notification); err != nil {
		slog.Warn("failed to send billing alert", "type", notification.Type, "error", err)
	}
}
