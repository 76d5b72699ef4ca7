package meter

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/llm-meter/billing"
	"github.com/felipepmaragno/llm-meter/internal/metrics"
	"github.com/felipepmaragno/llm-meter/internal/telemetry"
	"github.com/felipepmaragno/llm-meter/journal"
	"github.com/felipepmaragno/llm-meter/modelid"
	"github.com/felipepmaragno/llm-meter/ratelimit"
)

// Normalizer canonicalizes a provider/model pair before it reaches the
// billing payload. modelid.Cache satisfies it.
type Normalizer interface {
	Canonical(provider, model string) string
}

type normalizeFunc func(provider, model string) string

func (f normalizeFunc) Canonical(provider, model string) string { return f(provider, model) }

// Reporter turns usage events into billing meter events. Report is
// fire-and-forget: it never blocks the caller and never surfaces dispatch
// errors to it. Billing problems show up in logs, metrics and the journal,
// not in the application's request path.
type Reporter struct {
	dispatcher billing.Dispatcher

	inputEventName   string
	outputEventName  string
	outcomeEventName string

	dedup      Deduplicator
	journal    journal.Journal
	logger     *slog.Logger
	limiter    ratelimit.RateLimiter
	limit      int
	timeout    time.Duration
	normalizer Normalizer

	wg sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithEventName sets the meter event name for both token types.
func WithEventName(name string) Option {
	return func(r *Reporter) {
		r.inputEventName = name
		r.outputEventName = name
	}
}

// WithTokenEventNames sets per-token-type meter event names. An empty name
// disables dispatch for that token type.
func WithTokenEventNames(input, output string) Option {
	return func(r *Reporter) {
		r.inputEventName = input
		r.outputEventName = output
	}
}

// WithOutcomeEventName enables outcome metering under the given event name.
func WithOutcomeEventName(name string) Option {
	return func(r *Reporter) { r.outcomeEventName = name }
}

// WithDeduplicator suppresses repeat dispatch of idempotency-keyed events.
func WithDeduplicator(d Deduplicator) Option {
	return func(r *Reporter) { r.dedup = d }
}

// WithJournal records every dispatch attempt for reconciliation.
func WithJournal(j journal.Journal) Option {
	return func(r *Reporter) { r.journal = j }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithRateLimit caps dispatches per customer per minute. Zero disables it.
func WithRateLimit(limiter ratelimit.RateLimiter, perMinute int) Option {
	return func(r *Reporter) {
		r.limiter = limiter
		r.limit = perMinute
	}
}

// WithDispatchTimeout bounds one background dispatch, including both billing
// calls of a token event.
func WithDispatchTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.timeout = d }
}

// WithNormalizer replaces the default model-ID normalizer, typically with a
// memoizing modelid.Cache.
func WithNormalizer(n Normalizer) Option {
	return func(r *Reporter) { r.normalizer = n }
}

func NewReporter(dispatcher billing.Dispatcher, opts ...Option) *Reporter {
	r := &Reporter{
		dispatcher:      dispatcher,
		inputEventName:  billing.DefaultEventName,
		outputEventName: billing.DefaultEventName,
		logger:          slog.Default(),
		timeout:         30 * time.Second,
		normalizer:      normalizeFunc(modelid.Canonical),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report dispatches up to two billing meter events for the usage in event,
// input tokens first. It returns immediately; dispatch runs detached from the
// caller's lifecycle.
func (r *Reporter) Report(event Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		r.dispatch(ctx, event)
	}()
}

// ReportOutcome dispatches a single valueless meter event marking a billable
// outcome, such as a completed task. Requires WithOutcomeEventName.
func (r *Reporter) ReportOutcome(event Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if r.outcomeEventName == "" {
			metrics.RecordSkip("outcome_event_unconfigured")
			return
		}
		if !r.admit(ctx, event) {
			return
		}

		r.send(ctx, event, billing.MeterEvent{
			EventName: r.outcomeEventName,
			Payload: billing.Payload{
				CustomerID: event.CustomerID,
				Model:      r.normalizer.Canonical(event.Provider, event.Model),
			},
			Account: event.Account,
		}, "outcome")
	}()
}

// Close waits for in-flight dispatches to finish, or for ctx to expire.
func (r *Reporter) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) dispatch(ctx context.Context, event Event) {
	if !r.admit(ctx, event) {
		return
	}

	model := r.normalizer.Canonical(event.Provider, event.Model)

	if event.Usage.InputTokens > 0 && r.inputEventName != "" {
		r.send(ctx, event, billing.MeterEvent{
			EventName: r.inputEventName,
			Payload: billing.Payload{
				CustomerID: event.CustomerID,
				Value:      strconv.Itoa(event.Usage.InputTokens),
				Model:      model,
				TokenType:  billing.TokenTypeInput,
			},
			Account: event.Account,
		}, string(billing.TokenTypeInput))
	}

	if event.Usage.OutputTokens > 0 && r.outputEventName != "" {
		r.send(ctx, event, billing.MeterEvent{
			EventName: r.outputEventName,
			Payload: billing.Payload{
				CustomerID: event.CustomerID,
				Value:      strconv.Itoa(event.Usage.OutputTokens),
				Model:      model,
				TokenType:  billing.TokenTypeOutput,
			},
			Account: event.Account,
		}, string(billing.TokenTypeOutput))
	}
}

// admit applies the pre-dispatch checks shared by token and outcome events.
func (r *Reporter) admit(ctx context.Context, event Event) bool {
	if event.CustomerID == "" {
		metrics.RecordSkip("missing_customer")
		return false
	}

	if r.limiter != nil && r.limit > 0 {
		allowed, err := r.limiter.Allow(ctx, event.CustomerID, r.limit)
		if err != nil {
			// Fail open: losing the limiter must not lose usage.
			r.logger.Warn("rate limiter unavailable, allowing dispatch",
				"customer_id", event.CustomerID, "error", err)
			return true
		}
		if !allowed {
			metrics.RecordSkip("rate_limited")
			r.logger.Warn("customer dispatch rate limited",
				"customer_id", event.CustomerID)
			return false
		}
	}

	return true
}

func (r *Reporter) send(ctx context.Context, event Event, me billing.MeterEvent, tokenType string) {
	if event.IdempotencyKey != "" {
		me.Identifier = event.IdempotencyKey + "-" + tokenType
		if r.dedup != nil {
			first, err := r.dedup.FirstSeen(ctx, me.Identifier)
			if err == nil && !first {
				metrics.RecordSkip("duplicate")
				return
			}
		}
	} else {
		me.Identifier = uuid.NewString()
	}

	me.Timestamp = time.Now().UTC()
	value, _ := strconv.Atoi(me.Payload.Value)

	spanCtx, span := telemetry.StartSpan(ctx, "billing.dispatch")
	defer span.End()
	telemetry.AddEventAttributes(span, me.Payload.Model, event.Provider, tokenType, value)

	start := time.Now()
	err := r.dispatcher.Dispatch(spanCtx, me)
	metrics.RecordDispatch(tokenType, time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		r.logger.Error("meter event dispatch failed",
			"event_name", me.EventName,
			"identifier", me.Identifier,
			"customer_id", me.Payload.CustomerID,
			"token_type", tokenType,
			"error", err)
	}

	if r.journal != nil {
		entry := journal.Entry{
			Identifier:   me.Identifier,
			EventName:    me.EventName,
			CustomerID:   me.Payload.CustomerID,
			Model:        me.Payload.Model,
			TokenType:    me.Payload.TokenType,
			Value:        value,
			DispatchedAt: me.Timestamp,
			Status:       journal.StatusSent,
		}
		if err != nil {
			entry.Status = journal.StatusFailed
			entry.Error = err.Error()
		}
		if jerr := r.journal.Record(ctx, entry); jerr != nil {
			r.logger.Warn("journal write failed", "identifier", me.Identifier, "error", jerr)
		}
	}
}
