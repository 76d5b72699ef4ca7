// Package llmmeter meters LLM token usage for billing. It detects usage in
// provider responses (OpenAI, Anthropic, Gemini), normalizes model IDs, tees
// streaming responses so metering never consumes the caller's copy, and
// dispatches billing meter events fire-and-forget. Metering is invisible to
// the application: no failure in this package ever surfaces on the request
// path.
package llmmeter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felipepmaragno/llm-meter/billing"
	"github.com/felipepmaragno/llm-meter/circuitbreaker"
	"github.com/felipepmaragno/llm-meter/config"
	"github.com/felipepmaragno/llm-meter/detect"
	"github.com/felipepmaragno/llm-meter/internal/metrics"
	"github.com/felipepmaragno/llm-meter/internal/telemetry"
	"github.com/felipepmaragno/llm-meter/journal"
	"github.com/felipepmaragno/llm-meter/meter"
	"github.com/felipepmaragno/llm-meter/modelid"
	"github.com/felipepmaragno/llm-meter/notify"
	"github.com/felipepmaragno/llm-meter/ratelimit"
	"github.com/felipepmaragno/llm-meter/secrets"
	"github.com/felipepmaragno/llm-meter/stream"
)

// Metering is the assembled pipeline. One instance is shared across all
// requests of an application.
type Metering struct {
	cfg      *config.Config
	reporter *meter.Reporter
	cache    *modelid.Cache
	logger   *slog.Logger

	// meters tracks background stream-extraction goroutines so Drain can
	// wait for usage that is still being accumulated.
	meters sync.WaitGroup

	shutdownTelemetry func(context.Context) error
}

type buildOptions struct {
	dispatcher billing.Dispatcher
	journal    journal.Journal
	notifier   notify.Notifier
	breaker    circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// BuildOption overrides a pipeline component, mainly for tests and local
// development.
type BuildOption func(*buildOptions)

// WithDispatcher bypasses dispatcher construction from config.
func WithDispatcher(d billing.Dispatcher) BuildOption {
	return func(o *buildOptions) { o.dispatcher = d }
}

func WithJournal(j journal.Journal) BuildOption {
	return func(o *buildOptions) { o.journal = j }
}

func WithNotifier(n notify.Notifier) BuildOption {
	return func(o *buildOptions) { o.notifier = n }
}

func WithCircuitBreaker(b circuitbreaker.CircuitBreaker) BuildOption {
	return func(o *buildOptions) { o.breaker = b }
}

func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

// New assembles the metering pipeline from configuration. Credentials come
// from Secrets Manager when BillingSecretName is set, otherwise from the
// config itself. With QueueURL set meter events go through SQS instead of
// the billing HTTP API; with RedisURL set the circuit breaker, deduplicator
// and rate limiter coordinate across instances.
func New(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*Metering, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error

	dispatcher := o.dispatcher
	if dispatcher == nil {
		dispatcher, err = buildDispatcher(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	breaker := o.breaker
	if breaker == nil {
		if cfg.RedisURL != "" {
			breaker, err = circuitbreaker.NewRedis(cfg.RedisURL, circuitbreaker.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("init circuit breaker: %w", err)
			}
		} else {
			breaker = circuitbreaker.NewInMemory(circuitbreaker.DefaultConfig())
		}
	}

	notifier := o.notifier
	if notifier == nil && cfg.SNSTopicARN != "" {
		notifier, err = notify.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			return nil, fmt.Errorf("init notifier: %w", err)
		}
	}

	protected := billing.NewProtectedDispatcher(dispatcher, breaker, notifier)

	var dedup meter.Deduplicator
	if cfg.RedisURL != "" {
		dedup, err = meter.NewRedisDeduplicator(cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			return nil, fmt.Errorf("init deduplicator: %w", err)
		}
	} else {
		dedup = meter.NewInMemoryDeduplicator(cfg.DedupTTL)
	}

	jnl := o.journal
	if jnl == nil && cfg.DatabaseURL != "" {
		jnl, err = journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	cache, err := modelid.NewCache()
	if err != nil {
		return nil, fmt.Errorf("init normalizer cache: %w", err)
	}

	reporterOpts := []meter.Option{
		meter.WithEventName(cfg.EventName),
		meter.WithDeduplicator(dedup),
		meter.WithLogger(logger),
		meter.WithDispatchTimeout(cfg.DispatchTimeout),
		meter.WithNormalizer(cache),
	}
	if jnl != nil {
		reporterOpts = append(reporterOpts, meter.WithJournal(jnl))
	}
	if cfg.CustomerEventsPerMinute > 0 {
		var limiter ratelimit.RateLimiter
		if cfg.RedisURL != "" {
			limiter, err = ratelimit.NewRedisRateLimiter(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("init rate limiter: %w", err)
			}
		} else {
			limiter = ratelimit.NewInMemoryRateLimiter()
		}
		reporterOpts = append(reporterOpts, meter.WithRateLimit(limiter, cfg.CustomerEventsPerMinute))
	}

	// Telemetry registers a global tracer provider, so it comes last: a
	// failure in any constructor above must not leave the global behind.
	shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return &Metering{
		cfg:               cfg,
		reporter:          meter.NewReporter(protected, reporterOpts...),
		cache:             cache,
		logger:            logger,
		shutdownTelemetry: shutdown,
	}, nil
}

func buildDispatcher(ctx context.Context, cfg *config.Config) (billing.Dispatcher, error) {
	if cfg.QueueURL != "" {
		d, err := billing.NewSQSDispatcher(ctx, cfg.AWSRegion, cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("init sqs dispatcher: %w", err)
		}
		return d, nil
	}

	apiKey := cfg.BillingAPIKey
	endpoint := cfg.BillingEndpoint

	if cfg.BillingSecretName != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("init secrets manager: %w", err)
		}
		creds, err := secrets.LoadBillingCredentials(ctx, store, cfg.BillingSecretName)
		if err != nil {
			return nil, err
		}
		apiKey = creds.APIKey
		if creds.Endpoint != "" {
			endpoint = creds.Endpoint
		}
	}

	if endpoint == "" || apiKey == "" {
		return nil, errors.New("billing endpoint and api key are required")
	}

	return billing.NewClient(endpoint, apiKey), nil
}

// Report dispatches a usage event directly, for callers that already hold
// token counts.
func (m *Metering) Report(event meter.Event) {
	m.reporter.Report(event)
}

// ReportOutcome dispatches an outcome meter event. See meter.Reporter.
func (m *Metering) ReportOutcome(event meter.Event) {
	m.reporter.ReportOutcome(event)
}

// MeterResponse detects usage in a non-streaming provider response and
// reports it. Unrecognized shapes are counted and logged, never returned as
// errors.
func (m *Metering) MeterResponse(v any, customerID string) {
	detected := detect.Detect(v)
	if detected == nil {
		metrics.RecordDetectionMiss()
		m.logger.Warn("response shape not recognized, usage not metered",
			"customer_id", customerID)
		return
	}
	m.reporter.Report(m.event(detected, customerID))
}

// MeterChatStream tees an OpenAI chat completion stream, metering one branch
// in the background. The caller consumes the returned pair exactly as it
// would the original.
func (m *Metering) MeterChatStream(ctx context.Context, chunks <-chan stream.ChatChunk, errs <-chan error, customerID string) (<-chan stream.ChatChunk, <-chan error) {
	out, tap, outErrs, tapErrs := stream.TeePairLimit(chunks, errs, m.cfg.TeeBufferLimit)

	bg := context.WithoutCancel(ctx)
	m.meters.Add(1)
	go func() {
		defer m.meters.Done()
		m.metered(stream.FromChatCompletion(bg, tap, tapErrs), customerID)
	}()

	return out, outErrs
}

// MeterResponseStream is MeterChatStream for the OpenAI response API.
func (m *Metering) MeterResponseStream(ctx context.Context, events <-chan stream.ResponseEvent, errs <-chan error, customerID string) (<-chan stream.ResponseEvent, <-chan error) {
	out, tap, outErrs, tapErrs := stream.TeePairLimit(events, errs, m.cfg.TeeBufferLimit)

	bg := context.WithoutCancel(ctx)
	m.meters.Add(1)
	go func() {
		defer m.meters.Done()
		m.metered(stream.FromResponseAPI(bg, tap, tapErrs), customerID)
	}()

	return out, outErrs
}

// MeterMessageStream is MeterChatStream for Anthropic messages streams.
func (m *Metering) MeterMessageStream(ctx context.Context, events <-chan stream.MessageEvent, errs <-chan error, customerID string) (<-chan stream.MessageEvent, <-chan error) {
	out, tap, outErrs, tapErrs := stream.TeePairLimit(events, errs, m.cfg.TeeBufferLimit)

	bg := context.WithoutCancel(ctx)
	m.meters.Add(1)
	go func() {
		defer m.meters.Done()
		m.metered(stream.FromMessages(bg, tap, tapErrs), customerID)
	}()

	return out, outErrs
}

// MeterGenerateStream forks a Gemini generate-content stream, metering one
// fork in the background and returning the other.
func (m *Metering) MeterGenerateStream(ctx context.Context, gs stream.GenerateStream, customerID string) stream.GenerateStream {
	out, tap := stream.TeeGenerate(gs, m.cfg.TeeBufferLimit)

	bg := context.WithoutCancel(ctx)
	m.meters.Add(1)
	go func() {
		defer m.meters.Done()
		m.metered(stream.FromGenerateContent(bg, tap), customerID)
	}()

	return out
}

func (m *Metering) metered(detected *meter.DetectedResponse, customerID string) {
	if detected == nil {
		metrics.RecordDetectionMiss()
		m.logger.Warn("stream yielded no usage, not metered", "customer_id", customerID)
		return
	}
	m.reporter.Report(m.event(detected, customerID))
}

func (m *Metering) event(detected *meter.DetectedResponse, customerID string) meter.Event {
	return meter.Event{
		Model:      detected.Model,
		Provider:   string(detected.Provider),
		Usage:      detected.Usage,
		CustomerID: customerID,
	}
}

// Drain waits for in-flight stream extractions and billing dispatches to
// finish, or for ctx to expire. The pipeline stays usable afterwards.
func (m *Metering) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.meters.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.reporter.Close(ctx)
}

// Close drains in-flight work and releases pipeline resources.
func (m *Metering) Close(ctx context.Context) error {
	err := m.Drain(ctx)
	m.cache.Close()
	if serr := m.shutdownTelemetry(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}
