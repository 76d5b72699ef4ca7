// Package config loads pipeline settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	LogLevel string

	// Billing ingestion. BillingSecretName, when set, overrides BillingAPIKey
	// with credentials from AWS Secrets Manager. QueueURL, when set, routes
	// meter events through SQS instead of the HTTP API.
	BillingEndpoint   string
	BillingAPIKey     string
	BillingSecretName string
	EventName         string
	QueueURL          string

	AWSRegion   string
	SNSTopicARN string
	RedisURL    string
	DatabaseURL string

	OTLPEndpoint string

	// TeeBufferLimit bounds per-branch buffering for teed streams.
	TeeBufferLimit int

	// DispatchTimeout bounds one background billing dispatch.
	DispatchTimeout time.Duration

	// CustomerEventsPerMinute caps dispatches per billing customer.
	// Zero disables the limiter.
	CustomerEventsPerMinute int

	// DedupTTL is how long dispatched idempotency keys are remembered.
	DedupTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		BillingEndpoint:         getEnv("BILLING_ENDPOINT", ""),
		BillingAPIKey:           getEnv("BILLING_API_KEY", ""),
		BillingSecretName:       getEnv("BILLING_SECRET_NAME", ""),
		EventName:               getEnv("BILLING_EVENT_NAME", "token-billing-tokens"),
		QueueURL:                getEnv("BILLING_QUEUE_URL", ""),
		AWSRegion:               getEnv("AWS_REGION", ""),
		SNSTopicARN:             getEnv("SNS_TOPIC_ARN", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		OTLPEndpoint:            getEnv("OTLP_ENDPOINT", ""),
		TeeBufferLimit:          getIntEnv("TEE_BUFFER_LIMIT", 4096),
		DispatchTimeout:         getDurationEnv("DISPATCH_TIMEOUT", 30*time.Second),
		CustomerEventsPerMinute: getIntEnv("CUSTOMER_EVENTS_PER_MINUTE", 0),
		DedupTTL:                getDurationEnv("DEDUP_TTL", 24*time.Hour),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
