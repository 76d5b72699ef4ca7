package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep state transitions atomic across the multiple keys one
// breaker uses, so every metering instance sees the same circuit.

// allowScript checks if a dispatch should be allowed and handles the
// open -> half-open transition.
// Keys: [state_key, last_failure_key, successes_key]
// Args: [timeout_seconds]
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local timeout = tonumber(ARGV[1])

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= timeout then
        redis.call('SET', KEYS[1], 'half-open')
        redis.call('SET', KEYS[3], '0')
        return 'half-open'
    end
    return 'open'
end

return state
`)

// recordSuccessScript records a successful dispatch.
// Keys: [state_key, failures_key, successes_key]
// Args: [success_threshold]
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'closed' then
    redis.call('SET', KEYS[2], '0')
    return 'closed'
end

if state == 'half-open' then
    local successes = redis.call('INCR', KEYS[3])
    local threshold = tonumber(ARGV[1])

    if successes >= threshold then
        redis.call('SET', KEYS[1], 'closed')
        redis.call('SET', KEYS[2], '0')
        redis.call('SET', KEYS[3], '0')
        return 'closed'
    end
    return 'half-open'
end

return state
`)

// recordFailureScript records a failed dispatch.
// Keys: [state_key, failures_key, last_failure_key, successes_key]
// Args: [failure_threshold]
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    local threshold = tonumber(ARGV[1])

    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[4], '0')
    return 'open'
end

return state
`)

// Redis is the distributed implementation. Multiple metering instances share
// one circuit for the billing backend.
type Redis struct {
	client    *redis.Client
	config    Config
	keyPrefix string
}

func NewRedis(redisURL string, cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{
		client:    client,
		config:    cfg,
		keyPrefix: "llmmeter:breaker:billing:",
	}, nil
}

// NewRedisWithClient wires an existing client. Used in tests.
func NewRedisWithClient(client *redis.Client, cfg Config) *Redis {
	return &Redis{
		client:    client,
		config:    cfg,
		keyPrefix: "llmmeter:breaker:billing:",
	}
}

func (cb *Redis) keys() (state, failures, lastFailure, successes string) {
	return cb.keyPrefix + "state",
		cb.keyPrefix + "failures",
		cb.keyPrefix + "last_failure",
		cb.keyPrefix + "successes"
}

func (cb *Redis) Allow(ctx context.Context) error {
	stateKey, _, lastFailureKey, successesKey := cb.keys()

	result, err := allowScript.Run(ctx, cb.client,
		[]string{stateKey, lastFailureKey, successesKey},
		strconv.Itoa(int(cb.config.Timeout.Seconds())),
	).Text()
	if err != nil {
		// Redis unavailable: fail open so billing continues on the backend's
		// own error handling rather than silently dropping events.
		return nil
	}

	if result == "open" {
		return ErrOpen
	}
	return nil
}

func (cb *Redis) RecordSuccess(ctx context.Context) {
	stateKey, failuresKey, _, successesKey := cb.keys()

	recordSuccessScript.Run(ctx, cb.client,
		[]string{stateKey, failuresKey, successesKey},
		strconv.Itoa(cb.config.SuccessThreshold),
	)
}

func (cb *Redis) RecordFailure(ctx context.Context) {
	stateKey, failuresKey, lastFailureKey, successesKey := cb.keys()

	recordFailureScript.Run(ctx, cb.client,
		[]string{stateKey, failuresKey, lastFailureKey, successesKey},
		strconv.Itoa(cb.config.FailureThreshold),
	)
}

func (cb *Redis) State(ctx context.Context) State {
	stateKey, _, _, _ := cb.keys()

	val, err := cb.client.Get(ctx, stateKey).Result()
	if err != nil {
		return StateClosed
	}

	switch val {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (cb *Redis) Close() error {
	return cb.client.Close()
}
