package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

type ActionConfig struct {
	Limit  int64
	Window time.Duration
}

// Counter is the storage the limiter counts hits in.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
}

type Limiter struct {
	counter Counter
	limits  map[string]ActionConfig
	now     func() time.Time
}

type CheckResult struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
	Limit     int64 `json:"limit"`
}

func NewLimiter(counter Counter, limits map[string]ActionConfig) *Limiter {
	return &Limiter{counter: counter, limits: limits, now: time.Now}
}

// DefaultLimits derives per-action limits from a single create budget.
// Updates get twice the create budget.
func DefaultLimits(createLimit int64, window time.Duration) map[string]ActionConfig {
	return map[string]ActionConfig{
		ActionCreate: {Limit: createLimit, Window: window},
		ActionUpdate: {Limit: createLimit * 2, Window: window},
	}
}

func (l *Limiter) Check(ctx context.Context, clientID, action string) (*CheckResult, error) {
	config, ok := l.limits[action]
	if !ok {
		config = ActionConfig{Limit: 100, Window: time.Minute}
	}

	key := fmt.Sprintf("rate:%s:%s", clientID, action)

	count, ttl, err := l.counter.Incr(ctx, key, config.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}
	if ttl <= 0 {
		ttl = config.Window
	}

	remaining := config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &CheckResult{
		Allowed:   count <= config.Limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl).Unix(),
		Limit:     config.Limit,
	}, nil
}
