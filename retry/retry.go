// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Policy retries an operation with capped exponential backoff.
// A Policy is safe for concurrent use once configured.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Each later wait doubles.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth another attempt.
	// When nil every error except context cancellation is retried.
	Retryable func(error) bool

	// Limiter, when set, paces every attempt.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.BaseDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.Retryable = fn
	}
}

// WithRateLimit paces attempts to at most perSecond, allowing burst at once.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Policy) {
		if perSecond <= 0 {
			p.Limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.Logger = logger
	}
}

// DefaultPolicy returns five attempts with 2s base and 30s maximum delay.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Logger:      slog.Default().With("component", "retry"),
	}
}

// NewPolicy applies opts on top of DefaultPolicy and validates the result.
func NewPolicy(opts ...Option) (*Policy, error) {
	p := DefaultPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return ErrInvalidDelay
	}
	return nil
}

// Delay returns the wait that follows the given (1-based) failed attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs operation until it succeeds, returns a non-retryable error, the
// attempt ceiling is reached, or ctx is done. An exhausted run returns an
// error wrapping both ErrAttemptsExhausted and the last failure.
func (p *Policy) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !p.shouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		logger.Warn("operation failed, will retry",
			"attempt", attempt, "maxAttempts", p.MaxAttempts, "delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w (%d): %w", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
}

func (p *Policy) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}
