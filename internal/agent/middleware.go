package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/llm"
)

// RetryPolicy bounds how long and how often a call may be attempted.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// PolicyFromConfig converts the retry section of the config.
func PolicyFromConfig(c config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		CallTimeout:    c.CallTimeout,
	}
}

// Retrying retries transport errors with exponential backoff. Every attempt
// runs under its own timeout; quota and fatal errors are returned at once.
type Retrying struct {
	next   Proxy
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps next.
func WithRetry(next Proxy, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Invoke(ctx context.Context, role Role, input any) (string, error) {
	var (
		out     string
		attempt int
	)
	op := func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
		}
		defer cancel()

		text, err := r.next.Invoke(callCtx, role, input)
		if err == nil {
			out = text
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &llm.TransportError{Provider: string(role), Err: err}
		}
		if !llm.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("agent call failed", "role", role, "attempt", attempt, "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		b.InitialInterval = r.policy.InitialBackoff
	}
	if r.policy.MaxBackoff > 0 {
		b.MaxInterval = r.policy.MaxBackoff
	}
	b.MaxElapsedTime = 0

	retries := r.policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		return "", err
	}
	return out, nil
}

// Logging records the duration and outcome of every call.
type Logging struct {
	next   Proxy
	logger *slog.Logger
}

// WithLogging wraps next.
func WithLogging(next Proxy, logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{next: next, logger: logger}
}

func (l *Logging) Invoke(ctx context.Context, role Role, input any) (string, error) {
	start := time.Now()
	out, err := l.next.Invoke(ctx, role, input)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		l.logger.Debug("agent call failed", "role", role, "elapsed", elapsed, "error", err)
		return out, err
	}
	l.logger.Debug("agent call", "role", role, "elapsed", elapsed, "chars", len(out))
	return out, nil
}
