package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TransportError is a network, timeout, rate-limit or 5xx failure. Callers
// may retry it.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport error (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// QuotaExceededError means the account behind the provider is out of quota.
// Retrying within the same session is pointless.
type QuotaExceededError struct {
	Provider string
	Message  string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %s", e.Provider, e.Message)
}

// FatalAgentError is any other non-retryable failure: bad credentials,
// malformed requests, unknown roles.
type FatalAgentError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *FatalAgentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fatal error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s fatal error: %s", e.Provider, e.Message)
}

// IsRetryable reports whether err is a TransportError.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsQuota reports whether err is a QuotaExceededError.
func IsQuota(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// StatusError maps a non-2xx HTTP response onto the error taxonomy.
func StatusError(provider string, code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	switch {
	case code == http.StatusTooManyRequests && looksLikeQuota(msg):
		return &QuotaExceededError{Provider: provider, Message: msg}
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return &TransportError{Provider: provider, StatusCode: code, Err: errors.New(msg)}
	default:
		return &FatalAgentError{Provider: provider, StatusCode: code, Message: msg}
	}
}

// Classify wraps an error returned by an SDK or HTTP client into the
// taxonomy. Already classified errors and caller cancellation pass through.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *TransportError
		qe *QuotaExceededError
		fe *FatalAgentError
	)
	if errors.As(err, &te) || errors.As(err, &qe) || errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Provider: provider, Err: err}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case looksLikeQuota(lower):
		return &QuotaExceededError{Provider: provider, Message: msg}
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "status code: 5"), strings.Contains(lower, "unavailable"):
		return &TransportError{Provider: provider, Err: err}
	case strings.Contains(lower, "401"), strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"), strings.Contains(lower, "permission"),
		strings.Contains(lower, "invalid api key"):
		return &FatalAgentError{Provider: provider, Message: msg}
	}
	return &TransportError{Provider: provider, Err: err}
}

func looksLikeQuota(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "billing")
}
