// Package parse turns raw agent text into typed research records. Parsers
// never fail on missing fields: they return what they could recover and list
// what was missing. Only text with no recoverable structure is a ParseError.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Status tags how much of a record was recovered.
type Status int

const (
	StatusOK Status = iota
	StatusPartial
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	default:
		return "failed"
	}
}

// Outcome is the result of parsing one agent response.
type Outcome[T any] struct {
	Status  Status
	Value   T
	Missing []string
	Err     error
}

// Usable reports whether Value may be consumed.
func (o Outcome[T]) Usable() bool { return o.Status != StatusFailed }

func ok[T any](v T, missing []string) Outcome[T] {
	if len(missing) > 0 {
		return Outcome[T]{Status: StatusPartial, Value: v, Missing: missing}
	}
	return Outcome[T]{Status: StatusOK, Value: v}
}

func failed[T any](role, reason, raw string) Outcome[T] {
	return Outcome[T]{Status: StatusFailed, Err: &ParseError{Role: role, Reason: reason, Raw: clip(raw, 200)}}
}

// ParseError means nothing usable could be extracted. Callers treat it as
// retryable.
type ParseError struct {
	Role   string
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s response: %s", e.Role, e.Reason)
}

// flexStrings accepts either a JSON string or an array of strings.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if strings.TrimSpace(one) != "" {
		*f = splitLines(one)
	}
	return nil
}

var (
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)])\s+(.*)$`)
	urlRe    = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)
)

// bullets returns the list items in text, without their markers.
func bullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if item := strings.TrimSpace(m[1]); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func splitLines(text string) []string {
	if b := bullets(text); len(b) > 0 {
		return b
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func urls(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlRe.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:")
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func compact(items []string) []string {
	out := items[:0:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
