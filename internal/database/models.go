package database

import (
	"time"

	"github.com/TobiSchelling/AIResearch/internal/research"
)

// Session is the audit row of one finished research session.
type Session struct {
	ID               string
	Query            string
	Status           string // "DONE" or "ABORTED"
	IterationLimited bool
	Iterations       int
	MaxIterations    int
	FinalVersion     *int
	ReportMarkdown   *string
	ReportPath       *string
	Diagnostic       *Diagnostic
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Duration returns how long the session ran.
func (s Session) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Diagnostic explains why a session aborted.
type Diagnostic struct {
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Iteration int    `json:"iteration"`
	Message   string `json:"message"`
}

// Transition is one router edge taken during a session.
type Transition struct {
	Seq       int
	From      string
	To        string
	Iteration int
	At        time.Time
}

// SessionRecord is everything stored for a session.
type SessionRecord struct {
	Session     Session
	Plans       []research.Plan
	Summaries   []research.Summary
	Drafts      []research.ReportDraft
	Verdicts    []research.ReviewVerdict
	Transitions []Transition
}

// Stats contains aggregate database statistics.
type Stats struct {
	Sessions         int
	Done             int
	Aborted          int
	IterationLimited int
	Drafts           int
	Verdicts         map[string]int
	AvgIterations    float64
}
