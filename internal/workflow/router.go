// Package workflow drives one research session through its stages: plan,
// search, scrape, summarize, synthesize, review, and the review-driven loop
// back to synthesis or search.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/AIResearch/internal/agent"
	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/parse"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

// Stage is a router state.
type Stage string

const (
	Planning      Stage = "PLANNING"
	Searching     Stage = "SEARCHING"
	Scraping      Stage = "SCRAPING"
	Summarizing   Stage = "SUMMARIZING"
	Synthesizing  Stage = "SYNTHESIZING"
	Reviewing     Stage = "REVIEWING"
	Revising      Stage = "REVISING"
	GatheringMore Stage = "GATHERING_MORE"
	Done          Stage = "DONE"
	Aborted       Stage = "ABORTED"
)

// Terminal reports whether s ends a session.
func (s Stage) Terminal() bool { return s == Done || s == Aborted }

// Transition is one edge taken by the router.
type Transition struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}

// ErrorKind classifies why a session aborted.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindQuota     ErrorKind = "quota"
	KindFatal     ErrorKind = "fatal"
	KindParse     ErrorKind = "parse"
	KindCitation  ErrorKind = "citation"
	KindCanceled  ErrorKind = "canceled"
	KindInvariant ErrorKind = "invariant"
	KindConfig    ErrorKind = "config"
)

// Diagnostic explains an aborted session.
type Diagnostic struct {
	Stage     Stage     `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Iteration int       `json:"iteration"`
	Message   string    `json:"message"`
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s failed at iteration %d (%s): %s", d.Stage, d.Iteration, d.Kind, d.Message)
}

// Options bound a session. MaxIterations must be set explicitly.
type Options struct {
	MaxIterations      int
	MaxSubtopics       int
	MaxHitsPerQuery    int
	MaxURLsPerSubtopic int
	Concurrency        int
	Scrape             bool
	ParseRetries       int
	PlanRetries        int
}

// OptionsFromConfig reads session bounds from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxIterations:      cfg.Research.MaxIterations,
		MaxSubtopics:       cfg.Research.MaxSubtopics,
		MaxHitsPerQuery:    cfg.Research.MaxHitsPerQuery,
		MaxURLsPerSubtopic: cfg.Research.MaxURLsPerSubtopic,
		Concurrency:        cfg.Research.Concurrency,
		Scrape:             cfg.Scrape.Enabled,
		ParseRetries:       cfg.Retry.ParseRetries,
		PlanRetries:        cfg.Retry.PlanRetries,
	}
}

// Result is what a session delivers. Final is nil unless Status is Done.
type Result struct {
	ID               string
	Query            string
	Status           Stage
	IterationLimited bool
	Iterations       int
	Final            *research.ReportDraft
	State            *research.State
	Transitions      []Transition
	Diagnostic       *Diagnostic
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Router owns the state of one session at a time and moves it through the
// stage graph. A Router may run sessions sequentially or concurrently; each
// Run gets its own State.
type Router struct {
	proxy  agent.Proxy
	opts   Options
	logger *slog.Logger

	// OnTransition, when set, is called synchronously for every edge taken.
	OnTransition func(sessionID string, t Transition)

	now func() time.Time
}

// NewRouter creates a router that reaches agents through proxy.
func NewRouter(proxy agent.Proxy, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxSubtopics <= 0 {
		opts.MaxSubtopics = 5
	}
	if opts.MaxHitsPerQuery <= 0 {
		opts.MaxHitsPerQuery = 5
	}
	if opts.MaxURLsPerSubtopic <= 0 {
		opts.MaxURLsPerSubtopic = 4
	}
	return &Router{proxy: proxy, opts: opts, logger: logger, now: time.Now}
}

// Run executes a full session for query. It always returns a Result; a
// session that cannot complete ends in Aborted with a Diagnostic.
func (r *Router) Run(ctx context.Context, query string) *Result {
	res := &Result{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: r.now(),
	}
	st := research.NewState(query, r.opts.MaxIterations)
	res.State = st
	logger := r.logger.With("session", res.ID)

	stage := Planning
	if r.opts.MaxIterations < 1 {
		r.abort(res, logger, stage, &Diagnostic{
			Stage:     stage,
			Kind:      KindConfig,
			Iteration: st.Iteration,
			Message:   "max_iterations must be set to a value >= 1",
		})
		return res
	}

	logger.Info("research session started", "query", query, "max_iterations", r.opts.MaxIterations)
	for !stage.Terminal() {
		if err := ctx.Err(); err != nil {
			r.abort(res, logger, stage, r.diagnose(ctx, stage, st.Iteration, err))
			return res
		}
		next, err := r.step(ctx, st, stage)
		if err != nil {
			r.abort(res, logger, stage, r.diagnose(ctx, stage, st.Iteration, err))
			return res
		}
		r.transition(res, logger, stage, next, st.Iteration)
		stage = next
	}

	st.Terminal = true
	res.Status = Done
	res.IterationLimited = st.IterationLimited
	res.Iterations = st.Iteration
	if d, ok := st.LatestDraft(); ok {
		res.Final = &d
	}
	res.FinishedAt = r.now()
	logger.Info("research session finished",
		"iterations", res.Iterations,
		"drafts", len(st.Drafts),
		"iteration_limited", res.IterationLimited,
		"elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return res
}

// step runs the work of stage and returns the next stage.
func (r *Router) step(ctx context.Context, st *research.State, stage Stage) (Stage, error) {
	switch stage {
	case Planning:
		return Searching, r.plan(ctx, st)
	case Searching:
		if err := r.search(ctx, st); err != nil {
			return "", err
		}
		if r.opts.Scrape {
			return Scraping, nil
		}
		return Summarizing, nil
	case Scraping:
		return Summarizing, r.scrape(ctx, st)
	case Summarizing:
		return Synthesizing, r.summarize(ctx, st)
	case Synthesizing:
		return Reviewing, r.synthesize(ctx, st)
	case Reviewing:
		v, err := r.review(ctx, st)
		if err != nil {
			return "", err
		}
		return r.route(st, v), nil
	case Revising:
		st.Iteration++
		return Synthesizing, nil
	case GatheringMore:
		st.Iteration++
		r.gatherMore(st)
		return Searching, nil
	}
	return "", &invariantError{msg: fmt.Sprintf("no work defined for stage %s", stage)}
}

// route picks the edge out of REVIEWING. Approval always wins; otherwise the
// iteration cap forces delivery of the latest draft.
func (r *Router) route(st *research.State, v research.ReviewVerdict) Stage {
	if v.Verdict == research.VerdictApprove {
		return Done
	}
	if st.Iteration >= st.MaxIterations {
		st.IterationLimited = true
		return Done
	}
	if v.Verdict == research.VerdictNeedMoreData {
		return GatheringMore
	}
	return Revising
}

func (r *Router) transition(res *Result, logger *slog.Logger, from, to Stage, iteration int) {
	t := Transition{From: from, To: to, Iteration: iteration, At: r.now()}
	res.Transitions = append(res.Transitions, t)
	logger.Info("transition", "from", from, "to", to, "iteration", iteration)
	if r.OnTransition != nil {
		r.OnTransition(res.ID, t)
	}
}

func (r *Router) abort(res *Result, logger *slog.Logger, stage Stage, d *Diagnostic) {
	r.transition(res, logger, stage, Aborted, d.Iteration)
	res.State.Terminal = true
	res.Status = Aborted
	res.Diagnostic = d
	res.Iterations = res.State.Iteration
	res.Final = nil
	res.FinishedAt = r.now()
	logger.Error("research session aborted", "stage", d.Stage, "kind", d.Kind, "iteration", d.Iteration, "error", d.Message)
}

func (r *Router) diagnose(ctx context.Context, stage Stage, iteration int, err error) *Diagnostic {
	d := &Diagnostic{Stage: stage, Iteration: iteration, Message: err.Error()}
	var (
		ie  *invariantError
		pe  *parse.ParseError
		qe  *llm.QuotaExceededError
		te  *llm.TransportError
		fe  *llm.FatalAgentError
		cme *research.CitationMismatchError
		dce *research.DanglingCitationError
	)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		d.Kind = KindCanceled
	case errors.As(err, &ie):
		d.Kind = KindInvariant
	case errors.As(err, &qe):
		d.Kind = KindQuota
	case errors.As(err, &pe):
		d.Kind = KindParse
	case errors.As(err, &cme), errors.As(err, &dce):
		d.Kind = KindCitation
	case errors.As(err, &te):
		d.Kind = KindTransport
	case errors.As(err, &fe):
		d.Kind = KindFatal
	default:
		d.Kind = KindFatal
	}
	return d
}

type invariantError struct {
	msg string
}

func (e *invariantError) Error() string { return e.msg }
