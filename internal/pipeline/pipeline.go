// Package pipeline assembles the agents, the router and the stores into a
// runnable research session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/AIResearch/internal/agent"
	"github.com/TobiSchelling/AIResearch/internal/compose"
	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/database"
	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/scrape"
	"github.com/TobiSchelling/AIResearch/internal/search"
	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

// Options override the configured session settings for a single run.
type Options struct {
	// MaxIterations replaces research.max_iterations when > 0.
	MaxIterations int
	// Scrape replaces scrape.enabled when non-nil.
	Scrape *bool
	// ReportsDir replaces output.reports_dir when set.
	ReportsDir string
	// NoSave skips writing the report file and the audit record.
	NoSave  bool
	Diagram bool
}

// Result is one finished session with its delivered artifacts.
type Result struct {
	Session     *workflow.Result
	Report      compose.Report
	Markdown    string
	ReportPath  string
	DiagramPath string
}

// Aborted reports whether the session ended without a report.
func (r *Result) Aborted() bool {
	return r.Session.Status != workflow.Done
}

// Pipeline runs research sessions.
type Pipeline struct {
	cfg    *config.Config
	db     *database.DB
	logger *slog.Logger

	// session returns the proxy for one run. Agents that keep per-session
	// state, such as the scraper's failed-domain list, are built here.
	session func() agent.Proxy

	// OnTransition is forwarded to every router this pipeline creates.
	OnTransition func(sessionID string, t workflow.Transition)
}

// New builds the agent registry from cfg: the configured LLM provider serves
// the planner, summarizer, synthesizer and reviewer roles, the search backends
// serve the searcher and the readability fetcher serves the scraper. db may be
// nil, in which case sessions are not recorded.
func New(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := llm.CreateProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}
	if !provider.IsConfigured() {
		logger.Warn("llm provider is not configured, agent calls will fail", "provider", cfg.LLM.Provider)
	}
	backends, err := search.NewFromConfig(cfg.Search, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search backends: %w", err)
	}

	reg := agent.NewRegistry()
	agent.RegisterLLM(reg, provider, cfg)
	reg.Register(agent.Searcher, agent.NewSearchAgent(backends))

	scoped := withSessionScraper(reg, func() agent.Fetcher {
		return scrape.NewFetcher(cfg.Scrape.Timeout, cfg.Scrape.MaxChars)
	})
	p := NewWithProxy(cfg, db, nil, logger)
	p.session = func() agent.Proxy { return Decorate(scoped(), cfg, logger) }
	return p, nil
}

// withSessionScraper serves the scraper role from a fresh fetcher on every
// call, so a host that failed in one session is tried again in the next.
func withSessionScraper(base agent.Proxy, newFetcher func() agent.Fetcher) func() agent.Proxy {
	return func() agent.Proxy {
		return agent.Override(base, agent.Scraper, agent.NewScrapeAgent(newFetcher()))
	}
}

// Decorate adds call logging and transport retries around proxy.
func Decorate(proxy agent.Proxy, cfg *config.Config, logger *slog.Logger) agent.Proxy {
	return agent.WithRetry(agent.WithLogging(proxy, logger), agent.PolicyFromConfig(cfg.Retry), logger)
}

// NewWithProxy creates a pipeline around an existing proxy.
func NewWithProxy(cfg *config.Config, db *database.DB, proxy agent.Proxy, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, db: db, logger: logger, session: func() agent.Proxy { return proxy }}
}

// Run executes one session for query. An aborted session is not an error:
// the returned Result carries its diagnostic. Errors are reserved for
// failures to write the report, the diagram or the audit record.
func (p *Pipeline) Run(ctx context.Context, query string, opts Options) (*Result, error) {
	wopts := workflow.OptionsFromConfig(p.cfg)
	if opts.MaxIterations > 0 {
		wopts.MaxIterations = opts.MaxIterations
	}
	if opts.Scrape != nil {
		wopts.Scrape = *opts.Scrape
	}

	router := workflow.NewRouter(p.session(), wopts, p.logger)
	router.OnTransition = p.OnTransition
	session := router.Run(ctx, query)

	out := &Result{Session: session, Report: compose.FromResult(session)}
	out.Markdown = compose.Markdown(out.Report)
	if opts.NoSave {
		return out, nil
	}

	dir := opts.ReportsDir
	if dir == "" {
		dir = p.cfg.GetReportsDir()
	}
	if session.Status == workflow.Done {
		path, err := compose.Save(dir, out.Report)
		if err != nil {
			return out, fmt.Errorf("saving report: %w", err)
		}
		out.ReportPath = path
		p.logger.Info("report saved", "path", path)
	}
	if opts.Diagram {
		path, err := compose.SaveDiagram(dir, compose.EdgesOf(session.Transitions), session.FinishedAt)
		if err != nil {
			return out, fmt.Errorf("saving diagram: %w", err)
		}
		out.DiagramPath = path
	}

	if p.db != nil {
		if err := p.db.SaveSession(Record(session, out.Markdown, out.ReportPath)); err != nil {
			return out, fmt.Errorf("recording session: %w", err)
		}
	}
	return out, nil
}

// Record converts a workflow result into its audit form. The markdown and
// path are only stored for delivered sessions.
func Record(res *workflow.Result, markdown, reportPath string) *database.SessionRecord {
	s := database.Session{
		ID:               res.ID,
		Query:            res.Query,
		Status:           string(res.Status),
		IterationLimited: res.IterationLimited,
		Iterations:       res.Iterations,
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
	}
	if res.Final != nil {
		v := res.Final.Version
		s.FinalVersion = &v
		s.ReportMarkdown = &markdown
		if reportPath != "" {
			s.ReportPath = &reportPath
		}
	}
	if d := res.Diagnostic; d != nil {
		s.Diagnostic = &database.Diagnostic{
			Stage:     string(d.Stage),
			Kind:      string(d.Kind),
			Iteration: d.Iteration,
			Message:   d.Message,
		}
	}

	rec := &database.SessionRecord{Session: s}
	if st := res.State; st != nil {
		rec.Session.MaxIterations = st.MaxIterations
		if rec.Session.Iterations == 0 {
			rec.Session.Iterations = st.Iteration
		}
		rec.Plans = st.Plans
		rec.Summaries = st.OrderedSummaries()
		rec.Drafts = st.Drafts
		rec.Verdicts = st.Verdicts
	}
	for i, t := range res.Transitions {
		rec.Transitions = append(rec.Transitions, database.Transition{
			Seq:       i + 1,
			From:      string(t.From),
			To:        string(t.To),
			Iteration: t.Iteration,
			At:        t.At,
		})
	}
	return rec
}
