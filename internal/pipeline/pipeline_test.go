package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/TobiSchelling/AIResearch/internal/agent"
	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/database"
	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
	"github.com/TobiSchelling/AIResearch/internal/scrape"
	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, config.DefaultConfigYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Output.DataDir = t.TempDir()
	cfg.Scrape.Enabled = false
	return cfg
}

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), database.FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRegistry serves every role locally. verdicts are returned in order and
// the last one repeats.
func fakeRegistry(verdicts ...string) *agent.Registry {
	reg := agent.NewRegistry()
	reg.Register(agent.Planner, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		return `{"objective": "Compare vector databases",
			"subtopics": [{"title": "Indexing", "queries": ["hnsw vs ivf"]}]}`, nil
	}))
	reg.Register(agent.Searcher, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		req := input.(research.SearchRequest)
		return fmt.Sprintf(`{"query": %q, "results": [
			{"title": "HNSW explained", "url": "https://example.com/hnsw", "snippet": "graph based index"}]}`, req.Query), nil
	}))
	reg.Register(agent.Summarizer, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		return `{"key_findings": ["HNSW trades memory for recall [1]"],
			"citations": [{"url": "https://example.com/hnsw", "label": "HNSW explained"}]}`, nil
	}))
	reg.Register(agent.Synthesizer, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		return `{"report": "HNSW is the default choice [1].",
			"bibliography": [{"index": 1, "url": "https://example.com/hnsw", "title": "HNSW explained"}],
			"identified_gaps": ["no cost data"]}`, nil
	}))
	n := 0
	reg.Register(agent.Reviewer, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		v := verdicts[min(n, len(verdicts)-1)]
		n++
		return fmt.Sprintf(`{"verdict": %q, "feedback": "reviewed"}`, v), nil
	}))
	return reg
}

func TestRunSavesReportAndSession(t *testing.T) {
	cfg := testConfig(t)
	db := testDB(t)
	p := NewWithProxy(cfg, db, fakeRegistry("revise_report", "approve"), quietLogger())

	var seen int
	p.OnTransition = func(string, workflow.Transition) { seen++ }

	res, err := p.Run(context.Background(), "vector databases", Options{Diagram: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Aborted() {
		t.Fatalf("session aborted: %v", res.Session.Diagnostic)
	}
	if seen != len(res.Session.Transitions) || seen == 0 {
		t.Errorf("OnTransition called %d times, want %d", seen, len(res.Session.Transitions))
	}
	if !strings.Contains(res.Markdown, "# Research Report: vector databases") {
		t.Errorf("markdown missing title:\n%s", res.Markdown)
	}

	if filepath.Dir(res.ReportPath) != cfg.GetReportsDir() {
		t.Errorf("report written to %s, want dir %s", res.ReportPath, cfg.GetReportsDir())
	}
	data, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if string(data) != res.Markdown {
		t.Error("saved report differs from returned markdown")
	}
	if _, err := os.Stat(res.DiagramPath); err != nil {
		t.Errorf("diagram not written: %v", err)
	}

	s, err := db.GetSession(res.Session.ID)
	if err != nil || s == nil {
		t.Fatalf("GetSession: %v, %v", s, err)
	}
	if s.Status != "DONE" || s.Iterations != 2 || s.MaxIterations != cfg.Research.MaxIterations {
		t.Errorf("session = %+v", s)
	}
	if s.FinalVersion == nil || *s.FinalVersion != 2 {
		t.Errorf("FinalVersion = %v, want 2", s.FinalVersion)
	}
	if s.ReportPath == nil || *s.ReportPath != res.ReportPath {
		t.Errorf("ReportPath = %v", s.ReportPath)
	}

	drafts, err := db.GetDrafts(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 2 || drafts[1].ParentVersion != 1 {
		t.Errorf("drafts = %+v", drafts)
	}
	transitions, err := db.GetTransitions(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != len(res.Session.Transitions) {
		t.Errorf("stored %d transitions, want %d", len(transitions), len(res.Session.Transitions))
	}
}

func TestRunOverridesMaxIterations(t *testing.T) {
	cfg := testConfig(t)
	p := NewWithProxy(cfg, nil, fakeRegistry("revise_report"), quietLogger())

	res, err := p.Run(context.Background(), "vector databases", Options{MaxIterations: 2, NoSave: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Session.IterationLimited || res.Session.Iterations != 2 {
		t.Errorf("IterationLimited=%v Iterations=%d, want true and 2", res.Session.IterationLimited, res.Session.Iterations)
	}
	if res.ReportPath != "" {
		t.Errorf("NoSave wrote %s", res.ReportPath)
	}
	if !strings.Contains(res.Markdown, "iteration limit") {
		t.Errorf("markdown missing iteration-limit note:\n%s", res.Markdown)
	}
}

func TestRunAbortedSessionIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	db := testDB(t)
	reg := fakeRegistry("approve")
	reg.Register(agent.Planner, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		return "", &llm.QuotaExceededError{Provider: "test", Message: "insufficient_quota"}
	}))
	p := NewWithProxy(cfg, db, reg, quietLogger())

	res, err := p.Run(context.Background(), "vector databases", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Aborted() {
		t.Fatal("expected an aborted session")
	}
	if res.ReportPath != "" {
		t.Errorf("aborted session wrote a report: %s", res.ReportPath)
	}
	if !strings.Contains(res.Markdown, "Research Aborted") {
		t.Errorf("markdown = %q", res.Markdown)
	}

	s, err := db.GetSession(res.Session.ID)
	if err != nil || s == nil {
		t.Fatalf("GetSession: %v, %v", s, err)
	}
	if s.Status != "ABORTED" || s.Diagnostic == nil || s.Diagnostic.Kind != "quota" {
		t.Errorf("session = %+v, diagnostic = %+v", s, s.Diagnostic)
	}
	if s.ReportMarkdown != nil || s.FinalVersion != nil {
		t.Error("aborted session should not store a report")
	}
}

func TestFailedDomainIsRetriedNextSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><head><title>HNSW</title></head><body><p>%s</p></body></html>",
			strings.Repeat("HNSW builds a layered proximity graph over the vectors. ", 5))
	}))
	defer srv.Close()
	page := srv.URL + "/hnsw"

	reg := fakeRegistry("approve")
	reg.Register(agent.Searcher, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		req := input.(research.SearchRequest)
		return fmt.Sprintf(`{"query": %q, "results": [{"title": "HNSW", "url": %q, "snippet": "graph index"}]}`, req.Query, page), nil
	}))
	reg.Register(agent.Summarizer, agent.AgentFunc(func(ctx context.Context, input any) (string, error) {
		return fmt.Sprintf(`{"key_findings": ["HNSW is a graph [1]"], "citations": [{"url": %q, "label": "HNSW"}]}`, page), nil
	}))

	p := NewWithProxy(testConfig(t), nil, nil, quietLogger())
	p.session = withSessionScraper(reg, func() agent.Fetcher {
		return scrape.NewFetcherWithClient(srv.Client(), 0)
	})
	on := true
	opts := Options{Scrape: &on, NoSave: true}

	want := []research.ScrapeStatus{research.ScrapeFailed, research.ScrapeOK}
	for i, status := range want {
		res, err := p.Run(context.Background(), "vector databases", opts)
		if err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		docs := res.Session.State.Documents["T1"]
		if len(docs) != 1 || docs[0].Status != status {
			t.Errorf("run %d: documents = %+v, want one with status %s", i+1, docs, status)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestRecordConvertsTransitions(t *testing.T) {
	st := research.NewState("q", 3)
	res := &workflow.Result{
		ID:     "abc",
		Query:  "q",
		Status: workflow.Done,
		State:  st,
		Transitions: []workflow.Transition{
			{From: workflow.Planning, To: workflow.Searching, Iteration: 1},
			{From: workflow.Searching, To: workflow.Summarizing, Iteration: 1},
		},
	}
	rec := Record(res, "# md", "")
	if rec.Session.MaxIterations != 3 || rec.Session.Iterations != 1 {
		t.Errorf("session = %+v", rec.Session)
	}
	if len(rec.Transitions) != 2 || rec.Transitions[1].Seq != 2 || rec.Transitions[1].To != "SUMMARIZING" {
		t.Errorf("transitions = %+v", rec.Transitions)
	}
	if rec.Session.ReportMarkdown != nil {
		t.Error("markdown stored without a final draft")
	}
}
