package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/parse"
	"github.com/TobiSchelling/AIResearch/internal/research"
	"github.com/TobiSchelling/AIResearch/internal/scrape"
)

func TestRegistryUnknownRoleIsFatal(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), Reviewer, ReviewInput{})
	var fe *llm.FatalAgentError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalAgentError, got %v", err)
	}
}

func TestRegistryDispatches(t *testing.T) {
	r := NewRegistry()
	r.Register(Planner, AgentFunc(func(ctx context.Context, input any) (string, error) {
		return "plan for " + input.(PlanInput).Query, nil
	}))
	out, err := r.Invoke(context.Background(), Planner, PlanInput{Query: "q"})
	if err != nil || out != "plan for q" {
		t.Errorf("got %q, %v", out, err)
	}
	if got := r.Registered(); len(got) != 1 || got[0] != Planner {
		t.Errorf("Registered() = %v", got)
	}
}

func TestOverrideReplacesOneRole(t *testing.T) {
	r := NewRegistry()
	r.Register(Planner, AgentFunc(func(ctx context.Context, input any) (string, error) { return "base planner", nil }))
	r.Register(Scraper, AgentFunc(func(ctx context.Context, input any) (string, error) { return "base scraper", nil }))
	p := Override(r, Scraper, AgentFunc(func(ctx context.Context, input any) (string, error) { return "session scraper", nil }))

	if out, _ := p.Invoke(context.Background(), Scraper, nil); out != "session scraper" {
		t.Errorf("scraper = %q", out)
	}
	if out, _ := p.Invoke(context.Background(), Planner, nil); out != "base planner" {
		t.Errorf("planner = %q", out)
	}
}

type flakyProxy struct {
	calls int
	errs  []error
}

func (f *flakyProxy) Invoke(ctx context.Context, role Role, input any) (string, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return "", f.errs[f.calls-1]
	}
	return "ok", nil
}

var fastPolicy = RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestRetryRecoversFromTransportErrors(t *testing.T) {
	transient := &llm.TransportError{Provider: "test", StatusCode: 503, Err: errors.New("busy")}
	inner := &flakyProxy{errs: []error{transient, transient}}
	out, err := WithRetry(inner, fastPolicy, nil).Invoke(context.Background(), Planner, nil)
	if err != nil || out != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	transient := &llm.TransportError{Provider: "test", Err: errors.New("reset")}
	inner := &flakyProxy{errs: []error{transient, transient, transient, transient}}
	_, err := WithRetry(inner, fastPolicy, nil).Invoke(context.Background(), Planner, nil)
	if !llm.IsRetryable(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryQuota(t *testing.T) {
	inner := &flakyProxy{errs: []error{&llm.QuotaExceededError{Provider: "test", Message: "insufficient_quota"}}}
	_, err := WithRetry(inner, fastPolicy, nil).Invoke(context.Background(), Planner, nil)
	if !llm.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryAppliesCallTimeout(t *testing.T) {
	slow := AgentFunc(func(ctx context.Context, input any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewRegistry()
	r.Register(Reviewer, slow)
	policy := fastPolicy
	policy.MaxRetries = 0
	policy.CallTimeout = 5 * time.Millisecond

	_, err := WithRetry(r, policy, nil).Invoke(context.Background(), Reviewer, nil)
	if !llm.IsRetryable(err) {
		t.Fatalf("expected timeout to surface as TransportError, got %v", err)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flakyProxy{errs: []error{context.Canceled}}
	_, err := WithRetry(inner, fastPolicy, nil).Invoke(ctx, Planner, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type stubBackend struct {
	hits []research.Hit
	err  error
}

func (s stubBackend) Name() string { return "stub" }
func (s stubBackend) Search(context.Context, string, int) ([]research.Hit, error) {
	return s.hits, s.err
}

func TestSearchAgentPayloadParses(t *testing.T) {
	a := NewSearchAgent(stubBackend{hits: []research.Hit{
		{Title: "One", URL: "https://a.example/1", Snippet: "s1"},
		{Title: "Two", URL: "https://a.example/2", Snippet: "s2"},
	}})
	req := research.SearchRequest{SubtopicID: "T1", Query: "go generics", MaxResults: 5}
	raw, err := a.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := parse.Search(raw, req)
	if out.Status != parse.StatusOK || len(out.Value.Hits) != 2 || out.Value.SubtopicID != "T1" {
		t.Errorf("unexpected parse outcome: %+v", out)
	}
}

func TestSearchAgentClassifiesErrors(t *testing.T) {
	a := NewSearchAgent(stubBackend{err: errors.New("connection reset by peer")})
	_, err := a.Handle(context.Background(), research.SearchRequest{Query: "x"})
	if !llm.IsRetryable(err) {
		t.Errorf("expected TransportError, got %v", err)
	}
}

type stubFetcher map[string]error

func (s stubFetcher) Fetch(_ context.Context, url string) (scrape.Document, error) {
	if err, ok := s[url]; ok {
		return scrape.Document{}, err
	}
	return scrape.Document{URL: url, Title: "Page", Text: "body text"}, nil
}

func TestScrapeAgentRecordsFailures(t *testing.T) {
	a := NewScrapeAgent(stubFetcher{
		"https://bad.example": errors.New("HTTP 404 Not Found"),
		"https://skip.example": scrape.ErrDomainSkipped,
	})
	cases := map[string]research.ScrapeStatus{
		"https://good.example": research.ScrapeOK,
		"https://bad.example":  research.ScrapeFailed,
		"https://skip.example": research.ScrapeSkipped,
	}
	for url, want := range cases {
		req := research.ScrapeRequest{SubtopicID: "T2", URL: url}
		raw, err := a.Handle(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", url, err)
		}
		doc := parse.Scrape(raw, req).Value
		if doc.Status != want {
			t.Errorf("%s: status %q, want %q", url, doc.Status, want)
		}
		if doc.SubtopicID != "T2" {
			t.Errorf("%s: subtopic id lost", url)
		}
	}
}

func TestRenderPromptEmbedsSchemaAndSources(t *testing.T) {
	prompt, err := RenderPrompt(Summarizer, SummarizeInput{
		Query:    "state of Go generics",
		Subtopic: research.Subtopic{ID: "T1", Title: "Adoption", Objective: "How widely used"},
		Sources: []Source{
			{URL: "https://a.example", Title: "A", Text: "alpha"},
			{URL: "https://b.example", Title: "B", Text: "beta"},
		},
		Correction: "cited [7]",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"[2] B", "https://b.example", `"key_findings"`, "cited [7]"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	review, err := RenderPrompt(Reviewer, ReviewInput{Draft: research.ReportDraft{Version: 2, Text: "report"}, Iteration: 2, MaxIterations: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(review, "need_more_data") || !strings.Contains(review, "round 2 of at most 3") {
		t.Errorf("review prompt incomplete:\n%s", review)
	}

	if _, err := RenderPrompt(Planner, ReviewInput{}); err == nil {
		t.Error("expected error for mismatched input type")
	}
}

func TestLLMAgentWrongInputIsFatal(t *testing.T) {
	a := NewLLMAgent(Planner, nil, 100)
	_, err := a.Handle(context.Background(), "not a plan input")
	var fe *llm.FatalAgentError
	if !errors.As(err, &fe) {
		t.Errorf("expected FatalAgentError, got %v", err)
	}
}

func TestSummarySources(t *testing.T) {
	hits := []research.Hit{
		{Title: "A", URL: "https://a.example/", Snippet: "snippet a"},
		{Title: "B", URL: "https://b.example", Snippet: "snippet b"},
		{Title: "A again", URL: "https://a.example", Snippet: "dup"},
	}
	docs := []research.ScrapedDocument{
		{URL: "https://a.example", Title: "A full", Text: "full text a", Status: research.ScrapeOK},
		{URL: "https://b.example", Status: research.ScrapeFailed, Error: "404"},
	}
	sources, fallback := SummarySources(hits, docs)
	if fallback {
		t.Error("expected no fallback with one scraped document")
	}
	if len(sources) != 2 || sources[0].Text != "full text a" || sources[1].Text != "snippet b" {
		t.Errorf("unexpected sources: %+v", sources)
	}

	_, fallback = SummarySources(hits, docs[1:])
	if !fallback {
		t.Error("expected fallback when every scrape failed")
	}
}
