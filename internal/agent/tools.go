package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
	"github.com/TobiSchelling/AIResearch/internal/scrape"
	"github.com/TobiSchelling/AIResearch/internal/search"
)

// SearchAgent serves the searcher role from a search backend. It answers
// with {"query": ..., "results": [...]}.
type SearchAgent struct {
	backend search.Backend
}

func NewSearchAgent(backend search.Backend) *SearchAgent {
	return &SearchAgent{backend: backend}
}

func (a *SearchAgent) Handle(ctx context.Context, input any) (string, error) {
	req, ok := input.(research.SearchRequest)
	if !ok {
		return "", &llm.FatalAgentError{Provider: string(Searcher), Message: inputTypeError(Searcher, input).Error()}
	}
	hits, err := a.backend.Search(ctx, req.Query, req.MaxResults)
	if err != nil {
		if errors.Is(err, context.Canceled) || llm.IsQuota(err) {
			return "", err
		}
		return "", llm.Classify(a.backend.Name(), err)
	}
	if hits == nil {
		hits = []research.Hit{}
	}
	return encode(map[string]any{"query": req.Query, "results": hits})
}

// Fetcher extracts a page's readable text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (scrape.Document, error)
}

// ScrapeAgent serves the scraper role. Extraction failures are reported in
// the payload, not as errors, so one bad URL never fails a batch.
type ScrapeAgent struct {
	fetcher Fetcher
}

func NewScrapeAgent(fetcher Fetcher) *ScrapeAgent {
	return &ScrapeAgent{fetcher: fetcher}
}

func (a *ScrapeAgent) Handle(ctx context.Context, input any) (string, error) {
	req, ok := input.(research.ScrapeRequest)
	if !ok {
		return "", &llm.FatalAgentError{Provider: string(Scraper), Message: inputTypeError(Scraper, input).Error()}
	}
	doc := research.ScrapedDocument{SubtopicID: req.SubtopicID, URL: req.URL, Title: req.Title}
	page, err := a.fetcher.Fetch(ctx, req.URL)
	switch {
	case err != nil && ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, scrape.ErrDomainSkipped):
		doc.Status = research.ScrapeSkipped
		doc.Error = err.Error()
	case err != nil:
		doc.Status = research.ScrapeFailed
		doc.Error = err.Error()
	default:
		doc.Status = research.ScrapeOK
		doc.Text = page.Text
		if page.Title != "" {
			doc.Title = page.Title
		}
	}
	return encode(doc)
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &llm.FatalAgentError{Provider: "agent", Message: err.Error()}
	}
	return string(data), nil
}
