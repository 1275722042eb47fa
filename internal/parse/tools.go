package parse

import (
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

// Search parses the searcher role's JSON payload.
func Search(raw string, req research.SearchRequest) Outcome[research.SearchResult] {
	var w struct {
		Query   string         `json:"query"`
		Results []research.Hit `json:"results"`
		Hits    []research.Hit `json:"hits"`
	}
	if err := llm.DecodeJSON(raw, &w); err != nil {
		return failed[research.SearchResult]("searcher", err.Error(), raw)
	}
	hits := w.Results
	if len(hits) == 0 {
		hits = w.Hits
	}
	res := research.SearchResult{SubtopicID: req.SubtopicID, Query: firstNonEmpty(w.Query, req.Query)}
	for _, h := range hits {
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		res.Hits = append(res.Hits, h)
	}
	return ok(res, nil)
}

// Scrape parses the scraper role's JSON payload.
func Scrape(raw string, req research.ScrapeRequest) Outcome[research.ScrapedDocument] {
	var doc research.ScrapedDocument
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return failed[research.ScrapedDocument]("scraper", err.Error(), raw)
	}
	doc.SubtopicID = req.SubtopicID
	if doc.URL == "" {
		doc.URL = req.URL
	}
	if doc.Title == "" {
		doc.Title = req.Title
	}
	if doc.Status == "" {
		if strings.TrimSpace(doc.Text) != "" {
			doc.Status = research.ScrapeOK
		} else {
			doc.Status = research.ScrapeFailed
		}
	}
	return ok(doc, nil)
}
