package parse

import (
	"encoding/json"
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

type summaryWire struct {
	KeyFindings flexStrings   `json:"key_findings"`
	Findings    flexStrings   `json:"findings"`
	Summary     string        `json:"summary"`
	Citations   []citationRaw `json:"citations"`
	Sources     []citationRaw `json:"sources"`
}

type citationRaw struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Title string `json:"title"`
}

// Summary parses a summarizer response for sub. Free text is split into
// bullet findings and any URLs it mentions become citations.
func Summary(raw string, sub research.Subtopic) Outcome[research.Summary] {
	sum := research.Summary{SubtopicID: sub.ID, Subtopic: sub.Title}
	var missing []string

	var w summaryWire
	jsonErr := llm.DecodeJSON(raw, &w)
	if jsonErr != nil {
		// A bare JSON array of findings.
		var list []string
		if s, found := llm.ExtractJSON(raw); found && json.Unmarshal([]byte(s), &list) == nil {
			w.KeyFindings = list
			jsonErr = nil
		}
	}

	if jsonErr == nil {
		sum.KeyFindings = compact(w.KeyFindings)
		if len(sum.KeyFindings) == 0 {
			sum.KeyFindings = compact(w.Findings)
		}
		if len(sum.KeyFindings) == 0 && strings.TrimSpace(w.Summary) != "" {
			sum.KeyFindings = splitLines(w.Summary)
		}
		cites := w.Citations
		if len(cites) == 0 {
			cites = w.Sources
		}
		for _, c := range cites {
			if strings.TrimSpace(c.URL) == "" {
				continue
			}
			sum.Citations = append(sum.Citations, research.Citation{
				URL:   strings.TrimSpace(c.URL),
				Label: firstNonEmpty(c.Label, c.Title, c.URL),
			})
		}
	} else {
		sum.KeyFindings = splitLines(raw)
		for _, u := range urls(raw) {
			sum.Citations = append(sum.Citations, research.Citation{URL: u, Label: u})
		}
	}

	if len(sum.KeyFindings) == 0 {
		return failed[research.Summary]("summarizer", "no findings found", raw)
	}
	if len(sum.Citations) == 0 {
		missing = append(missing, "citations")
	}
	return ok(sum, missing)
}
