package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

type reportWire struct {
	Report            string      `json:"report"`
	ResearchReport    string      `json:"research_report"`
	Bibliography      []bibRaw    `json:"bibliography"`
	Citations         []bibRaw    `json:"citations"`
	IdentifiedGaps    flexStrings `json:"identified_gaps"`
	AdditionalQueries flexStrings `json:"additional_queries"`
}

type bibRaw struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

var (
	referencesHeadingRe = regexp.MustCompile(`(?im)^\s*(?:#+\s*)?(?:references|bibliography|sources|citations)\s*:?\s*$`)
	referenceLineRe     = regexp.MustCompile(`^\s*\[(\d+)\]\s*(.*)$`)
)

// Report parses a synthesizer response into a draft. Version numbers are set
// by the caller. Bibliography entries without an explicit index are numbered
// by position.
func Report(raw string) Outcome[research.ReportDraft] {
	var d research.ReportDraft
	var missing []string

	var w reportWire
	if err := llm.DecodeJSON(raw, &w); err == nil && firstNonEmpty(w.Report, w.ResearchReport) != "" {
		d.Text = firstNonEmpty(w.Report, w.ResearchReport)
		entries := w.Bibliography
		if len(entries) == 0 {
			entries = w.Citations
		}
		for i, b := range entries {
			idx := b.Index
			if idx == 0 {
				idx = i + 1
			}
			d.Bibliography = append(d.Bibliography, research.BibEntry{
				Index: idx,
				URL:   strings.TrimSpace(b.URL),
				Title: firstNonEmpty(b.Title, b.URL),
			})
		}
		d.IdentifiedGaps = compact(w.IdentifiedGaps)
		d.AdditionalQueries = compact(w.AdditionalQueries)
	} else {
		d.Text, d.Bibliography = splitReferences(strings.TrimSpace(raw))
		missing = append(missing, "identified_gaps", "additional_queries")
	}

	if strings.TrimSpace(d.Text) == "" {
		return failed[research.ReportDraft]("synthesizer", "empty report", raw)
	}
	if len(d.Bibliography) == 0 {
		missing = append(missing, "bibliography")
	}
	return ok(d, missing)
}

// splitReferences separates a trailing references section written as
// "[n] Title. URL" lines from the report body.
func splitReferences(text string) (string, []research.BibEntry) {
	loc := referencesHeadingRe.FindStringIndex(text)
	if loc == nil {
		return text, nil
	}
	body := strings.TrimSpace(text[:loc[0]])
	var bib []research.BibEntry
	for _, line := range strings.Split(text[loc[1]:], "\n") {
		m := referenceLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		rest := strings.TrimSpace(m[2])
		entry := research.BibEntry{Index: idx, Title: rest}
		if found := urls(rest); len(found) > 0 {
			entry.URL = found[0]
			entry.Title = strings.TrimSpace(strings.TrimRight(strings.Replace(rest, found[0], "", 1), " .,-"))
		}
		if entry.Title == "" {
			entry.Title = entry.URL
		}
		bib = append(bib, entry)
	}
	if len(bib) == 0 {
		return text, nil
	}
	return body, bib
}
