// Package research holds the records that flow through a research session
// and the citation rules they must satisfy.
package research

import "time"

// Subtopic is one line of investigation within a plan.
type Subtopic struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Objective string   `json:"objective"`
	Queries   []string `json:"queries"`
}

// Plan is an immutable, versioned research plan. Refinements produce a new
// version rather than mutating an existing one.
type Plan struct {
	Version         int        `json:"version"`
	Query           string     `json:"query"`
	Objective       string     `json:"objective"`
	SuccessCriteria []string   `json:"success_criteria"`
	RelatedTopics   []string   `json:"related_topics"`
	Subtopics       []Subtopic `json:"subtopics"`
}

// Extend returns the next plan version with sub appended.
func (p Plan) Extend(sub Subtopic) Plan {
	next := p
	next.Version = p.Version + 1
	next.Subtopics = append(append([]Subtopic(nil), p.Subtopics...), sub)
	return next
}

// Subtopic looks up a subtopic by id.
func (p Plan) Subtopic(id string) (Subtopic, bool) {
	for _, s := range p.Subtopics {
		if s.ID == id {
			return s, true
		}
	}
	return Subtopic{}, false
}

// Hit is a single search engine result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResult is the outcome of one query. A failed query keeps its error
// and has no hits.
type SearchResult struct {
	SubtopicID string `json:"subtopic_id"`
	Query      string `json:"query"`
	Hits       []Hit  `json:"hits"`
	Error      string `json:"error,omitempty"`
}

// ScrapeStatus records how extraction of one URL went.
type ScrapeStatus string

const (
	ScrapeOK      ScrapeStatus = "ok"
	ScrapeFailed  ScrapeStatus = "failed"
	ScrapeSkipped ScrapeStatus = "skipped"
)

// ScrapedDocument is the cleaned text of one search hit.
type ScrapedDocument struct {
	SubtopicID string       `json:"subtopic_id"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Text       string       `json:"text"`
	Status     ScrapeStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}

// Citation is a source referenced by a summary.
type Citation struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// Summary condenses everything gathered for one subtopic. Findings may carry
// [n] markers that refer to the 1-based Citations list.
type Summary struct {
	SubtopicID  string     `json:"subtopic_id"`
	Subtopic    string     `json:"subtopic"`
	KeyFindings []string   `json:"key_findings"`
	Citations   []Citation `json:"citations"`
	Fallback    bool       `json:"fallback,omitempty"`
}

// BibEntry is one numbered reference of a report.
type BibEntry struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ReportDraft is one immutable version of the report.
type ReportDraft struct {
	Version           int        `json:"version"`
	ParentVersion     int        `json:"parent_version"`
	Text              string     `json:"text"`
	Bibliography      []BibEntry `json:"bibliography"`
	IdentifiedGaps    []string   `json:"identified_gaps,omitempty"`
	AdditionalQueries []string   `json:"additional_queries,omitempty"`
	Repaired          bool       `json:"repaired,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Verdict is the categorical outcome of a review.
type Verdict string

const (
	VerdictApprove      Verdict = "approve"
	VerdictReviseReport Verdict = "revise_report"
	VerdictNeedMoreData Verdict = "need_more_data"
)

// Valid reports whether v is one of the three routing outcomes.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictReviseReport, VerdictNeedMoreData:
		return true
	}
	return false
}

// ReviewVerdict is the reviewer's judgement on one draft.
type ReviewVerdict struct {
	DraftVersion      int       `json:"draft_version"`
	Verdict           Verdict   `json:"verdict"`
	Feedback          string    `json:"feedback"`
	Deficiencies      []string  `json:"deficiencies"`
	Strengths         []string  `json:"strengths,omitempty"`
	AdditionalQueries []string  `json:"additional_queries,omitempty"`
	Details           string    `json:"details,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SearchRequest is the searcher role's input.
type SearchRequest struct {
	SubtopicID string `json:"subtopic_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// ScrapeRequest is the scraper role's input.
type ScrapeRequest struct {
	SubtopicID string `json:"subtopic_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}
