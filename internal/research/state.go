package research

import "fmt"

// State is the aggregate of one research session. It is owned by a single
// router and must not be shared across sessions.
type State struct {
	Query         string
	MaxIterations int
	Iteration     int

	Plans     []Plan
	Searches  map[string][]SearchResult
	Documents map[string][]ScrapedDocument
	Summaries map[string]Summary
	Drafts    []ReportDraft
	Verdicts  []ReviewVerdict

	// Pending lists subtopic ids whose material has not been summarized yet.
	Pending []string

	Terminal         bool
	IterationLimited bool
}

// NewState starts a session at iteration 1.
func NewState(query string, maxIterations int) *State {
	return &State{
		Query:         query,
		MaxIterations: maxIterations,
		Iteration:     1,
		Searches:      make(map[string][]SearchResult),
		Documents:     make(map[string][]ScrapedDocument),
		Summaries:     make(map[string]Summary),
	}
}

// Plan returns the current plan version.
func (s *State) Plan() (Plan, bool) {
	if len(s.Plans) == 0 {
		return Plan{}, false
	}
	return s.Plans[len(s.Plans)-1], true
}

// LatestDraft returns the newest report draft.
func (s *State) LatestDraft() (ReportDraft, bool) {
	if len(s.Drafts) == 0 {
		return ReportDraft{}, false
	}
	return s.Drafts[len(s.Drafts)-1], true
}

// LatestVerdict returns the newest review verdict.
func (s *State) LatestVerdict() (ReviewVerdict, bool) {
	if len(s.Verdicts) == 0 {
		return ReviewVerdict{}, false
	}
	return s.Verdicts[len(s.Verdicts)-1], true
}

// OrderedSummaries returns summaries in plan order.
func (s *State) OrderedSummaries() []Summary {
	plan, ok := s.Plan()
	if !ok {
		return nil
	}
	out := make([]Summary, 0, len(s.Summaries))
	for _, sub := range plan.Subtopics {
		if sum, ok := s.Summaries[sub.ID]; ok {
			out = append(out, sum)
		}
	}
	return out
}

// CheckReviewInvariant verifies there is exactly one unreviewed draft.
func (s *State) CheckReviewInvariant() error {
	if len(s.Drafts) != len(s.Verdicts)+1 {
		return fmt.Errorf("draft/verdict mismatch: %d drafts, %d verdicts", len(s.Drafts), len(s.Verdicts))
	}
	return nil
}
