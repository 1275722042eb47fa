package agent

import "github.com/TobiSchelling/AIResearch/internal/research"

// PlanInput asks the planner to break a query into subtopics.
type PlanInput struct {
	Query        string
	MaxSubtopics int
	// Correction is set on a re-invocation after an unusable answer.
	Correction string
}

// Source is one numbered piece of material handed to the summarizer.
type Source struct {
	URL   string
	Title string
	Text  string
}

// SummarizeInput carries everything gathered for one subtopic. Sources are
// numbered from 1 in order.
type SummarizeInput struct {
	Query      string
	Subtopic   research.Subtopic
	Sources    []Source
	Correction string
}

// URLs returns the source URLs in order.
func (in SummarizeInput) URLs() []string {
	out := make([]string, len(in.Sources))
	for i, s := range in.Sources {
		out[i] = s.URL
	}
	return out
}

// SynthesizeInput asks for a new report draft. Prior and Review are set on
// revision cycles.
type SynthesizeInput struct {
	Query      string
	Plan       research.Plan
	Summaries  []research.Summary
	Prior      *research.ReportDraft
	Review     *research.ReviewVerdict
	Correction string
}

// ReviewInput asks for a verdict on the latest draft.
type ReviewInput struct {
	Query         string
	Plan          research.Plan
	Draft         research.ReportDraft
	Iteration     int
	MaxIterations int
	Correction    string
}
