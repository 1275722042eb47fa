package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/TobiSchelling/AIResearch/internal/research"
)

const planPrompt = `You are a research planner. Break the research question below into at most %d focused subtopics that together answer it.

Research question: %s

For every subtopic give a short title, a one-sentence objective and one to three web search queries that would find good sources. Also state the overall objective, a few success criteria for the final report and closely related topics.
%s
Respond with ONLY JSON matching this schema:
%s`

const summarizePrompt = `You are a research analyst summarizing sources for one subtopic of a larger report.

Research question: %s
Subtopic: %s
Objective: %s

Sources:
%s

Write 3-8 key findings as short factual statements. Cite the sources a finding relies on with their bracketed number, e.g. [2]. Cite ONLY the numbered sources listed above and list every cited source in "citations" in the same order, so that [1] is the first citation.
%s
Respond with ONLY JSON matching this schema:
%s`

const synthesizePrompt = `You are writing a research report for a practitioner audience.

Research question: %s
Objective: %s

Findings per subtopic:
%s
%s
Write a well-structured markdown report with an introduction, one section per subtopic and a conclusion. Support claims with inline citation markers like [1] or [2, 3]. The bibliography must be numbered 1..n without gaps or duplicates, and every marker in the report must match a bibliography entry. Only cite URLs that appear in the findings above. List open gaps in "identified_gaps" and queries that would fill them in "additional_queries".
%s
Respond with ONLY JSON matching this schema:
%s`

const revisionContext = `
This is a revision. The previous draft (version %d) was:
---
%s
---

Reviewer feedback:
%s

Deficiencies to fix:
%s
Keep what works and address every deficiency.
`

const reviewPrompt = `You are a critical yet constructive peer reviewer of research reports.

Research question: %s
Objective: %s
Success criteria:
%s

This is review round %d of at most %d.

Report (draft version %d):
---
%s
---

References:
%s

Judge completeness, clarity and structure, evidence and citations, and depth of analysis. Then choose the verdict:
- "approve": the report meets the success criteria and is ready to deliver.
- "revise_report": writing, structure or analysis must improve but no new information is needed. List the deficiencies.
- "need_more_data": important facts are missing. Put concrete web search queries in "additional_queries".
%s
Respond with ONLY JSON matching this schema:
%s`

type planSchema struct {
	Objective       string           `json:"objective" jsonschema:"description=One sentence research objective"`
	SuccessCriteria []string         `json:"success_criteria"`
	RelatedTopics   []string         `json:"related_topics"`
	Subtopics       []subtopicSchema `json:"subtopics" jsonschema:"minItems=1"`
}

type subtopicSchema struct {
	Title     string   `json:"title"`
	Objective string   `json:"objective"`
	Queries   []string `json:"queries" jsonschema:"minItems=1,maxItems=3"`
}

type summarySchema struct {
	KeyFindings []string         `json:"key_findings" jsonschema:"description=Factual statements citing sources as [n]"`
	Citations   []citationSchema `json:"citations"`
}

type citationSchema struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

type reportSchema struct {
	Report            string      `json:"report" jsonschema:"description=Markdown report with inline [n] citation markers"`
	Bibliography      []bibSchema `json:"bibliography"`
	IdentifiedGaps    []string    `json:"identified_gaps"`
	AdditionalQueries []string    `json:"additional_queries"`
}

type bibSchema struct {
	Index int    `json:"index" jsonschema:"minimum=1"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type verdictSchema struct {
	Verdict           string   `json:"verdict" jsonschema:"enum=approve,enum=revise_report,enum=need_more_data"`
	Feedback          string   `json:"feedback"`
	Deficiencies      []string `json:"deficiencies"`
	Strengths         []string `json:"strengths"`
	AdditionalQueries []string `json:"additional_queries"`
	Details           string   `json:"details" jsonschema:"description=What the next step should focus on"`
}

var (
	planSchemaJSON    = schemaJSON(&planSchema{})
	summarySchemaJSON = schemaJSON(&summarySchema{})
	reportSchemaJSON  = schemaJSON(&reportSchema{})
	verdictSchemaJSON = schemaJSON(&verdictSchema{})
)

func schemaJSON(v any) string {
	r := &jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	s := r.Reflect(v)
	s.Version = ""
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("reflecting schema: %v", err))
	}
	return string(data)
}

// RenderPrompt builds the prompt for an LLM-backed role.
func RenderPrompt(role Role, input any) (string, error) {
	switch role {
	case Planner:
		in, ok := input.(PlanInput)
		if !ok {
			return "", inputTypeError(role, input)
		}
		return renderPlan(in), nil
	case Summarizer:
		in, ok := input.(SummarizeInput)
		if !ok {
			return "", inputTypeError(role, input)
		}
		return renderSummarize(in), nil
	case Synthesizer:
		in, ok := input.(SynthesizeInput)
		if !ok {
			return "", inputTypeError(role, input)
		}
		return renderSynthesize(in), nil
	case Reviewer:
		in, ok := input.(ReviewInput)
		if !ok {
			return "", inputTypeError(role, input)
		}
		return renderReview(in), nil
	}
	return "", fmt.Errorf("role %q has no prompt", role)
}

func renderPlan(in PlanInput) string {
	n := in.MaxSubtopics
	if n <= 0 {
		n = 5
	}
	return fmt.Sprintf(planPrompt, n, in.Query, correction(in.Correction), planSchemaJSON)
}

func renderSummarize(in SummarizeInput) string {
	var b strings.Builder
	for i, s := range in.Sources {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s\n\n", i+1, s.Title, s.URL, strings.TrimSpace(s.Text))
	}
	return fmt.Sprintf(summarizePrompt,
		in.Query, in.Subtopic.Title, in.Subtopic.Objective,
		strings.TrimSpace(b.String()), correction(in.Correction), summarySchemaJSON)
}

func renderSynthesize(in SynthesizeInput) string {
	var b strings.Builder
	for _, sum := range in.Summaries {
		fmt.Fprintf(&b, "## %s\n", sum.Subtopic)
		for _, f := range sum.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if len(sum.Citations) > 0 {
			b.WriteString("Sources:\n")
			for i, c := range sum.Citations {
				fmt.Fprintf(&b, "  [%d] %s %s\n", i+1, c.Label, c.URL)
			}
		}
		b.WriteString("\n")
	}

	revision := ""
	if in.Prior != nil && in.Review != nil {
		revision = fmt.Sprintf(revisionContext,
			in.Prior.Version, in.Prior.Text, in.Review.Feedback, bulletList(in.Review.Deficiencies))
	}
	return fmt.Sprintf(synthesizePrompt,
		in.Query, in.Plan.Objective, b.String(), revision, correction(in.Correction), reportSchemaJSON)
}

func renderReview(in ReviewInput) string {
	var refs strings.Builder
	for _, e := range in.Draft.Bibliography {
		fmt.Fprintf(&refs, "[%d] %s. %s\n", e.Index, e.Title, e.URL)
	}
	return fmt.Sprintf(reviewPrompt,
		in.Query, in.Plan.Objective, bulletList(in.Plan.SuccessCriteria),
		in.Iteration, in.MaxIterations,
		in.Draft.Version, in.Draft.Text, refs.String(),
		correction(in.Correction), verdictSchemaJSON)
}

func correction(msg string) string {
	if msg == "" {
		return ""
	}
	return "\nIMPORTANT: your previous answer was rejected: " + msg + "\n"
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SummarySources builds the numbered source list for a subtopic: scraped
// text where extraction worked, search snippets otherwise. fallback is true
// when no document could be scraped.
func SummarySources(hits []research.Hit, docs []research.ScrapedDocument) (sources []Source, fallback bool) {
	scraped := make(map[string]research.ScrapedDocument)
	for _, d := range docs {
		if d.Status == research.ScrapeOK && strings.TrimSpace(d.Text) != "" {
			scraped[research.NormalizeURL(d.URL)] = d
		}
	}
	seen := make(map[string]bool)
	for _, h := range hits {
		key := research.NormalizeURL(h.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		if d, ok := scraped[key]; ok {
			title := d.Title
			if title == "" {
				title = h.Title
			}
			sources = append(sources, Source{URL: h.URL, Title: title, Text: d.Text})
			continue
		}
		sources = append(sources, Source{URL: h.URL, Title: h.Title, Text: h.Snippet})
	}
	return sources, len(scraped) == 0
}
