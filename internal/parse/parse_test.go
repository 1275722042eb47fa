package parse

import (
	"errors"
	"testing"

	"github.com/TobiSchelling/AIResearch/internal/research"
)

func TestPlanWellFormed(t *testing.T) {
	raw := `{"objective": "Understand X", "success_criteria": ["covers A"], "related_topics": ["Y"],
	"subtopics": [
		{"title": "History", "objective": "origins", "queries": ["x history", "x origins"]},
		{"title": "Adoption", "queries": ["x adoption"]}
	]}`
	out := Plan(raw, "what is x", 5)
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v (missing %v)", out.Status, out.Missing)
	}
	if len(out.Value.Subtopics) != 2 || out.Value.Subtopics[1].ID != "T2" {
		t.Errorf("unexpected subtopics %+v", out.Value.Subtopics)
	}
	if out.Value.Version != 1 || out.Value.Query != "what is x" {
		t.Errorf("unexpected plan header %+v", out.Value)
	}
}

func TestPlanResearchTasksShape(t *testing.T) {
	raw := "```json\n{\"objective\": \"o\", \"success_criteria\": \"one\", \"research_tasks\": [{\"id\": 1, \"subtopic\": \"Costs\", \"search_queries\": [\"x cost\"]}]}\n```"
	out := Plan(raw, "q", 0)
	if !out.Usable() {
		t.Fatalf("expected usable plan, got %v", out.Err)
	}
	if out.Value.Subtopics[0].Title != "Costs" || out.Value.Subtopics[0].Queries[0] != "x cost" {
		t.Errorf("unexpected subtopic %+v", out.Value.Subtopics[0])
	}
}

func TestPlanFromBullets(t *testing.T) {
	raw := "Here is my plan:\n- Market size\n- Key players\n* Regulation"
	out := Plan(raw, "q", 2)
	if out.Status != StatusPartial {
		t.Fatalf("expected partial, got %v", out.Status)
	}
	if len(out.Value.Subtopics) != 2 {
		t.Errorf("expected truncation to 2 subtopics, got %d", len(out.Value.Subtopics))
	}
	if out.Value.Subtopics[0].Queries[0] != "Market size" {
		t.Errorf("expected title as query, got %v", out.Value.Subtopics[0].Queries)
	}
}

func TestPlanNothingRecoverable(t *testing.T) {
	out := Plan("I cannot help with that.", "q", 5)
	if out.Status != StatusFailed {
		t.Fatalf("expected failure, got %v", out.Status)
	}
	var pe *ParseError
	if !errors.As(out.Err, &pe) || pe.Role != "planner" {
		t.Errorf("expected planner ParseError, got %v", out.Err)
	}
}

func TestSummaryJSONInProse(t *testing.T) {
	raw := `Findings below.
{"key_findings": ["X grew 20% [1]"], "citations": [{"url": "https://a.com", "label": "A"}]}`
	out := Summary(raw, research.Subtopic{ID: "T1", Title: "Growth"})
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v", out.Status)
	}
	if out.Value.SubtopicID != "T1" || out.Value.Citations[0].Label != "A" {
		t.Errorf("unexpected summary %+v", out.Value)
	}
}

func TestSummaryFreeText(t *testing.T) {
	raw := "- First point from https://a.com/post.\n- Second point"
	out := Summary(raw, research.Subtopic{ID: "T2"})
	if !out.Usable() {
		t.Fatalf("expected usable summary, got %v", out.Err)
	}
	if len(out.Value.KeyFindings) != 2 {
		t.Errorf("expected 2 findings, got %v", out.Value.KeyFindings)
	}
	if len(out.Value.Citations) != 1 || out.Value.Citations[0].URL != "https://a.com/post" {
		t.Errorf("expected URL citation, got %+v", out.Value.Citations)
	}
}

func TestSummaryFindingsArray(t *testing.T) {
	out := Summary(`["one", "two"]`, research.Subtopic{ID: "T1"})
	if out.Status != StatusPartial || len(out.Value.KeyFindings) != 2 {
		t.Errorf("expected partial with 2 findings, got %v %+v", out.Status, out.Value)
	}
}

func TestSummaryEmpty(t *testing.T) {
	if out := Summary("   ", research.Subtopic{}); out.Status != StatusFailed {
		t.Errorf("expected failure on empty text, got %v", out.Status)
	}
}

func TestReportJSON(t *testing.T) {
	raw := `{"research_report": "X is big [1].", "citations": [{"title": "A", "url": "https://a.com"}],
		"identified_gaps": ["pricing"], "additional_queries": ["x pricing"]}`
	out := Report(raw)
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v (missing %v)", out.Status, out.Missing)
	}
	if out.Value.Bibliography[0].Index != 1 || out.Value.Bibliography[0].URL != "https://a.com" {
		t.Errorf("unexpected bibliography %+v", out.Value.Bibliography)
	}
	if len(out.Value.AdditionalQueries) != 1 {
		t.Errorf("expected additional queries, got %v", out.Value.AdditionalQueries)
	}
}

func TestReportMarkdownWithReferences(t *testing.T) {
	raw := "# Report\n\nX is big [1]. Y too [2].\n\n## References\n[1] Alpha study. https://a.com\n[2] https://b.com\n"
	out := Report(raw)
	if !out.Usable() {
		t.Fatalf("expected usable report: %v", out.Err)
	}
	if len(out.Value.Bibliography) != 2 {
		t.Fatalf("expected 2 entries, got %+v", out.Value.Bibliography)
	}
	if out.Value.Bibliography[0].Title != "Alpha study" || out.Value.Bibliography[1].Title != "https://b.com" {
		t.Errorf("unexpected entries %+v", out.Value.Bibliography)
	}
	if err := research.CheckReport(out.Value); err != nil {
		t.Errorf("parsed report should validate: %v", err)
	}
}

func TestVerdictJSON(t *testing.T) {
	raw := `{"verdict": "need_more_data", "feedback": "thin on costs", "deficiencies": ["no cost data"], "additional_queries": ["x cost 2024"]}`
	out := Verdict(raw, 2)
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v", out.Status)
	}
	if out.Value.Verdict != research.VerdictNeedMoreData || out.Value.DraftVersion != 2 {
		t.Errorf("unexpected verdict %+v", out.Value)
	}
}

func TestVerdictMultiChoiceVocabulary(t *testing.T) {
	raw := "```json\n{\"overall_feedback\": \"good\", \"next_action\": \"complete\", \"next_action_details\": \"ship it\", \"is_satisfactory\": true}\n```"
	out := Verdict(raw, 1)
	if !out.Usable() || out.Value.Verdict != research.VerdictApprove {
		t.Fatalf("expected approve, got %+v (%v)", out.Value, out.Err)
	}
	if out.Value.Details != "ship it" || out.Value.Feedback != "good" {
		t.Errorf("unexpected fields %+v", out.Value)
	}
}

func TestVerdictOutOfSet(t *testing.T) {
	out := Verdict(`{"verdict": "maybe later", "feedback": "hmm"}`, 1)
	if out.Status != StatusFailed {
		t.Fatalf("expected failure for out-of-set verdict, got %v", out.Status)
	}
	var pe *ParseError
	if !errors.As(out.Err, &pe) {
		t.Errorf("expected ParseError, got %v", out.Err)
	}
}

func TestVerdictFreeText(t *testing.T) {
	raw := "**Verdict:** revise report\n- Add more sources\n- Fix the intro"
	out := Verdict(raw, 1)
	if !out.Usable() {
		t.Fatalf("expected usable verdict, got %v", out.Err)
	}
	if out.Value.Verdict != research.VerdictReviseReport || len(out.Value.Deficiencies) != 2 {
		t.Errorf("unexpected verdict %+v", out.Value)
	}
}

func TestVerdictFreeTextTrailingWords(t *testing.T) {
	cases := map[string]research.Verdict{
		"Verdict: approve with minor edits\nLooks good.": research.VerdictApprove,
		"Decision: need more data on pricing":            research.VerdictNeedMoreData,
		"Next action: revise - tighten the intro":        research.VerdictReviseReport,
	}
	for raw, want := range cases {
		out := Verdict(raw, 1)
		if !out.Usable() || out.Value.Verdict != want {
			t.Errorf("%q: got %+v (%v), want %s", raw, out.Value.Verdict, out.Err, want)
		}
	}
}

func TestReportJSONAfterCitationMarkers(t *testing.T) {
	raw := `The report below cites [1] and [2].
{"report": "X is big [1]. Y is small [2].",
 "bibliography": [{"index": 1, "url": "https://a.com", "title": "A"}, {"index": 2, "url": "https://b.com", "title": "B"}],
 "identified_gaps": ["pricing"]}`
	out := Report(raw)
	if !out.Usable() {
		t.Fatalf("expected usable report, got %v", out.Err)
	}
	if out.Value.Text != "X is big [1]. Y is small [2]." {
		t.Errorf("text = %q", out.Value.Text)
	}
	if len(out.Value.Bibliography) != 2 || out.Value.Bibliography[1].URL != "https://b.com" {
		t.Errorf("unexpected bibliography %+v", out.Value.Bibliography)
	}
	if len(out.Value.IdentifiedGaps) != 1 {
		t.Errorf("expected identified gaps, got %v", out.Value.IdentifiedGaps)
	}
}

func TestPlanJSONAfterCitationMarkers(t *testing.T) {
	raw := `Building on earlier work [3], here is the plan:
{"objective": "Understand X", "success_criteria": ["covers A"],
 "subtopics": [{"title": "History", "queries": ["x history"]}, {"title": "Cost", "queries": ["x cost"]}]}`
	out := Plan(raw, "q", 5)
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v (missing %v)", out.Status, out.Missing)
	}
	if len(out.Value.Subtopics) != 2 || out.Value.Subtopics[1].Queries[0] != "x cost" {
		t.Errorf("unexpected subtopics %+v", out.Value.Subtopics)
	}
}

func TestSummaryJSONAfterCitationMarkers(t *testing.T) {
	raw := `Sources [1] and [2] agree.
{"key_findings": ["X grew 20% [1]", "Y fell [2]"],
 "citations": [{"url": "https://a.com", "label": "A"}, {"url": "https://b.com", "label": "B"}]}`
	out := Summary(raw, research.Subtopic{ID: "T1", Title: "Growth"})
	if out.Status != StatusOK {
		t.Fatalf("expected ok, got %v (missing %v)", out.Status, out.Missing)
	}
	if len(out.Value.KeyFindings) != 2 || len(out.Value.Citations) != 2 {
		t.Errorf("unexpected summary %+v", out.Value)
	}
}

func TestSearchAndScrapePayloads(t *testing.T) {
	s := Search(`{"query": "q", "results": [{"title": "A", "url": "https://a.com", "snippet": "s"}, {"title": "no url"}]}`,
		research.SearchRequest{SubtopicID: "T1", Query: "q"})
	if !s.Usable() || len(s.Value.Hits) != 1 || s.Value.SubtopicID != "T1" {
		t.Errorf("unexpected search outcome %+v", s)
	}

	d := Scrape(`{"url": "https://a.com", "text": ""}`, research.ScrapeRequest{SubtopicID: "T1", URL: "https://a.com", Title: "A"})
	if !d.Usable() || d.Value.Status != research.ScrapeFailed || d.Value.Title != "A" {
		t.Errorf("unexpected scrape outcome %+v", d)
	}
}
