package compose

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/research"
	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

var generated = time.Date(2026, 2, 6, 14, 5, 9, 0, time.UTC)

func sampleResult() *workflow.Result {
	st := research.NewState("state of Go generics", 3)
	st.Iteration = 2
	st.Verdicts = []research.ReviewVerdict{
		{DraftVersion: 1, Verdict: research.VerdictReviseReport, Feedback: "Needs benchmarks.", Deficiencies: []string{"no numbers"}},
		{DraftVersion: 2, Verdict: research.VerdictApprove, Feedback: "Good."},
	}
	final := research.ReportDraft{
		Version:        2,
		ParentVersion:  1,
		Text:           "Generics are widely used [1] and cheap [2].",
		IdentifiedGaps: []string{"Few studies on compile times"},
		Bibliography: []research.BibEntry{
			{Index: 1, URL: "https://example.com/survey", Title: "Go Developer Survey."},
			{Index: 2, URL: "https://example.com/bench", Title: "https://example.com/bench"},
		},
	}
	return &workflow.Result{
		ID:         "0b7e",
		Query:      "state of Go generics",
		Status:     workflow.Done,
		Iterations: 2,
		Final:      &final,
		State:      st,
		FinishedAt: generated,
		Transitions: []workflow.Transition{
			{From: workflow.Planning, To: workflow.Searching},
			{From: workflow.Searching, To: workflow.Summarizing},
			{From: workflow.Summarizing, To: workflow.Synthesizing},
			{From: workflow.Synthesizing, To: workflow.Reviewing},
			{From: workflow.Reviewing, To: workflow.Revising},
			{From: workflow.Revising, To: workflow.Synthesizing},
			{From: workflow.Synthesizing, To: workflow.Reviewing},
			{From: workflow.Reviewing, To: workflow.Done},
		},
	}
}

func TestMarkdownReport(t *testing.T) {
	md := Markdown(FromResult(sampleResult()))

	for _, want := range []string{
		"# Research Report: state of Go generics",
		"after 2 iterations (limit 3), draft v2",
		"Generics are widely used [1] and cheap [2].",
		"## References",
		"[1] Go Developer Survey. https://example.com/survey",
		"[2] https://example.com/bench",
		"## Identified Gaps",
		"### Draft 1: revise_report",
		"- no numbers",
		"### Draft 2: approve",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Contains(md, "iteration limit") {
		t.Error("approved report must not carry the iteration-limit note")
	}
}

func TestMarkdownIterationLimited(t *testing.T) {
	res := sampleResult()
	res.IterationLimited = true
	md := Markdown(FromResult(res))
	if !strings.Contains(md, "iteration limit of 3 was reached") {
		t.Errorf("expected iteration-limit note:\n%s", md)
	}
}

func TestMarkdownAborted(t *testing.T) {
	res := sampleResult()
	res.Status = workflow.Aborted
	res.Final = nil
	res.Diagnostic = &workflow.Diagnostic{Stage: workflow.Reviewing, Kind: workflow.KindQuota, Iteration: 2, Message: "insufficient_quota"}

	md := Markdown(FromResult(res))
	if !strings.Contains(md, "# Research Aborted") || !strings.Contains(md, "quota") {
		t.Errorf("unexpected aborted markdown:\n%s", md)
	}
	if strings.Contains(md, "Generics are widely used") {
		t.Error("aborted session must not include draft content")
	}
	if _, err := Save(t.TempDir(), FromResult(res)); err == nil {
		t.Error("expected Save to refuse an aborted session")
	}
}

func TestSaveUsesTimestampedName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := Save(dir, FromResult(sampleResult()))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "report_2026-02-06-140509.md" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Research Report") {
		t.Error("file does not contain the report")
	}
}

func TestDiagram(t *testing.T) {
	dot := Diagram(EdgesOf(sampleResult().Transitions))

	if !strings.HasPrefix(dot, "digraph research_workflow {") {
		t.Fatalf("not a digraph:\n%s", dot)
	}
	for _, want := range []string{
		`"SYNTHESIZING" -> "REVIEWING" [label="2x", penwidth=2];`,
		`"REVIEWING" -> "DONE" [label="1x", penwidth=2];`,
		`"REVIEWING" -> "GATHERING_MORE" [style=dashed`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("diagram missing %q\n%s", want, dot)
		}
	}
}

func TestDiagramIncludesAbortEdge(t *testing.T) {
	dot := Diagram([]Edge{{From: "PLANNING", To: "ABORTED"}})
	if !strings.Contains(dot, `"PLANNING" -> "ABORTED" [label="1x"`) || !strings.Contains(dot, "octagon") {
		t.Errorf("abort edge not drawn:\n%s", dot)
	}
}

func TestSaveDiagram(t *testing.T) {
	path, err := SaveDiagram(t.TempDir(), nil, generated)
	if err != nil {
		t.Fatalf("SaveDiagram: %v", err)
	}
	if filepath.Base(path) != "workflow_2026-02-06-140509.dot" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}
}
