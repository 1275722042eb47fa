// Package compose renders finished research sessions: the markdown report
// that is delivered to the user and a Graphviz diagram of the route taken.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/research"
	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

// Report is the presentation view of a session.
type Report struct {
	SessionID        string
	Query            string
	Status           string
	IterationLimited bool
	Iterations       int
	MaxIterations    int
	Final            *research.ReportDraft
	Verdicts         []research.ReviewVerdict
	Diagnostic       *workflow.Diagnostic
	GeneratedAt      time.Time
}

// FromResult builds the report view of a workflow result.
func FromResult(res *workflow.Result) Report {
	r := Report{
		SessionID:        res.ID,
		Query:            res.Query,
		Status:           string(res.Status),
		IterationLimited: res.IterationLimited,
		Iterations:       res.Iterations,
		Final:            res.Final,
		Diagnostic:       res.Diagnostic,
		GeneratedAt:      res.FinishedAt,
	}
	if res.State != nil {
		r.MaxIterations = res.State.MaxIterations
		r.Verdicts = res.State.Verdicts
	}
	return r
}

// Markdown renders the delivered report. An aborted session renders as a
// diagnostic summary without any draft content.
func Markdown(r Report) string {
	var b strings.Builder
	if r.Final == nil {
		fmt.Fprintf(&b, "# Research Aborted: %s\n\n", r.Query)
		if d := r.Diagnostic; d != nil {
			fmt.Fprintf(&b, "- **Stage:** %s\n- **Error kind:** %s\n- **Iteration:** %d\n- **Message:** %s\n",
				d.Stage, d.Kind, d.Iteration, d.Message)
		} else {
			b.WriteString("No report was delivered.\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "# Research Report: %s\n\n", r.Query)
	fmt.Fprintf(&b, "*Generated %s after %s (limit %d), draft v%d*\n\n",
		r.GeneratedAt.Format("2006-01-02 15:04"), plural(r.Iterations, "iteration"), r.MaxIterations, r.Final.Version)
	if r.IterationLimited {
		fmt.Fprintf(&b, "> **Note:** the iteration limit of %d was reached before the reviewer approved this report. It is the best available draft.\n\n", r.MaxIterations)
	}
	if r.Final.Repaired {
		b.WriteString("> **Note:** unresolved citation markers were removed from this draft.\n\n")
	}

	b.WriteString(strings.TrimSpace(r.Final.Text))
	b.WriteString("\n\n")

	if refs := References(r.Final.Bibliography); refs != "" {
		b.WriteString("## References\n\n")
		b.WriteString(refs)
		b.WriteString("\n")
	}

	if len(r.Final.IdentifiedGaps) > 0 {
		b.WriteString("## Identified Gaps\n\n")
		for _, g := range r.Final.IdentifiedGaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}

	if len(r.Verdicts) > 0 {
		b.WriteString("## Review History\n\n")
		for _, v := range r.Verdicts {
			fmt.Fprintf(&b, "### Draft %d: %s\n\n", v.DraftVersion, v.Verdict)
			if v.Feedback != "" {
				fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(v.Feedback))
			}
			for _, d := range v.Deficiencies {
				fmt.Fprintf(&b, "- %s\n", d)
			}
			if len(v.Deficiencies) > 0 {
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// References renders a bibliography as IEEE-style lines, one paragraph each.
func References(bib []research.BibEntry) string {
	var b strings.Builder
	for _, e := range bib {
		title := strings.TrimSpace(e.Title)
		if title == "" || title == e.URL {
			fmt.Fprintf(&b, "[%d] %s\n\n", e.Index, e.URL)
			continue
		}
		fmt.Fprintf(&b, "[%d] %s. %s\n\n", e.Index, strings.TrimSuffix(title, "."), e.URL)
	}
	return b.String()
}

// DraftMarkdown renders one draft with its references.
func DraftMarkdown(d research.ReportDraft) string {
	out := strings.TrimSpace(d.Text) + "\n\n"
	if refs := References(d.Bibliography); refs != "" {
		out += "## References\n\n" + refs
	}
	return out
}

// Save writes the markdown report to dir as report_<timestamp>.md and
// returns the path.
func Save(dir string, r Report) (string, error) {
	if r.Final == nil {
		return "", fmt.Errorf("session %s has no report to save", r.SessionID)
	}
	return writeFile(dir, "report", "md", r.GeneratedAt, Markdown(r))
}

func writeFile(dir, prefix, ext string, at time.Time, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, at.Format("2006-01-02-150405"), ext))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
