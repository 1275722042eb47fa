package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

type verdictWire struct {
	Verdict               string      `json:"verdict"`
	NextAction            string      `json:"next_action"`
	IsSatisfactory        *bool       `json:"is_satisfactory"`
	Feedback              string      `json:"feedback"`
	OverallFeedback       string      `json:"overall_feedback"`
	Deficiencies          flexStrings `json:"deficiencies"`
	SuggestedImprovements flexStrings `json:"suggested_improvements"`
	Strengths             flexStrings `json:"strengths"`
	AdditionalQueries     flexStrings `json:"additional_queries"`
	Details               string      `json:"details"`
	NextActionDetails     string      `json:"next_action_details"`
}

var verdictLineRe = regexp.MustCompile(`(?im)^\W*(?:verdict|next[_ ]action|decision)\W*[:=]\s*\W*([a-z_ -]+)`)

// Verdict parses a reviewer response. The verdict must map onto approve,
// revise_report or need_more_data; anything else is a ParseError.
func Verdict(raw string, draftVersion int) Outcome[research.ReviewVerdict] {
	v := research.ReviewVerdict{DraftVersion: draftVersion}
	var missing []string

	var w verdictWire
	if err := llm.DecodeJSON(raw, &w); err == nil {
		label := firstNonEmpty(w.Verdict, w.NextAction)
		if label == "" && w.IsSatisfactory != nil {
			if *w.IsSatisfactory {
				label = string(research.VerdictApprove)
			} else {
				label = string(research.VerdictReviseReport)
			}
			missing = append(missing, "verdict")
		}
		if label == "" {
			return failed[research.ReviewVerdict]("reviewer", "no verdict field", raw)
		}
		verdict, known := NormalizeVerdict(label)
		if !known {
			return failed[research.ReviewVerdict]("reviewer", fmt.Sprintf("verdict %q is not approve, revise_report or need_more_data", label), raw)
		}
		v.Verdict = verdict
		v.Feedback = firstNonEmpty(w.Feedback, w.OverallFeedback)
		v.Deficiencies = compact(w.Deficiencies)
		if len(v.Deficiencies) == 0 {
			v.Deficiencies = compact(w.SuggestedImprovements)
		}
		v.Strengths = compact(w.Strengths)
		v.AdditionalQueries = compact(w.AdditionalQueries)
		v.Details = firstNonEmpty(w.Details, w.NextActionDetails)
	} else {
		m := verdictLineRe.FindStringSubmatch(raw)
		if m == nil {
			return failed[research.ReviewVerdict]("reviewer", "no verdict found", raw)
		}
		verdict, known := leadingVerdict(m[1])
		if !known {
			return failed[research.ReviewVerdict]("reviewer", fmt.Sprintf("verdict %q is not approve, revise_report or need_more_data", strings.TrimSpace(m[1])), raw)
		}
		v.Verdict = verdict
		v.Feedback = strings.TrimSpace(verdictLineRe.ReplaceAllString(raw, ""))
		v.Deficiencies = bullets(raw)
		missing = append(missing, "additional_queries")
	}

	if v.Feedback == "" {
		missing = append(missing, "feedback")
	}
	return ok(v, missing)
}

// NormalizeVerdict maps the vocabulary reviewers tend to use onto the three
// routing verdicts.
func NormalizeVerdict(label string) (research.Verdict, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch key {
	case "approve", "approved", "complete", "completed", "accept", "accepted", "done":
		return research.VerdictApprove, true
	case "revise_report", "revise", "revision", "revise_the_report":
		return research.VerdictReviseReport, true
	case "need_more_data", "gather_more_data", "more_data", "needs_more_data", "gather_more":
		return research.VerdictNeedMoreData, true
	}
	return "", false
}

// leadingVerdict normalizes the longest run of leading words that names a
// verdict, so "approve with minor edits" reads as approve.
func leadingVerdict(label string) (research.Verdict, bool) {
	words := strings.FieldsFunc(label, func(r rune) bool { return r == ' ' || r == '-' })
	for n := len(words); n > 0; n-- {
		if v, ok := NormalizeVerdict(strings.Join(words[:n], " ")); ok {
			return v, true
		}
	}
	return "", false
}
