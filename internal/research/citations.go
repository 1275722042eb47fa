package research

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// markerRe matches [3], [1, 4] and [2-5].
var markerRe = regexp.MustCompile(`\[(\d+(?:\s*(?:,|-|–)\s*\d+)*)\]`)

// CitationMismatchError means a summary cites something that was not part of
// its input, or a finding marker points at no citation.
type CitationMismatchError struct {
	SubtopicID string
	Unknown    []string
	Unresolved []int
}

func (e *CitationMismatchError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown sources "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Unresolved) > 0 {
		parts = append(parts, "unresolved markers "+joinInts(e.Unresolved))
	}
	return fmt.Sprintf("summary %s cites %s", e.SubtopicID, strings.Join(parts, "; "))
}

// DanglingCitationError means a report's markers and bibliography disagree.
type DanglingCitationError struct {
	Dangling   []int
	Duplicates []int
	Missing    []int
	// OutOfRange holds bibliography indices outside 1..len(bibliography).
	OutOfRange []int

	size int
}

func (e *DanglingCitationError) Error() string {
	var parts []string
	if len(e.Dangling) > 0 {
		parts = append(parts, "markers without bibliography entry "+joinInts(e.Dangling))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, "duplicate bibliography indices "+joinInts(e.Duplicates))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "non-contiguous numbering, missing "+joinInts(e.Missing))
	}
	if len(e.OutOfRange) > 0 {
		parts = append(parts, "bibliography indices outside 1.."+strconv.Itoa(e.size)+" "+joinInts(e.OutOfRange))
	}
	return "report citations invalid: " + strings.Join(parts, "; ")
}

// Markers returns the distinct citation numbers used in text, in order of
// first appearance.
func Markers(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		for _, n := range expandMarker(m[1]) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// CheckSummary validates that every citation URL was part of the input and
// every finding marker resolves to a citation.
func CheckSummary(sum Summary, inputURLs []string) error {
	allowed := urlSet(inputURLs)
	e := &CitationMismatchError{SubtopicID: sum.SubtopicID}
	for _, c := range sum.Citations {
		if !allowed[NormalizeURL(c.URL)] {
			e.Unknown = append(e.Unknown, c.URL)
		}
	}
	for _, n := range Markers(strings.Join(sum.KeyFindings, "\n")) {
		if n < 1 || n > len(sum.Citations) {
			e.Unresolved = append(e.Unresolved, n)
		}
	}
	if len(e.Unknown) > 0 || len(e.Unresolved) > 0 {
		return e
	}
	return nil
}

// DropForeignCitations removes citations that were not in the input and
// renumbers the finding markers to match.
func DropForeignCitations(sum Summary, inputURLs []string) Summary {
	allowed := urlSet(inputURLs)
	mapping := make(map[int]int)
	var kept []Citation
	for i, c := range sum.Citations {
		if allowed[NormalizeURL(c.URL)] {
			kept = append(kept, c)
			mapping[i+1] = len(kept)
		}
	}
	out := sum
	out.Citations = kept
	out.KeyFindings = make([]string, 0, len(sum.KeyFindings))
	for _, f := range sum.KeyFindings {
		out.KeyFindings = append(out.KeyFindings, rewriteMarkers(f, mapping))
	}
	return out
}

// CheckReport validates that bibliography indices are unique and numbered
// 1..n without gaps, and that every marker in the text resolves. n is the
// number of bibliography entries, so the work is bounded by the input size
// whatever indices the model chose.
func CheckReport(d ReportDraft) error {
	n := len(d.Bibliography)
	e := &DanglingCitationError{size: n}
	seen := make(map[int]bool, n)
	for _, b := range d.Bibliography {
		switch {
		case b.Index < 1 || b.Index > n:
			e.OutOfRange = append(e.OutOfRange, b.Index)
		case seen[b.Index]:
			e.Duplicates = append(e.Duplicates, b.Index)
		default:
			seen[b.Index] = true
		}
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			e.Missing = append(e.Missing, i)
		}
	}
	for _, m := range Markers(d.Text) {
		if !seen[m] {
			e.Dangling = append(e.Dangling, m)
		}
	}
	if len(e.Dangling) > 0 || len(e.Duplicates) > 0 || len(e.Missing) > 0 || len(e.OutOfRange) > 0 {
		return e
	}
	return nil
}

// RepairReport renumbers the bibliography to 1..n, keeping the first entry
// for any duplicated index, rewrites markers accordingly and strips markers
// that have no entry. The result always passes CheckReport.
func RepairReport(d ReportDraft) ReportDraft {
	byIndex := make(map[int]BibEntry)
	var order []int
	for _, b := range d.Bibliography {
		if _, dup := byIndex[b.Index]; dup {
			continue
		}
		byIndex[b.Index] = b
		order = append(order, b.Index)
	}
	sort.Ints(order)

	mapping := make(map[int]int, len(order))
	bib := make([]BibEntry, 0, len(order))
	for i, old := range order {
		entry := byIndex[old]
		entry.Index = i + 1
		mapping[old] = i + 1
		bib = append(bib, entry)
	}

	out := d
	out.Bibliography = bib
	out.Text = rewriteMarkers(d.Text, mapping)
	out.Repaired = true
	return out
}

// NormalizeURL canonicalises a URL for equality checks.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, "/")
	return strings.ToLower(u)
}

// rewriteMarkers maps every marker through mapping. A marker left with no
// numbers is removed together with the blanks before it when it sits before
// punctuation, a blank or the end of the text.
func rewriteMarkers(text string, mapping map[int]int) string {
	out := make([]byte, 0, len(text))
	last := 0
	for _, loc := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, text[last:loc[0]]...)
		last = loc[1]
		var nums []int
		for _, n := range expandMarker(text[loc[2]:loc[3]]) {
			if to, ok := mapping[n]; ok {
				nums = append(nums, to)
			}
		}
		if len(nums) > 0 {
			out = append(out, "["+joinInts(nums)+"]"...)
			continue
		}
		if last == len(text) || strings.IndexByte(" \t\n.,;:!?)", text[last]) >= 0 {
			for len(out) > 0 && (out[len(out)-1] == ' ' || out[len(out)-1] == '\t') {
				out = out[:len(out)-1]
			}
		}
	}
	out = append(out, text[last:]...)
	return string(out)
}

func expandMarker(inner string) []int {
	var out []int
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(strings.ReplaceAll(part, "–", "-"))
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(strings.TrimSpace(lo))
			b, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || b < a || b-a > 50 {
				continue
			}
			for i := a; i <= b; i++ {
				out = append(out, i)
			}
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func urlSet(urls []string) map[string]bool {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[NormalizeURL(u)] = true
	}
	return set
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
