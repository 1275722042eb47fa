package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ErrNoJSON is returned when a response holds nothing that decodes as JSON.
var ErrNoJSON = errors.New("no JSON found in response")

var (
	fenceRe         = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n(.*?)\n?```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// ExtractJSON locates a JSON object or array in an LLM response. It accepts
// bare JSON, JSON inside markdown code fences and JSON surrounded by prose,
// and repairs trailing commas and typographic quotes. When several spans
// parse, the largest wins and arrays of bare numbers such as citation
// markers come last.
func ExtractJSON(text string) (string, bool) {
	found := jsonCandidates(text)
	if len(found) == 0 {
		return "", false
	}
	return found[0], true
}

// DecodeJSON unmarshals into v the first candidate from ExtractJSON's
// ordering that fits v's shape.
func DecodeJSON(text string, v any) error {
	found := jsonCandidates(text)
	if len(found) == 0 {
		return ErrNoJSON
	}
	var first error
	for _, c := range found {
		err := json.Unmarshal([]byte(c), v)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// jsonCandidates returns every valid JSON span in text, largest first, with
// number-only arrays moved to the end.
func jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		raw = append(raw, strings.TrimSpace(m[1]))
	}
	raw = append(raw, text)
	raw = append(raw, balancedSpans(text)...)

	seen := make(map[string]bool)
	var found, numeric []string
	for _, c := range raw {
		if c == "" || (c[0] != '{' && c[0] != '[') {
			continue
		}
		if !json.Valid([]byte(c)) {
			c = repairJSON(c)
			if !json.Valid([]byte(c)) {
				continue
			}
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		if isNumberArray(c) {
			numeric = append(numeric, c)
			continue
		}
		found = append(found, c)
	}
	sort.SliceStable(found, func(i, j int) bool { return len(found[i]) > len(found[j]) })
	return append(found, numeric...)
}

func isNumberArray(c string) bool {
	var nums []json.Number
	return c[0] == '[' && json.Unmarshal([]byte(c), &nums) == nil
}

func repairJSON(s string) string {
	s = smartQuotes.Replace(s)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// balancedSpans returns every top-level {...} or [...] span in text, in order
// of appearance, honouring string literals.
func balancedSpans(text string) []string {
	var spans []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		end := matchClose(text, start)
		if end < 0 {
			continue
		}
		spans = append(spans, text[start:end+1])
		start = end
	}
	return spans
}

func matchClose(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
