package compose

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

// Edge is one router transition.
type Edge struct {
	From string
	To   string
}

// EdgesOf converts workflow transitions.
func EdgesOf(ts []workflow.Transition) []Edge {
	out := make([]Edge, len(ts))
	for i, t := range ts {
		out[i] = Edge{From: string(t.From), To: string(t.To)}
	}
	return out
}

var stageGraph = []Edge{
	{"PLANNING", "SEARCHING"},
	{"SEARCHING", "SCRAPING"},
	{"SEARCHING", "SUMMARIZING"},
	{"SCRAPING", "SUMMARIZING"},
	{"SUMMARIZING", "SYNTHESIZING"},
	{"SYNTHESIZING", "REVIEWING"},
	{"REVIEWING", "DONE"},
	{"REVIEWING", "REVISING"},
	{"REVIEWING", "GATHERING_MORE"},
	{"REVISING", "SYNTHESIZING"},
	{"GATHERING_MORE", "SEARCHING"},
}

var stageLabels = map[string]string{
	"PLANNING":       "Planner\nResearch Planning",
	"SEARCHING":      "Searcher\nWeb Retrieval",
	"SCRAPING":       "Scraper\nContent Extraction",
	"SUMMARIZING":    "Summarizer\nPer-Subtopic Findings",
	"SYNTHESIZING":   "Synthesizer\nReport Draft",
	"REVIEWING":      "Reviewer\nQuality Gate",
	"REVISING":       "Revise Report",
	"GATHERING_MORE": "Gather More Data",
	"DONE":           "Final Report",
	"ABORTED":        "Aborted",
}

// Diagram renders the stage graph in Graphviz DOT. Edges taken during the
// session are drawn solid and labelled with how often they were taken.
func Diagram(edges []Edge) string {
	counts := make(map[Edge]int)
	for _, e := range edges {
		counts[e]++
	}

	graph := append([]Edge(nil), stageGraph...)
	known := make(map[Edge]bool, len(graph))
	for _, e := range graph {
		known[e] = true
	}
	var extra []Edge
	for e := range counts {
		if !known[e] {
			extra = append(extra, e)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		if extra[i].From != extra[j].From {
			return extra[i].From < extra[j].From
		}
		return extra[i].To < extra[j].To
	})
	graph = append(graph, extra...)

	var b strings.Builder
	b.WriteString("digraph research_workflow {\n")
	b.WriteString("  rankdir=LR;\n  splines=curved;\n  fontname=\"Helvetica\";\n  nodesep=0.8;\n  ranksep=1.2;\n")
	b.WriteString("  node [shape=box, style=\"rounded,filled\", color=\"#4472C4\", fillcolor=\"#E9EEF6\", fontname=\"Helvetica\", fontsize=12];\n\n")

	nodes := make(map[string]bool)
	for _, e := range graph {
		for _, n := range []string{e.From, e.To} {
			if nodes[n] {
				continue
			}
			nodes[n] = true
			attrs := fmt.Sprintf("label=%q", label(n))
			switch n {
			case "DONE":
				attrs += `, shape=ellipse, fillcolor="#D5F5D5"`
			case "ABORTED":
				attrs += `, shape=octagon, fillcolor="#FFD6D6", color="#C00000"`
			case "REVIEWING":
				attrs += `, fillcolor="#FFE6E6"`
			}
			fmt.Fprintf(&b, "  %q [%s];\n", n, attrs)
		}
	}
	b.WriteString("\n")

	for _, e := range graph {
		if n := counts[e]; n > 0 {
			fmt.Fprintf(&b, "  %q -> %q [label=\"%dx\", penwidth=2];\n", e.From, e.To, n)
			continue
		}
		fmt.Fprintf(&b, "  %q -> %q [style=dashed, color=\"#AAAAAA\"];\n", e.From, e.To)
	}
	b.WriteString("}\n")
	return b.String()
}

// SaveDiagram writes a DOT diagram to dir as workflow_<timestamp>.dot.
func SaveDiagram(dir string, edges []Edge, at time.Time) (string, error) {
	return writeFile(dir, "workflow", "dot", at, Diagram(edges))
}

func label(stage string) string {
	if l, ok := stageLabels[stage]; ok {
		return l
	}
	return stage
}
