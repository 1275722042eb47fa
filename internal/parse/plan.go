package parse

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

type planWire struct {
	Objective       string        `json:"objective"`
	SuccessCriteria flexStrings   `json:"success_criteria"`
	RelatedTopics   flexStrings   `json:"related_topics"`
	Subtopics       []subtopicRaw `json:"subtopics"`
	ResearchTasks   []subtopicRaw `json:"research_tasks"`
}

type subtopicRaw struct {
	Title         string      `json:"title"`
	Subtopic      string      `json:"subtopic"`
	Objective     string      `json:"objective"`
	Queries       flexStrings `json:"queries"`
	SearchQueries flexStrings `json:"search_queries"`
}

// Plan parses a planner response. Subtopic ids are assigned T1..Tn in order.
// Subtopics without queries use their title as the only query.
func Plan(raw, query string, maxSubtopics int) Outcome[research.Plan] {
	plan := research.Plan{Version: 1, Query: query}
	var missing []string

	var w planWire
	if err := llm.DecodeJSON(raw, &w); err == nil {
		plan.Objective = strings.TrimSpace(w.Objective)
		plan.SuccessCriteria = compact(w.SuccessCriteria)
		plan.RelatedTopics = compact(w.RelatedTopics)
		subs := w.Subtopics
		if len(subs) == 0 {
			subs = w.ResearchTasks
		}
		for _, s := range subs {
			title := firstNonEmpty(s.Title, s.Subtopic)
			if title == "" {
				continue
			}
			queries := compact(s.Queries)
			if len(queries) == 0 {
				queries = compact(s.SearchQueries)
			}
			if len(queries) == 0 {
				queries = []string{title}
				missing = appendOnce(missing, "queries")
			}
			plan.Subtopics = append(plan.Subtopics, research.Subtopic{
				Title:     title,
				Objective: strings.TrimSpace(s.Objective),
				Queries:   queries,
			})
		}
	} else {
		for _, item := range bullets(raw) {
			title := strings.Trim(item, "*_# ")
			plan.Subtopics = append(plan.Subtopics, research.Subtopic{Title: title, Queries: []string{title}})
		}
		missing = append(missing, "queries")
	}

	if len(plan.Subtopics) == 0 {
		return failed[research.Plan]("planner", "no subtopics found", raw)
	}
	if maxSubtopics > 0 && len(plan.Subtopics) > maxSubtopics {
		plan.Subtopics = plan.Subtopics[:maxSubtopics]
	}
	for i := range plan.Subtopics {
		plan.Subtopics[i].ID = fmt.Sprintf("T%d", i+1)
	}
	if plan.Objective == "" {
		plan.Objective = query
		missing = append(missing, "objective")
	}
	if len(plan.SuccessCriteria) == 0 {
		missing = append(missing, "success_criteria")
	}
	return ok(plan, missing)
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
