package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/AIResearch/internal/agent"
	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/parse"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

const noContentFinding = "No content found."

func (r *Router) plan(ctx context.Context, st *research.State) error {
	in := agent.PlanInput{Query: st.Query, MaxSubtopics: r.opts.MaxSubtopics}
	var lastErr error
	for attempt := 0; attempt <= r.opts.PlanRetries; attempt++ {
		raw, err := r.proxy.Invoke(ctx, agent.Planner, in)
		if err != nil {
			return err
		}
		out := parse.Plan(raw, st.Query, r.opts.MaxSubtopics)
		if out.Usable() && len(out.Value.Subtopics) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			st.Plans = append(st.Plans, out.Value)
			st.Pending = st.Pending[:0]
			for _, sub := range out.Value.Subtopics {
				st.Pending = append(st.Pending, sub.ID)
			}
			r.logger.Info("plan ready", "subtopics", len(out.Value.Subtopics), "missing", out.Missing)
			return nil
		}
		lastErr = out.Err
		if lastErr == nil {
			lastErr = &parse.ParseError{Role: string(agent.Planner), Reason: "plan has no subtopics"}
		}
		r.logger.Warn("unusable plan", "attempt", attempt+1, "error", lastErr)
		in.Correction = "it contained no usable subtopics. Answer with JSON that lists at least one subtopic with search queries"
	}
	return lastErr
}

type searchTask struct {
	req research.SearchRequest
}

// search runs every query of the pending subtopics concurrently. A failed
// query is recorded on its SearchResult; only quota exhaustion or
// cancellation stop the stage.
func (r *Router) search(ctx context.Context, st *research.State) error {
	plan, ok := st.Plan()
	if !ok {
		return &invariantError{msg: "search without a plan"}
	}
	var tasks []searchTask
	for _, id := range st.Pending {
		sub, ok := plan.Subtopic(id)
		if !ok {
			return &invariantError{msg: fmt.Sprintf("pending subtopic %s is not in plan v%d", id, plan.Version)}
		}
		for _, q := range sub.Queries {
			tasks = append(tasks, searchTask{req: research.SearchRequest{
				SubtopicID: sub.ID,
				Query:      q,
				MaxResults: r.opts.MaxHitsPerQuery,
			}})
		}
	}

	results := make([]research.SearchResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			res := research.SearchResult{SubtopicID: task.req.SubtopicID, Query: task.req.Query}
			raw, err := r.proxy.Invoke(gctx, agent.Searcher, task.req)
			if err != nil {
				var fe *llm.FatalAgentError
				if llm.IsQuota(err) || errors.As(err, &fe) || gctx.Err() != nil {
					return err
				}
				r.logger.Warn("search failed", "subtopic", task.req.SubtopicID, "query", task.req.Query, "error", err)
				res.Error = err.Error()
				results[i] = res
				return nil
			}
			out := parse.Search(raw, task.req)
			if !out.Usable() {
				res.Error = out.Err.Error()
				results[i] = res
				return nil
			}
			results[i] = out.Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	hits := 0
	for _, res := range results {
		st.Searches[res.SubtopicID] = append(st.Searches[res.SubtopicID], res)
		hits += len(res.Hits)
	}
	r.logger.Info("search complete", "queries", len(tasks), "hits", hits)
	return nil
}

// scrape extracts the top hits of every pending subtopic. Per-URL failures
// are recorded on the document and never fail the stage.
func (r *Router) scrape(ctx context.Context, st *research.State) error {
	var reqs []research.ScrapeRequest
	for _, id := range st.Pending {
		seen := make(map[string]bool)
		n := 0
		for _, res := range st.Searches[id] {
			for _, h := range res.Hits {
				key := research.NormalizeURL(h.URL)
				if seen[key] || n >= r.opts.MaxURLsPerSubtopic {
					continue
				}
				seen[key] = true
				n++
				reqs = append(reqs, research.ScrapeRequest{SubtopicID: id, URL: h.URL, Title: h.Title})
			}
		}
	}

	docs := make([]research.ScrapedDocument, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			doc := research.ScrapedDocument{SubtopicID: req.SubtopicID, URL: req.URL, Title: req.Title, Status: research.ScrapeFailed}
			raw, err := r.proxy.Invoke(gctx, agent.Scraper, req)
			switch {
			case err != nil && gctx.Err() != nil:
				return err
			case err != nil:
				doc.Error = err.Error()
			default:
				if out := parse.Scrape(raw, req); out.Usable() {
					doc = out.Value
				} else {
					doc.Error = out.Err.Error()
				}
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	okCount := 0
	for _, d := range docs {
		st.Documents[d.SubtopicID] = append(st.Documents[d.SubtopicID], d)
		if d.Status == research.ScrapeOK {
			okCount++
		}
	}
	r.logger.Info("scrape complete", "urls", len(reqs), "ok", okCount)
	return nil
}

// summarize condenses every pending subtopic concurrently.
func (r *Router) summarize(ctx context.Context, st *research.State) error {
	plan, _ := st.Plan()
	type job struct {
		sub  research.Subtopic
		hits []research.Hit
		docs []research.ScrapedDocument
	}
	jobs := make([]job, 0, len(st.Pending))
	for _, id := range st.Pending {
		sub, ok := plan.Subtopic(id)
		if !ok {
			return &invariantError{msg: fmt.Sprintf("pending subtopic %s is not in plan v%d", id, plan.Version)}
		}
		j := job{sub: sub, docs: st.Documents[id]}
		for _, res := range st.Searches[id] {
			j.hits = append(j.hits, res.Hits...)
		}
		jobs = append(jobs, j)
	}

	sums := make([]research.Summary, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			sum, err := r.summarizeOne(gctx, st.Query, j.sub, j.hits, j.docs)
			if err != nil {
				return fmt.Errorf("summarizing %s: %w", j.sub.ID, err)
			}
			sums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, sum := range sums {
		st.Summaries[sum.SubtopicID] = sum
	}
	st.Pending = nil
	r.logger.Info("summaries ready", "count", len(sums))
	return nil
}

func (r *Router) summarizeOne(ctx context.Context, query string, sub research.Subtopic, hits []research.Hit, docs []research.ScrapedDocument) (research.Summary, error) {
	if len(hits) == 0 {
		return research.Summary{SubtopicID: sub.ID, Subtopic: sub.Title, KeyFindings: []string{noContentFinding}}, nil
	}
	sources, fallback := agent.SummarySources(hits, docs)
	in := agent.SummarizeInput{Query: query, Subtopic: sub, Sources: sources}
	urls := in.URLs()

	parseLeft, citationLeft := r.opts.ParseRetries, 1
	for {
		raw, err := r.proxy.Invoke(ctx, agent.Summarizer, in)
		if err != nil {
			return research.Summary{}, err
		}
		out := parse.Summary(raw, sub)
		if !out.Usable() {
			if parseLeft == 0 {
				return research.Summary{}, out.Err
			}
			parseLeft--
			r.logger.Warn("unusable summary, retrying", "subtopic", sub.ID, "error", out.Err)
			in.Correction = "it contained no key findings. Answer with the JSON object described below"
			continue
		}

		sum := out.Value
		sum.Fallback = fallback
		if err := research.CheckSummary(sum, urls); err != nil {
			var cme *research.CitationMismatchError
			if citationLeft > 0 && errors.As(err, &cme) {
				citationLeft--
				r.logger.Warn("summary cites unknown sources, retrying", "subtopic", sub.ID, "error", err)
				in.Correction = err.Error() + ". Cite only the numbered sources given"
				continue
			}
			r.logger.Warn("dropping foreign citations", "subtopic", sub.ID, "error", err)
			sum = research.DropForeignCitations(sum, urls)
		}
		return sum, nil
	}
}

func (r *Router) synthesize(ctx context.Context, st *research.State) error {
	plan, _ := st.Plan()
	in := agent.SynthesizeInput{Query: st.Query, Plan: plan, Summaries: st.OrderedSummaries()}
	parent := 0
	if d, ok := st.LatestDraft(); ok {
		parent = d.Version
		if v, ok := st.LatestVerdict(); ok {
			in.Prior, in.Review = &d, &v
		}
	}

	parseLeft, citationLeft := r.opts.ParseRetries, 1
	for {
		raw, err := r.proxy.Invoke(ctx, agent.Synthesizer, in)
		if err != nil {
			return err
		}
		out := parse.Report(raw)
		if !out.Usable() {
			if parseLeft == 0 {
				return out.Err
			}
			parseLeft--
			r.logger.Warn("unusable report, retrying", "error", out.Err)
			in.Correction = "the report text was empty. Answer with the JSON object described below"
			continue
		}

		draft := out.Value
		if err := research.CheckReport(draft); err != nil {
			if citationLeft > 0 {
				citationLeft--
				r.logger.Warn("report citations do not resolve, retrying", "error", err)
				in.Correction = err.Error() + ". Number the bibliography 1..n and cite only those numbers"
				continue
			}
			r.logger.Warn("repairing report citations", "error", err)
			draft = research.RepairReport(draft)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		draft.Version = len(st.Drafts) + 1
		draft.ParentVersion = parent
		draft.CreatedAt = r.now()
		st.Drafts = append(st.Drafts, draft)
		r.logger.Info("draft ready", "version", draft.Version, "references", len(draft.Bibliography), "repaired", draft.Repaired)
		return nil
	}
}

func (r *Router) review(ctx context.Context, st *research.State) (research.ReviewVerdict, error) {
	if err := st.CheckReviewInvariant(); err != nil {
		return research.ReviewVerdict{}, &invariantError{msg: err.Error()}
	}
	plan, _ := st.Plan()
	draft, _ := st.LatestDraft()
	in := agent.ReviewInput{
		Query:         st.Query,
		Plan:          plan,
		Draft:         draft,
		Iteration:     st.Iteration,
		MaxIterations: st.MaxIterations,
	}

	parseLeft := r.opts.ParseRetries
	for {
		raw, err := r.proxy.Invoke(ctx, agent.Reviewer, in)
		if err != nil {
			return research.ReviewVerdict{}, err
		}
		out := parse.Verdict(raw, draft.Version)
		if !out.Usable() {
			if parseLeft == 0 {
				return research.ReviewVerdict{}, out.Err
			}
			parseLeft--
			r.logger.Warn("unusable verdict, retrying", "error", out.Err)
			in.Correction = out.Err.Error() + `. The verdict must be exactly "approve", "revise_report" or "need_more_data"`
			continue
		}
		if err := ctx.Err(); err != nil {
			return research.ReviewVerdict{}, err
		}
		v := out.Value
		v.CreatedAt = r.now()
		st.Verdicts = append(st.Verdicts, v)
		r.logger.Info("review complete", "draft", draft.Version, "verdict", v.Verdict)
		return v, nil
	}
}

// gatherMore extends the plan with one subtopic built from the reviewer's
// requests and marks it as the only pending subtopic.
func (r *Router) gatherMore(st *research.State) {
	v, _ := st.LatestVerdict()
	var queries []string
	for _, q := range v.AdditionalQueries {
		if q = strings.TrimSpace(q); q != "" && len(queries) < 3 {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		for _, q := range []string{v.Details, v.Feedback, st.Query} {
			if q = strings.TrimSpace(q); q != "" {
				queries = []string{clip(q, 200)}
				break
			}
		}
	}

	plan, _ := st.Plan()
	sub := research.Subtopic{
		ID:        fmt.Sprintf("T%d", len(plan.Subtopics)+1),
		Title:     fmt.Sprintf("Additional Research (iteration %d)", st.Iteration),
		Objective: fmt.Sprintf("Fill the gaps identified in the review of draft %d", v.DraftVersion),
		Queries:   queries,
	}
	st.Plans = append(st.Plans, plan.Extend(sub))
	st.Pending = []string{sub.ID}
	r.logger.Info("gathering more data", "subtopic", sub.ID, "queries", queries)
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
