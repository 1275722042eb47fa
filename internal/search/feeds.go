package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/AIResearch/internal/research"
)

const (
	maxPerFeed = 50
	feedTTL    = 30 * time.Minute
)

// FeedSource is one RSS or Atom feed.
type FeedSource struct {
	URL  string
	Name string
}

// Feeds searches the entries of a fixed set of RSS/Atom feeds by keyword.
// Parsed feeds are cached for feedTTL.
type Feeds struct {
	sources []FeedSource
	parser  *gofeed.Parser

	mu       sync.Mutex
	entries  []feedEntry
	loadedAt time.Time
}

type feedEntry struct {
	hit  research.Hit
	text string
}

// NewFeeds creates a feed backend. Feeds are fetched with client.
func NewFeeds(sources []FeedSource, client *http.Client) *Feeds {
	parser := gofeed.NewParser()
	parser.Client = client
	return &Feeds{sources: sources, parser: parser}
}

func (f *Feeds) Name() string { return "feeds" }

// Search ranks cached feed entries by how many query terms they contain.
func (f *Feeds) Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error) {
	entries := f.load(ctx)
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type scored struct {
		hit   research.Hit
		score int
	}
	var matches []scored
	for _, e := range entries {
		score := 0
		for _, t := range terms {
			if strings.Contains(e.text, t) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{e.hit, score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	var hits []research.Hit
	for _, m := range matches {
		hits = append(hits, m.hit)
		if maxResults > 0 && len(hits) >= maxResults {
			break
		}
	}
	return hits, nil
}

func (f *Feeds) load(ctx context.Context) []feedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries != nil && time.Since(f.loadedAt) < feedTTL {
		return f.entries
	}

	var all []feedEntry
	for _, src := range f.sources {
		name := src.Name
		if name == "" {
			name = extractSourceName(src.URL)
		}
		feed, err := f.parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			slog.Warn("failed to parse feed", "url", src.URL, "error", err)
			continue
		}
		for i, item := range feed.Items {
			if i >= maxPerFeed {
				break
			}
			if e, ok := parseItem(item, name); ok {
				all = append(all, e)
			}
		}
		slog.Debug("parsed feed", "source", name, "entries", len(feed.Items))
	}
	f.entries = all
	if f.entries == nil {
		f.entries = []feedEntry{}
	}
	f.loadedAt = time.Now()
	return f.entries
}

func parseItem(item *gofeed.Item, source string) (feedEntry, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return feedEntry{}, false
	}

	content := item.Description
	if content == "" {
		content = item.Content
	}
	snippet := plainText(content)
	if len(snippet) > 300 {
		snippet = snippet[:300] + "..."
	}

	return feedEntry{
		hit:  research.Hit{Title: title + " (" + source + ")", URL: link, Snippet: snippet},
		text: strings.ToLower(title + " " + plainText(item.Content) + " " + snippet),
	}, true
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true, "how": true,
	"are": true, "is": true, "of": true, "in": true, "on": true, "to": true, "a": true, "an": true,
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()`)
		if len(w) < 3 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
