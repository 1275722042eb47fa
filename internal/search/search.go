// Package search provides the web search backends behind the searcher role.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

// Backend is a single search engine.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error)
}

// Multi fans one query out to several backends in order and merges the hits,
// dropping duplicate URLs.
type Multi struct {
	backends []Backend
	logger   *slog.Logger
}

// NewMulti combines backends. A nil logger uses slog.Default().
func NewMulti(logger *slog.Logger, backends ...Backend) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{backends: backends, logger: logger}
}

// NewFromConfig builds the backends named in cfg.Backends.
func NewFromConfig(cfg config.Search, logger *slog.Logger) (*Multi, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var backends []Backend
	for _, name := range cfg.Backends {
		switch strings.ToLower(name) {
		case "duckduckgo":
			backends = append(backends, NewDuckDuckGo(client))
		case "tavily":
			key := os.Getenv(cfg.Tavily.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("tavily backend requires %s", cfg.Tavily.APIKeyEnv)
			}
			backends = append(backends, NewTavily(key, cfg.Tavily.Depth, client))
		case "newsapi":
			key := os.Getenv(cfg.NewsAPI.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("newsapi backend requires %s", cfg.NewsAPI.APIKeyEnv)
			}
			backends = append(backends, NewNewsAPI(key, cfg.NewsAPI.DaysBack, client))
		case "feeds":
			feeds := make([]FeedSource, len(cfg.Feeds))
			for i, f := range cfg.Feeds {
				feeds[i] = FeedSource{URL: f.URL, Name: f.Name}
			}
			backends = append(backends, NewFeeds(feeds, client))
		default:
			return nil, fmt.Errorf("unknown search backend %q", name)
		}
	}
	if len(backends) == 0 {
		return nil, errors.New("no search backends configured")
	}
	return NewMulti(logger, backends...), nil
}

func (m *Multi) Name() string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, "+")
}

// Search queries every backend. It only fails when all backends fail.
func (m *Multi) Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error) {
	seen := make(map[string]struct{})
	var (
		all  []research.Hit
		errs []error
	)
	for _, b := range m.backends {
		hits, err := b.Search(ctx, query, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("search backend failed", "backend", b.Name(), "query", query, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		for _, h := range hits {
			key := research.NormalizeURL(h.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, h)
		}
	}
	if len(errs) == len(m.backends) {
		return nil, errors.Join(errs...)
	}
	if maxResults > 0 && len(all) > maxResults {
		all = all[:maxResults]
	}
	return all, nil
}

// plainText renders an HTML fragment as whitespace-normalised text.
func plainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
