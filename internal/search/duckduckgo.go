package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

const duckDuckGoLiteURL = "https://lite.duckduckgo.com/lite/"

// ddgRateLimit enforces one query per second across all DuckDuckGo instances.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGo scrapes the DuckDuckGo lite HTML page. It needs no API key.
type DuckDuckGo struct {
	Endpoint string
	client   *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo backend using client.
func NewDuckDuckGo(client *http.Client) *DuckDuckGo {
	return &DuckDuckGo{Endpoint: duckDuckGoLiteURL, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := waitDDGSlot(ctx); err != nil {
		return nil, err
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, llm.Classify("duckduckgo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, llm.StatusError("duckduckgo", resp.StatusCode, body)
	}
	return parseLiteResults(resp.Body, maxResults)
}

func waitDDGSlot(ctx context.Context) error {
	ddgRateLimit.mu.Lock()
	defer ddgRateLimit.mu.Unlock()
	if wait := time.Until(ddgRateLimit.last.Add(time.Second)); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ddgRateLimit.last = time.Now()
	return nil
}

// parseLiteResults reads result links and their snippet cells from the lite
// page. Snippets follow their link in document order.
func parseLiteResults(r io.Reader, maxResults int) ([]research.Hit, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var snippets []string
	doc.Find("td.result-snippet").Each(func(_ int, s *goquery.Selection) {
		snippets = append(snippets, strings.Join(strings.Fields(s.Text()), " "))
	})

	var hits []research.Hit
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		link := resolveDDGLink(href)
		title := strings.TrimSpace(s.Text())
		if link == "" || title == "" {
			return true
		}
		hit := research.Hit{Title: title, URL: link}
		if i < len(snippets) {
			hit.Snippet = snippets[i]
		}
		hits = append(hits, hit)
		return maxResults <= 0 || len(hits) < maxResults
	})
	return hits, nil
}

// resolveDDGLink unwraps DuckDuckGo redirect links (/l/?uddg=...).
func resolveDDGLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.Contains(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
