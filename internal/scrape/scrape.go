// Package scrape downloads pages and extracts their readable text.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/AIResearch/internal/llm"
)

const (
	minTextLen   = 100
	maxBodyBytes = 5 << 20
	userAgent    = "AIResearch/1.0 (research assistant)"
)

var (
	// ErrNoContent means the page had no extractable text.
	ErrNoContent = errors.New("no extractable content")
	// ErrDomainSkipped means an earlier request to the same host failed.
	ErrDomainSkipped = errors.New("domain skipped after earlier failure")
)

// Document is the extracted text of one page.
type Document struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads pages and extracts their main content with readability,
// falling back to paragraph text. Hosts that answered with an HTTP error are
// skipped for the rest of the fetcher's life.
type Fetcher struct {
	client   *http.Client
	maxChars int

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// NewFetcher creates a fetcher. Text is truncated to maxChars runes.
func NewFetcher(timeout time.Duration, maxChars int) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return NewFetcherWithClient(&http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, maxChars)
}

// NewFetcherWithClient creates a fetcher using client.
func NewFetcherWithClient(client *http.Client, maxChars int) *Fetcher {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &Fetcher{client: client, maxChars: maxChars, failedDomains: make(map[string]struct{})}
}

// Fetch downloads rawURL and returns its readable text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Document{}, fmt.Errorf("unsupported URL %q", rawURL)
	}
	domain := strings.ToLower(u.Host)
	if f.domainFailed(domain) {
		return Document{}, ErrDomainSkipped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, llm.Classify("scrape", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f.markFailed(domain)
		return Document{}, &httpError{code: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return Document{}, fmt.Errorf("unsupported content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, llm.Classify("scrape", err)
	}

	doc := Document{URL: rawURL}
	if article, err := readability.FromReader(bytes.NewReader(body), u); err == nil {
		doc.Title = strings.TrimSpace(article.Title)
		doc.Text = normalizeSpace(article.TextContent)
	}
	if len(doc.Text) < minTextLen {
		title, text := paragraphText(body)
		if doc.Title == "" {
			doc.Title = title
		}
		if len(text) > len(doc.Text) {
			doc.Text = text
		}
	}
	if len(doc.Text) < minTextLen {
		return Document{}, ErrNoContent
	}
	doc.Text = truncate(doc.Text, f.maxChars)
	return doc, nil
}

func (f *Fetcher) domainFailed(domain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, failed := f.failedDomains[domain]
	return failed
}

func (f *Fetcher) markFailed(domain string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedDomains[domain] = struct{}{}
}

// paragraphText collects <p> text for pages readability cannot handle.
func paragraphText(body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := normalizeSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.TrimSpace(doc.Find("title").First().Text()), strings.Join(parts, "\n")
}

func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
