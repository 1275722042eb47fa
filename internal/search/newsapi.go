package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPI searches recent news articles.
type NewsAPI struct {
	BaseURL  string
	apiKey   string
	daysBack int
	client   *http.Client
}

// NewNewsAPI creates a NewsAPI backend limited to the last daysBack days.
func NewNewsAPI(apiKey string, daysBack int, client *http.Client) *NewsAPI {
	if daysBack <= 0 {
		daysBack = 30
	}
	return &NewsAPI{BaseURL: newsAPIBaseURL, apiKey: apiKey, daysBack: daysBack, client: client}
}

func (c *NewsAPI) Name() string { return "newsapi" }

// Search searches for articles matching a query.
func (c *NewsAPI) Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error) {
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 20
	}
	params := url.Values{
		"q":        {query},
		"from":     {time.Now().AddDate(0, 0, -c.daysBack).Format("2006-01-02")},
		"language": {"en"},
		"pageSize": {fmt.Sprintf("%d", maxResults)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, llm.Classify("newsapi", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, llm.StatusError("newsapi", resp.StatusCode, body)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Content     string `json:"content"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &llm.TransportError{Provider: "newsapi", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if result.Status != "ok" {
		return nil, &llm.FatalAgentError{Provider: "newsapi", Message: result.Message}
	}

	var hits []research.Hit
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		snippet := strings.TrimSpace(a.Description)
		if snippet == "" {
			snippet = strings.TrimSpace(a.Content)
		}
		title := strings.TrimSpace(a.Title)
		if a.Source.Name != "" {
			title += " (" + a.Source.Name + ")"
		}
		hits = append(hits, research.Hit{Title: title, URL: a.URL, Snippet: snippet})
	}
	return hits, nil
}
