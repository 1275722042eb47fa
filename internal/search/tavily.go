package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/TobiSchelling/AIResearch/internal/llm"
	"github.com/TobiSchelling/AIResearch/internal/research"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey   string
	Depth    string
	Endpoint string
	client   *http.Client
}

// NewTavily constructs a Tavily backend. Depth is basic or advanced.
func NewTavily(apiKey, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{APIKey: apiKey, Depth: depth, Endpoint: tavilyURL, client: client}
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]research.Hit, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, &llm.FatalAgentError{Provider: "tavily", Message: "API key is missing"}
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, llm.Classify("tavily", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, llm.StatusError("tavily", resp.StatusCode, body)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &llm.TransportError{Provider: "tavily", Err: errors.New("decoding response: " + err.Error())}
	}

	hits := make([]research.Hit, 0, len(response.Results))
	for _, r := range response.Results {
		hits = append(hits, research.Hit{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(hits) >= maxResults {
			break
		}
	}
	return hits, nil
}
