package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatflow/internal/constants"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
)

const BraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// WebSearcher queries a Brave-compatible web search API.
type WebSearcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewWebSearcher(cfg models.SearchConfig) *WebSearcher {
	base := cfg.BaseURL
	if base == "" {
		base = BraveSearchURL
	}
	return &WebSearcher{
		BaseURL: base,
		APIKey:  cfg.APIKey,
		Client:  &http.Client{Timeout: constants.DefaultHTTPTimeoutSec * time.Second},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (s *WebSearcher) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	if count <= 0 {
		count = constants.DefaultSearchResultCount
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("search_lang", "jp")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewAPIError("search", "web/search", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperrors.NewAPIError("search", "web/search", resp.StatusCode,
			fmt.Errorf("search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	results := make([]SearchResult, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Description)})
	}
	return results, nil
}

// FormatResults renders results as prompt context.
func FormatResults(results []SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
