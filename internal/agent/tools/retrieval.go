package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/portfolio-agent-poc/server/internal/agent/model"
)

// RetrievalClient serves the rag tool against the document-retrieval backend:
// a bearer-authenticated JSON API with a single search operation over the
// published-articles corpus. Index construction and ranking live server-side.
type RetrievalClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	topK       int
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResult struct {
	Snippet  string  `json:"snippet"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func NewRetrievalClient(cfg model.RetrievalConfig) (*RetrievalClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("retrieval base url is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &RetrievalClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		topK:       topK,
	}, nil
}

func (c *RetrievalClient) Service() model.Service {
	return model.ServiceRetrieval
}

func (c *RetrievalClient) Invoke(ctx context.Context, inv model.ToolInvocation) (*model.ToolOutput, error) {
	if inv.Tool != model.ToolRAG {
		return nil, model.NewToolError(inv.Tool, model.ErrUnknown, fmt.Errorf("unsupported retrieval tool %q", inv.Tool))
	}

	results, err := c.search(ctx, inv.Arg(model.ArgQuery))
	if err != nil {
		return nil, mapRetrievalError(inv.Tool, err)
	}

	return &model.ToolOutput{
		Tool:        inv.Tool,
		Payload:     renderSnippets(results),
		RetrievedAt: time.Now(),
	}, nil
}

func (c *RetrievalClient) search(ctx context.Context, query string) ([]searchResult, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: c.topK})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a short prefix for the error message, the rest is noise.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &statusError{code: resp.StatusCode, body: string(snippet)}
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}

func renderSnippets(results []searchResult) string {
	if len(results) == 0 {
		return "No matching documents found."
	}
	var b strings.Builder
	b.WriteString("Retrieved document snippets:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] (score %.3f) %s\n", r.SourceID, r.Score, r.Snippet)
	}
	return b.String()
}

// statusError carries a non-200 search response for taxonomy mapping.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retrieval backend returned HTTP %d: %s", e.code, e.body)
}

func mapRetrievalError(tool model.ToolID, err error) *model.ToolError {
	var stErr *statusError
	if errors.As(err, &stErr) {
		switch code := stErr.code; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return model.NewToolError(tool, model.ErrAuth, err)
		case code == http.StatusNotFound:
			return model.NewToolError(tool, model.ErrNotFound, err)
		case code == http.StatusTooManyRequests:
			return model.NewToolError(tool, model.ErrRateLimit, err)
		case code >= 500:
			return model.NewToolError(tool, model.ErrTransient, err)
		default:
			return model.NewToolError(tool, model.ErrUnknown, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewToolError(tool, model.ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return model.NewToolError(tool, model.ErrTimeout, err)
		}
		return model.NewToolError(tool, model.ErrTransient, err)
	}

	return model.NewToolError(tool, model.ErrUnknown, err)
}

var _ ToolClient = (*RetrievalClient)(nil)
