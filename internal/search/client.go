package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/models"
)

const requestTimeout = 30 * time.Second

// Client talks to the hosted search API over HTTP. A client-side rate
// limiter keeps request pacing polite independently of server throttling.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a search API client from configuration. A zero
// RequestsPerSecond disables client-side pacing.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.Key,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type storyListResponse struct {
	Stories         []models.Story `json:"stories"`
	PaginationToken string         `json:"pagination_token"`
}

type storyCountResponse struct {
	Relevant *int `json:"relevant"`
	Count    *int `json:"count"`
	Total    int  `json:"total"`
}

// Stories fetches one page of story metadata.
func (c *Client) Stories(ctx context.Context, q Query) (*Page, error) {
	params := c.queryParams(q)
	if q.PageSize > 0 {
		params.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.PageToken != "" {
		params.Set("pagination_token", q.PageToken)
	}

	body, err := c.get(ctx, "/search/story-list", params)
	if err != nil {
		return nil, err
	}

	var resp storyListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Truncated and empty payloads show up under load; retryable
		return nil, &APIError{Kind: KindTransient, Message: "undecodable story list", Err: err}
	}

	return &Page{Stories: resp.Stories, NextToken: resp.PaginationToken}, nil
}

// Count fetches the expected story count for a query window.
func (c *Client) Count(ctx context.Context, q Query) (*CountResult, error) {
	body, err := c.get(ctx, "/search/story-count", c.queryParams(q))
	if err != nil {
		return nil, err
	}

	var resp storyCountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Kind: KindTransient, Message: "undecodable story count", Err: err}
	}

	result := &CountResult{Total: resp.Total}
	switch {
	case resp.Relevant != nil:
		result.Relevant = *resp.Relevant
		result.Confident = true
	case resp.Count != nil:
		result.Relevant = *resp.Count
		result.Confident = true
	}
	return result, nil
}

func (c *Client) queryParams(q Query) url.Values {
	params := url.Values{}
	params.Set("q", q.Text)
	if q.StartDate != "" {
		params.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("end_date", q.EndDate)
	}
	if len(q.SourceIDs) > 0 {
		ids := make([]string, len(q.SourceIDs))
		for i, id := range q.SourceIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		params.Set("source_ids", strings.Join(ids, ","))
	}
	return params
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.key)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("search api request", "endpoint", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection and timeout failures are always worth retrying
		return nil, &APIError{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			Message:    snippet(body),
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode >= 500:
		return nil, &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: snippet(body)}
	default:
		return nil, &APIError{Kind: KindFatal, StatusCode: resp.StatusCode, Message: snippet(body)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
