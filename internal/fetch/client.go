package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/retry"
)

// Client defaults.
const (
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultMaxCrawlTime   = 10 * time.Minute
	defaultWaitForMillis  = 3000
)

// Client talks to a Firecrawl-compatible render service over its v1 HTTP
// API: it submits a crawl job, then polls until the job reaches a
// terminal status.
type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	logger       logger.Logger
	pollInterval time.Duration
	maxCrawlTime time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithPollInterval overrides the job poll interval.
func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithMaxCrawlTime overrides how long a crawl job may run before the
// client gives up on it.
func WithMaxCrawlTime(max time.Duration) ClientOption {
	return func(c *Client) {
		if max > 0 {
			c.maxCrawlTime = max
		}
	}
}

// NewClient creates a render service client.
func NewClient(baseURL, apiKey string, log logger.Logger, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("render service URL is required")
	}

	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: defaultRequestTimeout},
		logger:       log,
		pollInterval: defaultPollInterval,
		maxCrawlTime: defaultMaxCrawlTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	IncludeTags     []string `json:"includeTags,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"`
}

type crawlSubmitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error,omitempty"`
}

type crawlStatusResponse struct {
	Status    string      `json:"status"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Data      []pageEntry `json:"data"`
	Error     string      `json:"error,omitempty"`
}

type pageEntry struct {
	RawHTML  string `json:"rawHtml"`
	Metadata struct {
		URL       string `json:"url"`
		SourceURL string `json:"sourceURL"`
	} `json:"metadata"`
}

// Fetch submits a crawl for the start URL and blocks until the job
// completes, returning the rendered pages.
func (c *Client) Fetch(ctx context.Context, url string, limit int) ([]domain.Page, error) {
	start := time.Now()

	jobID, err := c.submitCrawl(ctx, url, limit)
	if err != nil {
		return nil, err
	}

	c.logger.Info("crawl job submitted",
		logger.String("url", url),
		logger.Int("limit", limit),
		logger.String("job_id", jobID),
	)

	pages, err := c.awaitCrawl(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("crawl job finished",
		logger.String("job_id", jobID),
		logger.Int("pages", len(pages)),
		logger.Duration("duration", time.Since(start)),
	)
	return pages, nil
}

func (c *Client) submitCrawl(ctx context.Context, url string, limit int) (string, error) {
	payload, err := json.Marshal(crawlRequest{
		URL:   url,
		Limit: limit,
		ScrapeOptions: scrapeOptions{
			Formats:         []string{"rawHtml"},
			OnlyMainContent: false,
			IncludeTags:     []string{"img", "source", "picture", "video"},
			WaitFor:         defaultWaitForMillis,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal crawl request: %w", err)
	}

	var submitted crawlSubmitResponse
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/crawl", payload, &submitted)
	})
	if err != nil {
		return "", fmt.Errorf("submit crawl: %w", err)
	}
	if submitted.ID == "" {
		return "", fmt.Errorf("submit crawl: service returned no job id (%s)", submitted.Error)
	}
	return submitted.ID, nil
}

func (c *Client) awaitCrawl(ctx context.Context, jobID string) ([]domain.Page, error) {
	deadline := time.NewTimer(c.maxCrawlTime)
	defer deadline.Stop()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	endpoint := c.baseURL + "/v1/crawl/" + jobID

	for {
		var status crawlStatusResponse
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return c.doJSON(ctx, http.MethodGet, endpoint, nil, &status)
		})
		if err != nil {
			return nil, fmt.Errorf("poll crawl %s: %w", jobID, err)
		}

		switch status.Status {
		case "completed":
			return pagesFromEntries(status.Data), nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("crawl %s %s: %s", jobID, status.Status, status.Error)
		}

		c.logger.Debug("crawl job in progress",
			logger.String("job_id", jobID),
			logger.String("status", status.Status),
			logger.Int("completed", status.Completed),
			logger.Int("total", status.Total),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poll crawl %s: %w", jobID, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("crawl %s did not finish within %s", jobID, c.maxCrawlTime)
		case <-ticker.C:
		}
	}
}

// doJSON performs one request and decodes the JSON response. Responses
// with 5xx or 429 statuses come back as transient errors so callers can
// retry them.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &retry.Transient{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retry.Transient{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &retry.Transient{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func pagesFromEntries(entries []pageEntry) []domain.Page {
	pages := make([]domain.Page, 0, len(entries))
	for _, entry := range entries {
		if entry.RawHTML == "" {
			continue
		}
		url := entry.Metadata.URL
		if url == "" {
			url = entry.Metadata.SourceURL
		}
		pages = append(pages, domain.Page{URL: url, RawHTML: entry.RawHTML})
	}
	return pages
}
