package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/retry"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "text-embedding-3-small"

	defaultRequestTimeout = 30 * time.Second
)

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  logger.Logger
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

// WithModel overrides the embedding model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// NewClient creates an embeddings client.
func NewClient(baseURL, apiKey string, log logger.Logger, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("embeddings service URL is required")
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   DefaultModel,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		logger:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model identifies the configured embedding model.
func (c *Client) Model() string { return c.model }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var decoded embeddingResponse
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return c.post(ctx, payload, &decoded)
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	if decoded.Error != nil {
		return nil, fmt.Errorf("embeddings service: %s", decoded.Error.Message)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings service returned %d vectors for %d texts",
			len(decoded.Data), len(texts))
	}

	// The API may return entries out of order; index restores input order.
	sort.Slice(decoded.Data, func(i, j int) bool {
		return decoded.Data[i].Index < decoded.Data[j].Index
	})

	vectors := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, payload []byte, out *embeddingResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &retry.Transient{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retry.Transient{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &retry.Transient{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
