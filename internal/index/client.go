package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
)

// Config holds the Elasticsearch connection settings.
type Config struct {
	URL        string `yaml:"url" env:"ELASTICSEARCH_URL"`
	Username   string `yaml:"username" env:"ELASTICSEARCH_USERNAME"`
	Password   string `yaml:"password" env:"ELASTICSEARCH_PASSWORD"`
	Index      string `yaml:"index" env:"ELASTICSEARCH_INDEX"`
	MaxRetries int    `yaml:"max_retries" env:"ELASTICSEARCH_MAX_RETRIES"`
}

// Client wraps the Elasticsearch client.
type Client struct {
	esClient *es.Client
	config   Config
}

// NewClient creates an Elasticsearch client and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	addresses := []string{cfg.URL}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		addresses = []string{"http://" + cfg.URL}
	}

	clientConfig := es.Config{
		Addresses:  addresses,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.Username != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	esClient, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	client := &Client{esClient: esClient, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	return client, nil
}

// Ping verifies the Elasticsearch connection.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.esClient.Ping(c.esClient.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch ping failed: %s", string(body))
	}
	return nil
}

// HealthCheck checks Elasticsearch cluster health.
func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.esClient.Cluster.Health(
		c.esClient.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster unhealthy [%d]: %s", res.StatusCode, string(body))
	}
	return nil
}

// GetESClient returns the underlying Elasticsearch client.
func (c *Client) GetESClient() *es.Client {
	return c.esClient
}
