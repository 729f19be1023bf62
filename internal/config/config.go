package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/cachestore"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/session"
)

const (
	// DefaultReadTimeoutSeconds is the default read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default write timeout in seconds.
	// Search requests embed the query and hit the vector index, so
	// writes get more headroom than reads.
	DefaultWriteTimeoutSeconds = 60
	// DefaultShutdownTimeoutSeconds is the default shutdown timeout in seconds
	DefaultShutdownTimeoutSeconds = 30
)

type Config struct {
	Debug         bool              `yaml:"debug"` // Application debug mode (controls log level and format)
	Server        ServerConfig      `yaml:"server"`
	Elasticsearch index.Config      `yaml:"elasticsearch"`
	Redis         cachestore.Config `yaml:"redis"`
	Crawler       CrawlerConfig     `yaml:"crawler"`
	Embeddings    EmbeddingsConfig  `yaml:"embeddings"`
	Cache         CacheConfig       `yaml:"cache"`
	Sessions      session.Config    `yaml:"sessions"`
}

type CrawlerConfig struct {
	URL          string        `yaml:"url"`            // Crawler API base URL (e.g., "https://api.firecrawl.dev")
	APIKey       string        `yaml:"api_key"`        // Bearer token for the crawler API
	PollInterval time.Duration `yaml:"poll_interval"`  // Job status poll interval (default: 2s)
	MaxCrawlTime time.Duration `yaml:"max_crawl_time"` // Per-job deadline (default: 10m)
}

type EmbeddingsConfig struct {
	URL    string `yaml:"url"`     // Embeddings API base URL
	APIKey string `yaml:"api_key"` // Bearer token for the embeddings API
	Model  string `yaml:"model"`   // Embedding model name
}

type CacheConfig struct {
	TTL cache.TTLConfig `yaml:"ttl"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g., ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 60s
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8080" // Default port
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Elasticsearch.URL == "" {
		return errors.New("elasticsearch.url is required")
	}
	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}
	if c.Crawler.URL == "" {
		return errors.New("crawler.url is required")
	}
	if c.Embeddings.URL == "" {
		return errors.New("embeddings.url is required")
	}
	if c.Sessions.MaxConcurrent < 0 {
		return fmt.Errorf("sessions.max_concurrent must not be negative, got %d", c.Sessions.MaxConcurrent)
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	if cfg.Elasticsearch.Index == "" {
		cfg.Elasticsearch.Index = index.DefaultIndexName
	}
	if cfg.Crawler.PollInterval == 0 {
		cfg.Crawler.PollInterval = 2 * time.Second
	}
	if cfg.Crawler.MaxCrawlTime == 0 {
		cfg.Crawler.MaxCrawlTime = 10 * time.Minute
	}
	defaults := cache.DefaultTTLConfig()
	if cfg.Cache.TTL.ContentStatic == 0 {
		cfg.Cache.TTL.ContentStatic = defaults.ContentStatic
	}
	if cfg.Cache.TTL.ContentDynamic == 0 {
		cfg.Cache.TTL.ContentDynamic = defaults.ContentDynamic
	}
	if cfg.Cache.TTL.QueryBase == 0 {
		cfg.Cache.TTL.QueryBase = defaults.QueryBase
	}
	if cfg.Cache.TTL.QueryFiltered == 0 {
		cfg.Cache.TTL.QueryFiltered = defaults.QueryFiltered
	}
	if cfg.Cache.TTL.QueryPopular == 0 {
		cfg.Cache.TTL.QueryPopular = defaults.QueryPopular
	}
	if cfg.Cache.TTL.Embedding == 0 {
		cfg.Cache.TTL.Embedding = defaults.Embedding
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if esURL := os.Getenv("ELASTICSEARCH_URL"); esURL != "" {
		cfg.Elasticsearch.URL = esURL
	}
	if esIndex := os.Getenv("ELASTICSEARCH_INDEX"); esIndex != "" {
		cfg.Elasticsearch.Index = esIndex
	}
	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		cfg.Redis.Address = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if crawlerURL := os.Getenv("CRAWLER_API_URL"); crawlerURL != "" {
		cfg.Crawler.URL = crawlerURL
	}
	if crawlerKey := os.Getenv("CRAWLER_API_KEY"); crawlerKey != "" {
		cfg.Crawler.APIKey = crawlerKey
	}
	if embedURL := os.Getenv("EMBEDDINGS_API_URL"); embedURL != "" {
		cfg.Embeddings.URL = embedURL
	}
	if embedKey := os.Getenv("EMBEDDINGS_API_KEY"); embedKey != "" {
		cfg.Embeddings.APIKey = embedKey
	}
	if embedModel := os.Getenv("EMBEDDINGS_MODEL"); embedModel != "" {
		cfg.Embeddings.Model = embedModel
	}
	if maxConcurrent := os.Getenv("MAX_CONCURRENT_CRAWLS"); maxConcurrent != "" {
		if n, err := strconv.Atoi(maxConcurrent); err == nil {
			cfg.Sessions.MaxConcurrent = n
		}
	}
	if pageLimit := os.Getenv("DEFAULT_CRAWL_LIMIT"); pageLimit != "" {
		if n, err := strconv.Atoi(pageLimit); err == nil {
			cfg.Sessions.PageLimit = n
		}
	}
	if maxResults := os.Getenv("DEFAULT_SEARCH_RESULTS"); maxResults != "" {
		if n, err := strconv.Atoi(maxResults); err == nil {
			cfg.Sessions.MaxResults = n
		}
	}
	// Parse APP_DEBUG environment variable
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	setDefaults(&cfg)

	// Override with environment variables if present
	overrideWithEnvVars(&cfg)

	// Set server defaults
	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	// Override server config with environment variable if present
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
