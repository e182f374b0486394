package model

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root nocap configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder" mapstructure:"embedder"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Authority AuthorityConfig `yaml:"authority" mapstructure:"authority"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// HTTPConfig controls evidence fetching
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"` // Per-fetch bound
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	RatePerHost   float64       `yaml:"rate_per_host" mapstructure:"rate_per_host"` // Requests per second per host
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// LLMConfig selects the language-model provider
type LLMConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, gemini
	Model     string        `yaml:"model" mapstructure:"model"`
	APIKey    string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbedderConfig selects the embedding generator
type EmbedderConfig struct {
	Type      string        `yaml:"type" mapstructure:"type"` // hash, openai, ollama
	Model     string        `yaml:"model,omitempty" mapstructure:"model"`
	APIKey    string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	Scale     float64       `yaml:"scale" mapstructure:"scale"` // Hash embedder vector magnitude
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// IndexConfig controls the vector indices
type IndexConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// StoreConfig controls the content store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig holds the verification pipeline knobs
type PipelineConfig struct {
	TopK            int           `yaml:"top_k" mapstructure:"top_k"`
	Threshold       float64       `yaml:"threshold" mapstructure:"threshold"` // Strict distance gate; calibrated per embedder
	WebResults      int           `yaml:"web_results" mapstructure:"web_results"`
	FetchWorkers    int           `yaml:"fetch_workers" mapstructure:"fetch_workers"`
	HistoryTurns    int           `yaml:"history_turns" mapstructure:"history_turns"`
	CacheMaxAge     time.Duration `yaml:"cache_max_age" mapstructure:"cache_max_age"` // 0 = no recency bound
	CacheConfidence int           `yaml:"cache_confidence" mapstructure:"cache_confidence"`
	MaxClaimLength  int           `yaml:"max_claim_length" mapstructure:"max_claim_length"`
	ContextTokens   int           `yaml:"context_tokens" mapstructure:"context_tokens"`
}

// SearchConfig configures the web search client
type SearchConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Region   string `yaml:"region,omitempty" mapstructure:"region"`
}

// CacheConfig configures the response memo and page cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// AuthorityConfig drives source ranking
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains" mapstructure:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains" mapstructure:"secondary_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the reference configuration
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       15 * time.Second,
			UserAgent:     "nocap/0.3 (+https://github.com/ppiankov/nocap)",
			MaxBodyBytes:  2_000_000,
			MaxRetries:    2,
			RespectRobots: true,
			RatePerHost:   2,
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-2.5-flash",
			Timeout:   30 * time.Second,
			MaxTokens: 1000,
		},
		Embedder: EmbedderConfig{
			Type:      "hash",
			Dimension: 384,
			Scale:     10,
			Timeout:   30 * time.Second,
		},
		Index: IndexConfig{
			Dir:       "./nocap-data/index",
			ChunkSize: 400,
		},
		Store: StoreConfig{
			Path: "./nocap-data/nocap.db",
		},
		Pipeline: PipelineConfig{
			TopK:            5,
			Threshold:       100,
			WebResults:      5,
			FetchWorkers:    4,
			HistoryTurns:    5,
			CacheConfidence: 95,
			MaxClaimLength:  2000,
			ContextTokens:   3000,
		},
		Search: SearchConfig{
			Endpoint: "https://html.duckduckgo.com/html/",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "./nocap-data/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   24 * time.Hour,
		},
		Authority: AuthorityConfig{
			PrimaryDomains: []string{
				"who.int", "cdc.gov", "nih.gov", "nasa.gov", "europa.eu", "un.org", "doi.org",
			},
			SecondaryDomains: []string{
				"reuters.com", "apnews.com", "bbc.com", "bbc.co.uk", "cnn.com", "nytimes.com",
				"theguardian.com", "washingtonpost.com", "npr.org", "factcheck.org", "snopes.com",
				"politifact.com", "fullfact.org", "timesofindia.com", "indiatoday.in", "thehindu.com",
				"wikipedia.org",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:            ":8000",
			RequestTimeout:  2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("pipeline.top_k must be positive, got %d", c.Pipeline.TopK)
	}
	if c.Pipeline.Threshold <= 0 {
		return fmt.Errorf("pipeline.threshold must be positive, got %v", c.Pipeline.Threshold)
	}
	if c.Pipeline.MaxClaimLength <= 0 {
		return fmt.Errorf("pipeline.max_claim_length must be positive, got %d", c.Pipeline.MaxClaimLength)
	}
	if c.Pipeline.CacheConfidence < 0 || c.Pipeline.CacheConfidence > 100 {
		return fmt.Errorf("pipeline.cache_confidence must be within 0-100, got %d", c.Pipeline.CacheConfidence)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "claude", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider: %q (supported: openai, anthropic, ollama, gemini)", c.LLM.Provider)
	}

	switch strings.ToLower(c.Embedder.Type) {
	case "hash", "openai", "ollama":
	default:
		return fmt.Errorf("unknown embedder.type: %q (supported: hash, openai, ollama)", c.Embedder.Type)
	}

	return nil
}
