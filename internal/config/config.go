// Package config handles configuration loading and validation for the
// retrieval core.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration.
	Host string `envconfig:"RETRIEVAL_HOST" yaml:"host"`
	Port int    `envconfig:"RETRIEVAL_PORT" yaml:"port"`

	// Qdrant configuration (vector + sparse channels).
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Embedding service configuration.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Graph store configuration (graph-local + graph-global channels).
	GraphStore GraphStoreConfig `yaml:"graph_store"`

	// Cache configuration.
	Cache CacheConfig `yaml:"cache"`

	// Bus configuration.
	Bus BusConfig `yaml:"bus"`

	// Retrieval configuration: rrf_k, weight profiles, timeouts, backpressure.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Intent classifier configuration.
	Intent IntentConfig `yaml:"intent"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Security configuration.
	Security SecurityConfig `yaml:"security"`

	// Observability configuration.
	Observability ObservabilityConfig `yaml:"observability"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL              string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey           string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	CollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" yaml:"collection_prefix"`
	VectorDim        int    `envconfig:"QDRANT_VECTOR_DIM" yaml:"vector_dim"`
}

// EmbeddingConfig holds the dense/sparse embedding service's connection
// settings. The service itself is an external collaborator (spec.md §6).
type EmbeddingConfig struct {
	URL       string `envconfig:"RETRIEVAL_EMBED_URL" yaml:"url"`
	TimeoutMS int    `envconfig:"RETRIEVAL_EMBED_TIMEOUT_MS" yaml:"timeout_ms"`
	VectorDim int    `envconfig:"RETRIEVAL_EMBED_DIM" yaml:"vector_dim"`
	MaxBatch  int    `envconfig:"RETRIEVAL_EMBED_MAX_BATCH" yaml:"max_batch"`
}

// GraphStoreConfig holds graph store connection settings (backed by Redis).
type GraphStoreConfig struct {
	RedisURL               string  `envconfig:"RETRIEVAL_GRAPH_REDIS_URL" yaml:"redis_url"`
	EntityConfidenceThresh float64 `envconfig:"RETRIEVAL_GRAPH_ENTITY_CONFIDENCE" yaml:"entity_confidence_threshold"`
}

// CacheConfig holds RelevanceCache settings. Setting RedisURL swaps the
// in-process LRU for a Redis-backed tier shared across processes.
type CacheConfig struct {
	Capacity   int    `envconfig:"RETRIEVAL_CACHE_CAPACITY" yaml:"capacity"`
	TTLSeconds int    `envconfig:"RETRIEVAL_CACHE_TTL_SECONDS" yaml:"ttl_seconds"`
	RedisURL   string `envconfig:"RETRIEVAL_CACHE_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RETRIEVAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RETRIEVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`

	// EventLogPath, when set, journals every published event to a JSONL
	// file for debugging and offline replay.
	EventLogPath string `envconfig:"RETRIEVAL_BUS_EVENT_LOG" yaml:"event_log_path"`
}

// RetrievalConfig holds the orchestrator/fusion configuration surface named
// in spec.md §6.
type RetrievalConfig struct {
	RRFK                int                `envconfig:"RETRIEVAL_RRF_K" yaml:"rrf_k"`
	ChannelTimeoutMS    int                `envconfig:"RETRIEVAL_CHANNEL_TIMEOUT_MS" yaml:"channel_timeout_ms"`
	RequestDeadlineMS   int                `envconfig:"RETRIEVAL_REQUEST_DEADLINE_MS" yaml:"request_deadline_ms"`
	MaxInFlightRequests int                `envconfig:"RETRIEVAL_MAX_IN_FLIGHT" yaml:"max_in_flight_requests"`
	NamespaceDefault    string             `envconfig:"RETRIEVAL_NAMESPACE_DEFAULT" yaml:"namespace_default"`
	WeightProfiles      map[string]Weights `yaml:"weight_profiles"`
}

// Weights mirrors types.WeightProfile for configuration overlay purposes
// (kept independent of internal/types to avoid an import cycle at load time).
type Weights struct {
	Vector      float64 `yaml:"vector"`
	Sparse      float64 `yaml:"sparse"`
	GraphLocal  float64 `yaml:"graph_local"`
	GraphGlobal float64 `yaml:"graph_global"`
}

// IntentConfig holds intent-classifier settings.
type IntentConfig struct {
	ConfidenceThreshold float64 `envconfig:"RETRIEVAL_INTENT_CONFIDENCE_THRESHOLD" yaml:"confidence_threshold"`
	FallbackConfidence  float64 `envconfig:"RETRIEVAL_INTENT_FALLBACK_CONFIDENCE" yaml:"fallback_confidence"`
	CacheSize           int     `envconfig:"RETRIEVAL_INTENT_CACHE_SIZE" yaml:"cache_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RETRIEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RETRIEVAL_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit   float64 `envconfig:"RETRIEVAL_RATE_LIMIT" yaml:"rate_limit"` // requests/sec per client, 0 = disabled
	RateBurst   int     `envconfig:"RETRIEVAL_RATE_BURST" yaml:"rate_burst"`
	CORSOrigins string  `envconfig:"RETRIEVAL_CORS_ORIGINS" yaml:"cors_origins"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RETRIEVAL_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"RETRIEVAL_METRICS_PATH" yaml:"metrics_path"`
	TraceCapacity  int    `envconfig:"RETRIEVAL_TRACE_CAPACITY" yaml:"trace_capacity"`
}

// Load loads configuration from environment variables and an optional
// config file, in the order: defaults, YAML overlay, environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Qdrant = QdrantConfig{
		URL:              "http://localhost:6333",
		CollectionPrefix: "retrieval_",
		VectorDim:        1024,
	}

	cfg.Embedding = EmbeddingConfig{
		URL:       "http://localhost:9000",
		TimeoutMS: 500,
		VectorDim: 1024,
		MaxBatch:  32,
	}

	cfg.GraphStore = GraphStoreConfig{
		RedisURL:               "redis://localhost:6379/1",
		EntityConfidenceThresh: 0.5,
	}

	cfg.Cache = CacheConfig{
		Capacity:   10000,
		TTLSeconds: 300,
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Retrieval = RetrievalConfig{
		RRFK:                60,
		ChannelTimeoutMS:    2000,
		RequestDeadlineMS:   5000,
		MaxInFlightRequests: 256,
		NamespaceDefault:    "default",
		WeightProfiles: map[string]Weights{
			"factual":     {Vector: 0.3, Sparse: 0.3, GraphLocal: 0.4, GraphGlobal: 0.0},
			"keyword":     {Vector: 0.1, Sparse: 0.6, GraphLocal: 0.3, GraphGlobal: 0.0},
			"exploratory": {Vector: 0.2, Sparse: 0.1, GraphLocal: 0.2, GraphGlobal: 0.5},
			"summary":     {Vector: 0.1, Sparse: 0.0, GraphLocal: 0.1, GraphGlobal: 0.8},
			"unknown":     {Vector: 0.4, Sparse: 0.2, GraphLocal: 0.2, GraphGlobal: 0.2},
		},
	}

	cfg.Intent = IntentConfig{
		ConfidenceThreshold: 0.80,
		FallbackConfidence:  0.60,
		CacheSize:           2048,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   100,
		RateBurst:   200,
		CORSOrigins: "*",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
		TraceCapacity:  10000,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Retrieval.RRFK < 1 {
		errs = append(errs, "rrf_k must be at least 1")
	}

	if c.Retrieval.ChannelTimeoutMS < 1 {
		errs = append(errs, "channel_timeout_ms must be positive")
	}

	if c.Retrieval.RequestDeadlineMS < c.Retrieval.ChannelTimeoutMS {
		errs = append(errs, "request_deadline_ms must be at least channel_timeout_ms")
	}

	if c.Retrieval.MaxInFlightRequests < 1 {
		errs = append(errs, "max_in_flight_requests must be positive")
	}

	if c.Retrieval.NamespaceDefault == "" {
		errs = append(errs, "namespace_default must not be empty")
	}

	for intent, w := range c.Retrieval.WeightProfiles {
		sum := w.Vector + w.Sparse + w.GraphLocal + w.GraphGlobal
		if sum < 0.999 || sum > 1.001 {
			errs = append(errs, fmt.Sprintf("weight profile %q does not sum to 1.0 (got %.4f)", intent, sum))
		}
	}

	if c.Intent.ConfidenceThreshold < 0 || c.Intent.ConfidenceThreshold > 1 {
		errs = append(errs, "intent_confidence_threshold must be between 0 and 1")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
