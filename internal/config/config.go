// Package config defines the single immutable configuration struct the
// process is built from. There is no package-level mutable config; every
// component constructor takes the slice of Config it needs explicitly.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level, immutable process configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	TaskQueue  TaskQueueConfig  `yaml:"task_queue"`
	Retry      RetryConfig      `yaml:"retry"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Attachment AttachmentConfig `yaml:"attachments"`
	Search     SearchConfig     `yaml:"search"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	OTel       TelemetryConfig  `yaml:"otel"`
}

// StoreConfig configures the relational + vector store (C1).
type StoreConfig struct {
	DSN              string        `yaml:"dsn"`
	EmbeddingDim     int           `yaml:"embedding_dim"` // D, fixed once per deployment
	MinConns         int32         `yaml:"min_conns"`
	MaxConns         int32         `yaml:"max_conns"`
	AcquireRetries   int           `yaml:"acquire_retries"`
	AcquireBaseDelay time.Duration `yaml:"acquire_base_delay"`
	AcquireMaxDelay  time.Duration `yaml:"acquire_max_delay"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	PoolMonitorEvery time.Duration `yaml:"pool_monitor_every"`
	PoolMonitorOver  time.Duration `yaml:"pool_monitor_window"`

	// VectorBackend selects the ANN index embeddings are mirrored to and
	// searched through, per §9's duck-typed plug-in swap: "" (default)
	// mirrors nowhere (embeddings stay on the memory row only), "qdrant" also syncs every
	// SetEmbedding to a Qdrant collection.
	VectorBackend    string `yaml:"vector_backend"` // "" | "qdrant"
	QdrantDSN        string `yaml:"qdrant_dsn"`
	QdrantCollection string `yaml:"qdrant_collection"`
	QdrantMetric     string `yaml:"qdrant_metric"` // cosine|l2|ip|manhattan
}

// DefaultStoreConfig mirrors the §4.2/§5 defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EmbeddingDim:     384,
		MinConns:         5,
		MaxConns:         20,
		AcquireRetries:   3,
		AcquireBaseDelay: 100 * time.Millisecond,
		AcquireMaxDelay:  1 * time.Second,
		CommandTimeout:   10 * time.Second,
		PoolMonitorEvery: 30 * time.Second,
		PoolMonitorOver:  time.Hour,
	}
}

// CacheConfig configures the remote key/value cache (C2).
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`

	TTLEmbedding time.Duration `yaml:"ttl_embedding"`
	TTLEntity    time.Duration `yaml:"ttl_entity"`
	TTLMemory    time.Duration `yaml:"ttl_memory"`
	TTLMetadata  time.Duration `yaml:"ttl_metadata"`
	TTLSearch    time.Duration `yaml:"ttl_search"`
	TTLList      time.Duration `yaml:"ttl_list"`
}

// DefaultCacheConfig mirrors the §4.3 TTL table.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTLEmbedding: 30 * 24 * time.Hour,
		TTLEntity:    24 * time.Hour,
		TTLMemory:    12 * time.Hour,
		TTLMetadata:  6 * time.Hour,
		TTLSearch:    1 * time.Hour,
		TTLList:      5 * time.Minute,
	}
}

// TaskQueueConfig configures the in-process priority task queue (C3).
type TaskQueueConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ShutdownWait   time.Duration `yaml:"shutdown_wait"`
	QueueCapacity  int           `yaml:"queue_capacity"`
}

func DefaultTaskQueueConfig() TaskQueueConfig {
	return TaskQueueConfig{
		Workers:       4,
		MaxAttempts:   5,
		ShutdownWait:  30 * time.Second,
		QueueCapacity: 10000,
	}
}

// RetryConfig and per-provider overrides configure C4.
type RetryConfig struct {
	Embedder ProviderRetryConfig `yaml:"embedder"`
	Extractor ProviderRetryConfig `yaml:"extractor"`
	Vision   ProviderRetryConfig `yaml:"vision"`
	Store    ProviderRetryConfig `yaml:"store"`
}

// ProviderRetryConfig bundles the retry and breaker parameters for one provider.
type ProviderRetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	Jitter           bool          `yaml:"jitter"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Embedder: ProviderRetryConfig{
			MaxAttempts: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 20 * time.Second,
			BackoffFactor: 2, Jitter: true,
			FailureThreshold: 3, OpenTimeout: 60 * time.Second, HalfOpenMaxCalls: 2, SuccessThreshold: 2,
		},
		Extractor: ProviderRetryConfig{
			MaxAttempts: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second,
			BackoffFactor: 2, Jitter: true,
			FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 2, SuccessThreshold: 2,
		},
		Vision: ProviderRetryConfig{
			MaxAttempts: 3, InitialDelay: 1 * time.Second, MaxDelay: 20 * time.Second,
			BackoffFactor: 2, Jitter: true,
			FailureThreshold: 3, OpenTimeout: 60 * time.Second, HalfOpenMaxCalls: 2, SuccessThreshold: 2,
		},
		Store: ProviderRetryConfig{
			MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second,
			BackoffFactor: 2, Jitter: false,
			FailureThreshold: 5, OpenTimeout: 10 * time.Second, HalfOpenMaxCalls: 2, SuccessThreshold: 2,
		},
	}
}

// EmbeddingConfig configures the Embedder capability (C5).
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ExtractorConfig configures the Extractor capability (C6).
type ExtractorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AttachmentConfig configures C8.
type AttachmentConfig struct {
	StorageBackend string `yaml:"storage_backend"` // "local" | "s3"
	LocalRoot      string `yaml:"local_root"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	MaxFileSize    int64  `yaml:"max_file_size_bytes"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

func DefaultAttachmentConfig() AttachmentConfig {
	return AttachmentConfig{
		StorageBackend:  "local",
		LocalRoot:       "./data/attachments",
		MaxFileSize:     50 * 1024 * 1024,
		DownloadTimeout: 30 * time.Second,
	}
}

// SearchConfig configures C12 default weights/thresholds.
type SearchConfig struct {
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	HybridKeywordW    float64 `yaml:"hybrid_keyword_weight"`
	HybridSemanticW   float64 `yaml:"hybrid_semantic_weight"`
	DefaultLimit      int     `yaml:"default_limit"`
	MaxLimit          int     `yaml:"max_limit"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		SemanticThreshold: 0.5,
		HybridKeywordW:    0.5,
		HybridSemanticW:   0.5,
		DefaultLimit:      20,
		MaxLimit:          100,
	}
}

// EventBusConfig configures the cross-process pub/sub bridge (C13).
type EventBusConfig struct {
	Backend string `yaml:"backend"` // "none" | "redis" | "kafka"
	Redis   RedisBridgeConfig `yaml:"redis"`
	Kafka   KafkaBridgeConfig `yaml:"kafka"`
}

type RedisBridgeConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaBridgeConfig struct {
	Brokers []string `yaml:"brokers"`
}

// RateLimitConfig configures the request surface's fixed-window limiter (C15).
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute}
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads YAML from path and overlays a handful of secret/DSN fields from
// the environment, matching the teacher's pattern of keeping secrets out of
// checked-in YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config populated with every component's defaults.
func Default() *Config {
	return &Config{
		Host:       "0.0.0.0",
		Port:       8080,
		LogLevel:   "info",
		Store:      DefaultStoreConfig(),
		Cache:      DefaultCacheConfig(),
		TaskQueue:  DefaultTaskQueueConfig(),
		Retry:      DefaultRetryConfig(),
		Attachment: DefaultAttachmentConfig(),
		Search:     DefaultSearchConfig(),
		RateLimit:  DefaultRateLimitConfig(),
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMORYHUB_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MEMORYHUB_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MEMORYHUB_QDRANT_DSN"); v != "" {
		cfg.Store.QdrantDSN = v
	}
	if v := os.Getenv("MEMORYHUB_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMORYHUB_EXTRACTOR_API_KEY"); v != "" {
		cfg.Extractor.APIKey = v
	}
}
