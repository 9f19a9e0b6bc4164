// Package config handles configuration loading and validation for framegrep.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete framegrep configuration.
type Config struct {
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Translation TranslationConfig `mapstructure:"translation"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Index       IndexConfig       `mapstructure:"index"`
	Normalize   NormalizeConfig   `mapstructure:"normalize"`
	Region      RegionConfig      `mapstructure:"region"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Query       QueryConfig       `mapstructure:"query"`
	Cache       CacheConfig       `mapstructure:"cache"`
}

// EmbeddingsConfig configures the embedding gateway.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Clip     ClipEmbedConfig   `mapstructure:"clip"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`
}

// ClipEmbedConfig configures the CLIP encoder sidecar.
type ClipEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI text embeddings.
type OpenAIEmbedConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// TranslationConfig configures query translation.
type TranslationConfig struct {
	Provider       string                `mapstructure:"provider"`
	SourceLanguage string                `mapstructure:"source_language"`
	TargetLanguage string                `mapstructure:"target_language"`
	Google         GoogleTranslateConfig `mapstructure:"google"`
	Breaker        BreakerConfig         `mapstructure:"breaker"`
}

// GoogleTranslateConfig configures the Google translate client.
type GoogleTranslateConfig struct {
	URL               string  `mapstructure:"url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the completion service used by the llm translator.
type LLMConfig struct {
	Provider  string          `mapstructure:"provider"`
	Ollama    OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI    OpenAILLMConfig `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures OpenAI LLM.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig configures the metadata store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	Backend        string        `mapstructure:"backend"`
	Path           string        `mapstructure:"path"`
	Dimension      int           `mapstructure:"dimension"`
	Metric         string        `mapstructure:"metric"`
	ShardSize      int           `mapstructure:"shard_size"`
	Watch          bool          `mapstructure:"watch"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
}

// NormalizeConfig selects the text normalization pipeline.
type NormalizeConfig struct {
	Pipeline string `mapstructure:"pipeline"`
}

// RegionConfig configures image fetching and cropping.
type RegionConfig struct {
	ImageRoot     string `mapstructure:"image_root"`
	S3Region      string `mapstructure:"s3_region"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3PathStyle   bool   `mapstructure:"s3_path_style"`
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
	JPEGQuality   int    `mapstructure:"jpeg_quality"`
}

// RetryConfig configures retries for external calls.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

// QueryConfig configures query limits.
type QueryConfig struct {
	DefaultK        int   `mapstructure:"default_k"`
	MaxK            int   `mapstructure:"max_k"`
	DisplayIDOffset int64 `mapstructure:"display_id_offset"`
}

// CacheConfig sizes the in-process caches. Zero disables a cache.
type CacheConfig struct {
	Records      int `mapstructure:"records"`
	Translations int `mapstructure:"translations"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Clip: ClipEmbedConfig{
				URL:   DefaultClipURL,
				Model: DefaultClipModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Translation: TranslationConfig{
			Provider:       DefaultTranslationProvider,
			SourceLanguage: DefaultSourceLanguage,
			TargetLanguage: DefaultTargetLanguage,
			Google: GoogleTranslateConfig{
				URL:               DefaultGoogleTranslateURL,
				RequestsPerSecond: DefaultTranslateRPS,
				Burst:             DefaultTranslateBurst,
			},
			Breaker: BreakerConfig{
				FailureRatio: DefaultBreakerFailureRatio,
				MinRequests:  DefaultBreakerMinRequests,
				Timeout:      DefaultBreakerTimeout,
			},
		},
		LLM: LLMConfig{
			Provider: DefaultLLMProvider,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model: DefaultOpenAILLMModel,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
		},
		Database: DatabaseConfig{
			Driver:          DefaultDatabaseDriver,
			Path:            DefaultDatabasePath(),
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: DefaultConnMaxLifetime,
		},
		Index: IndexConfig{
			Backend:        DefaultIndexBackend,
			Path:           DefaultIndexPath(),
			Dimension:      DefaultDimension,
			Metric:         DefaultMetric,
			ShardSize:      DefaultShardSize,
			ReloadDebounce: DefaultReloadDebounce,
		},
		Normalize: NormalizeConfig{
			Pipeline: DefaultNormalizePipeline,
		},
		Region: RegionConfig{
			S3Region:      DefaultS3Region,
			MaxImageBytes: DefaultMaxImageBytes,
			JPEGQuality:   DefaultJPEGQuality,
		},
		Retry: RetryConfig{
			MaxRetries:      DefaultMaxRetries,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultMultiplier,
			AttemptTimeout:  DefaultAttemptTimeout,
		},
		Query: QueryConfig{
			DefaultK:        DefaultK,
			MaxK:            DefaultMaxK,
			DisplayIDOffset: DefaultDisplayIDOffset,
		},
		Cache: CacheConfig{
			Records:      DefaultRecordCacheSize,
			Translations: DefaultTranslationCacheSize,
		},
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	// Set defaults
	setDefaults()

	// Set config file if specified
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// Also check for .framegreprc.yaml in current directory and parents
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	// Environment variables
	viper.SetEnvPrefix("FRAMEGREP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	// Unmarshal into config struct
	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	// Load API keys from environment if not in config
	loadAPIKeysFromEnv()

	return nil
}

// Validate checks values that would otherwise fail deep inside a query.
func (c *Config) Validate() error {
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	switch c.Index.Metric {
	case "l2", "cosine":
	default:
		return fmt.Errorf("index.metric must be l2 or cosine, got %q", c.Index.Metric)
	}
	switch c.Index.Backend {
	case "flat", "sqlite-vec":
	default:
		return fmt.Errorf("index.backend must be flat or sqlite-vec, got %q", c.Index.Backend)
	}
	switch c.Database.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or mysql, got %q", c.Database.Driver)
	}
	if c.Index.Backend == "sqlite-vec" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("index.backend sqlite-vec requires database.driver sqlite3")
	}
	if c.Query.MaxK <= 0 {
		return fmt.Errorf("query.max_k must be positive, got %d", c.Query.MaxK)
	}
	// vec0 rejects KNN queries with k above 4096
	if c.Index.Backend == "sqlite-vec" && c.Query.MaxK > 4096 {
		return fmt.Errorf("query.max_k must be at most 4096 with index.backend sqlite-vec, got %d", c.Query.MaxK)
	}
	if c.Query.DefaultK <= 0 || c.Query.DefaultK > c.Query.MaxK {
		return fmt.Errorf("query.default_k must be in [1, %d], got %d", c.Query.MaxK, c.Query.DefaultK)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.clip.url", DefaultClipURL)
	viper.SetDefault("embeddings.clip.model", DefaultClipModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Translation
	viper.SetDefault("translation.provider", DefaultTranslationProvider)
	viper.SetDefault("translation.source_language", DefaultSourceLanguage)
	viper.SetDefault("translation.target_language", DefaultTargetLanguage)
	viper.SetDefault("translation.google.url", DefaultGoogleTranslateURL)
	viper.SetDefault("translation.google.requests_per_second", DefaultTranslateRPS)
	viper.SetDefault("translation.google.burst", DefaultTranslateBurst)
	viper.SetDefault("translation.breaker.failure_ratio", DefaultBreakerFailureRatio)
	viper.SetDefault("translation.breaker.min_requests", DefaultBreakerMinRequests)
	viper.SetDefault("translation.breaker.timeout", DefaultBreakerTimeout)

	// LLM
	viper.SetDefault("llm.provider", DefaultLLMProvider)
	viper.SetDefault("llm.ollama.url", DefaultOllamaURL)
	viper.SetDefault("llm.ollama.model", DefaultOllamaLLMModel)
	viper.SetDefault("llm.openai.model", DefaultOpenAILLMModel)
	viper.SetDefault("llm.anthropic.model", DefaultAnthropicModel)

	// Database
	viper.SetDefault("database.driver", DefaultDatabaseDriver)
	viper.SetDefault("database.path", DefaultDatabasePath())
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	viper.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)

	// Index
	viper.SetDefault("index.backend", DefaultIndexBackend)
	viper.SetDefault("index.path", DefaultIndexPath())
	viper.SetDefault("index.dimension", DefaultDimension)
	viper.SetDefault("index.metric", DefaultMetric)
	viper.SetDefault("index.shard_size", DefaultShardSize)
	viper.SetDefault("index.watch", false)
	viper.SetDefault("index.reload_debounce", DefaultReloadDebounce)

	// Normalization
	viper.SetDefault("normalize.pipeline", DefaultNormalizePipeline)

	// Region
	viper.SetDefault("region.image_root", "")
	viper.SetDefault("region.s3_region", DefaultS3Region)
	viper.SetDefault("region.s3_endpoint", "")
	viper.SetDefault("region.s3_path_style", false)
	viper.SetDefault("region.max_image_bytes", DefaultMaxImageBytes)
	viper.SetDefault("region.jpeg_quality", DefaultJPEGQuality)

	// Retry
	viper.SetDefault("retry.max_retries", DefaultMaxRetries)
	viper.SetDefault("retry.initial_interval", DefaultInitialInterval)
	viper.SetDefault("retry.max_interval", DefaultMaxInterval)
	viper.SetDefault("retry.multiplier", DefaultMultiplier)
	viper.SetDefault("retry.attempt_timeout", DefaultAttemptTimeout)

	// Query
	viper.SetDefault("query.default_k", DefaultK)
	viper.SetDefault("query.max_k", DefaultMaxK)
	viper.SetDefault("query.display_id_offset", DefaultDisplayIDOffset)

	// Cache
	viper.SetDefault("cache.records", DefaultRecordCacheSize)
	viper.SetDefault("cache.translations", DefaultTranslationCacheSize)
}

// findRCFile searches for .framegreprc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".framegreprc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	// OpenAI API key
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.OpenAI.APIKey = key
		}
	}

	// Anthropic API key
	if cfg.LLM.Anthropic.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.Anthropic.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
