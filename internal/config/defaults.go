package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "clip"
	DefaultClipURL           = "http://localhost:8600"
	DefaultClipModel         = "ViT-B/32"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"

	// Translation defaults
	DefaultTranslationProvider = "google"
	DefaultSourceLanguage      = "vi"
	DefaultTargetLanguage      = "en"
	DefaultGoogleTranslateURL  = "https://translate.googleapis.com/translate_a/single"
	DefaultTranslateRPS        = 5.0
	DefaultTranslateBurst      = 5

	// LLM defaults
	DefaultLLMProvider    = "ollama"
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaLLMModel = "llama3"
	DefaultOpenAILLMModel = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-haiku-20240307"

	// Database defaults
	DefaultDatabaseDriver  = "sqlite3"
	DefaultDBFileName      = "metadata.db"
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute

	// Index defaults
	DefaultIndexBackend   = "flat"
	DefaultIndexFileName  = "index.fgix"
	DefaultDimension      = 512
	DefaultMetric         = "l2"
	DefaultShardSize      = 16384
	DefaultReloadDebounce = 500 * time.Millisecond

	// Normalization defaults
	DefaultNormalizePipeline = "v1"

	// Region defaults
	DefaultS3Region      = "us-east-1"
	DefaultMaxImageBytes = 32 << 20 // 32MB
	DefaultJPEGQuality   = 90

	// Retry defaults
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0
	DefaultAttemptTimeout  = 15 * time.Second

	// Breaker defaults
	DefaultBreakerFailureRatio = 0.5
	DefaultBreakerMinRequests  = 5
	DefaultBreakerTimeout      = 30 * time.Second

	// Query defaults
	DefaultK               = 20
	DefaultMaxK            = 1000
	DefaultDisplayIDOffset = 0

	// Cache defaults
	DefaultRecordCacheSize      = 10000
	DefaultTranslationCacheSize = 1024
)

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/framegrep"
	}
	return filepath.Join(home, ".config", "framegrep")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/framegrep"
	}
	return filepath.Join(home, ".local", "share", "framegrep")
}

// DefaultDatabasePath returns the default SQLite metadata database path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}

// DefaultIndexPath returns the default index snapshot path.
func DefaultIndexPath() string {
	return filepath.Join(DefaultDataDir(), DefaultIndexFileName)
}
