// Package embeddings provides the clients that turn text and images into
// vectors in the shared cross-modal embedding space.
package embeddings

import (
	"context"
	"fmt"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderClip   Provider = "clip"
	ProviderOpenAI Provider = "openai"
)

// Gateway encodes queries into the index's embedding space.
type Gateway interface {
	// EncodeText embeds normalized query text.
	EncodeText(ctx context.Context, text string) ([]float32, error)

	// EncodeImage embeds an encoded image (JPEG, PNG).
	EncodeImage(ctx context.Context, image []byte) ([]float32, error)

	// Dimensions returns the embedding dimensions this gateway must produce.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// NewGateway creates an embedding gateway based on the configuration.
func NewGateway(cfg *config.Config, policy resilience.Policy) (Gateway, error) {
	dim := cfg.Index.Dimension
	switch cfg.Embeddings.Provider {
	case "clip":
		return NewClipService(cfg.Embeddings.Clip.URL, cfg.Embeddings.Clip.Model, dim, policy)
	case "openai":
		return NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			dim,
			policy,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
}

// checkVector rejects a vector the index could not search with.
func checkVector(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: %w: model returned %d dimensions, want %d",
			errdefs.ErrEncoding, errdefs.ErrDimensionMismatch, len(v), dim)
	}
	return nil
}
