package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// OpenAIService implements text encoding using the OpenAI embeddings API.
// It cannot encode images.
type OpenAIService struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIService creates a new OpenAI embedding service. The API is asked
// for exactly dimensions components.
func NewOpenAIService(apiKey, model, baseURL string, dimensions int, policy resilience.Policy) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", errdefs.ErrInvalidArgument, dimensions)
	}

	// Build client options
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(policy.MaxRetries),
	}
	if policy.AttemptTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(policy.AttemptTimeout))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIService{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// EncodeText embeds query text.
func (s *OpenAIService) EncodeText(ctx context.Context, text string) ([]float32, error) {
	log.Debug("Requesting embeddings from OpenAI", "model", s.model)

	resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(s.model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions: openai.Int(int64(s.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create embeddings: %w", errdefs.ErrEncoding, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", errdefs.ErrEncoding)
	}

	// Convert float64 to float32
	embedding := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	if err := checkVector(embedding, s.dimensions); err != nil {
		return nil, err
	}
	return embedding, nil
}

// EncodeImage always fails: the OpenAI embeddings API is text-only.
func (s *OpenAIService) EncodeImage(ctx context.Context, image []byte) ([]float32, error) {
	return nil, fmt.Errorf("%w: provider %s does not encode images", errdefs.ErrEncoding, ProviderOpenAI)
}

// Dimensions returns the embedding dimensions.
func (s *OpenAIService) Dimensions() int {
	return s.dimensions
}

// Provider returns the provider name.
func (s *OpenAIService) Provider() Provider {
	return ProviderOpenAI
}

// ModelName returns the model name.
func (s *OpenAIService) ModelName() string {
	return s.model
}
