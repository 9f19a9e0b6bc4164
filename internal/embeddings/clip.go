package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// ClipService talks to a CLIP encoder sidecar that embeds text and images
// into the same space.
type ClipService struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	policy     resilience.Policy
}

// clipTextRequest is the request body for POST /embed/text.
type clipTextRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// clipImageRequest is the request body for POST /embed/image.
type clipImageRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

// clipEmbedResponse is the response of both endpoints.
type clipEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewClipService creates a new CLIP sidecar client.
func NewClipService(baseURL, model string, dimensions int, policy resilience.Policy) (*ClipService, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8600"
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", errdefs.ErrInvalidArgument, dimensions)
	}

	return &ClipService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		policy: policy,
	}, nil
}

// EncodeText embeds query text.
func (s *ClipService) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, "/embed/text", clipTextRequest{
		Model: s.model,
		Input: []string{text},
	})
}

// EncodeImage embeds an encoded image.
func (s *ClipService) EncodeImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", errdefs.ErrEncoding)
	}
	return s.embedOne(ctx, "/embed/image", clipImageRequest{
		Model:  s.model,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
}

// Dimensions returns the embedding dimensions.
func (s *ClipService) Dimensions() int {
	return s.dimensions
}

// Provider returns the provider name.
func (s *ClipService) Provider() Provider {
	return ProviderClip
}

// ModelName returns the model name.
func (s *ClipService) ModelName() string {
	return s.model
}

func (s *ClipService) embedOne(ctx context.Context, path string, body any) ([]float32, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", errdefs.ErrEncoding, err)
	}

	embeddings, err := resilience.RetryValue(ctx, s.policy, "clip"+path, func(ctx context.Context) ([][]float32, error) {
		return s.post(ctx, path, jsonBody)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrEncoding, err)
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", errdefs.ErrEncoding)
	}
	if err := checkVector(embeddings[0], s.dimensions); err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// post performs a single embedding request.
func (s *ClipService) post(ctx context.Context, path string, jsonBody []byte) ([][]float32, error) {
	url := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from CLIP sidecar", "model", s.model, "path", path)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("clip sidecar returned %w", &resilience.StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(body)),
		})
	}

	var result clipEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Embeddings, nil
}
