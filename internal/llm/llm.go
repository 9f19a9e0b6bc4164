// Package llm provides completion clients. framegrep uses them to translate
// queries when no dedicated translation endpoint is available, so every
// request is a single deterministic turn: instructions plus the input text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/nickcecere/framegrep/internal/config"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ErrTruncated is returned when a reply stopped at the token limit.
var ErrTruncated = errors.New("completion truncated at the token limit")

// Prompt is a single-turn request.
type Prompt struct {
	// Instructions describe the task, sent as the system prompt.
	Instructions string
	// Input is the text the task applies to.
	Input string
}

// Service completes prompts with temperature 0.
type Service interface {
	Complete(ctx context.Context, p Prompt) (string, error)

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// maxTokens bounds the reply to a few tokens per input character.
func maxTokens(input string) int {
	n := 2*utf8.RuneCountInString(input) + 32
	return min(max(n, 64), 1024)
}

// NewService creates an LLM service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	switch Provider(cfg.LLM.Provider) {
	case ProviderOllama:
		return NewOllamaService(cfg.LLM.Ollama.URL, cfg.LLM.Ollama.Model)
	case ProviderOpenAI:
		return NewOpenAIService(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, cfg.LLM.OpenAI.BaseURL)
	case ProviderAnthropic:
		return NewAnthropicService(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}
