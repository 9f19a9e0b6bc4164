package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// TestNewService tests the factory function.
func TestNewService(t *testing.T) {
	t.Run("creates Ollama service", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "ollama",
				Ollama: config.OllamaLLMConfig{
					URL:   "http://localhost:11434",
					Model: "llama2",
				},
			},
		}

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "llama2", svc.ModelName())
	})

	t.Run("creates OpenAI service", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "openai",
				OpenAI: config.OpenAILLMConfig{
					APIKey: "sk-test",
					Model:  "gpt-4",
				},
			},
		}

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "gpt-4", svc.ModelName())
	})

	t.Run("creates Anthropic service", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "anthropic",
				Anthropic: config.AnthropicConfig{
					APIKey: "sk-ant-test",
					Model:  "claude-3-sonnet",
				},
			},
		}

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, svc.Provider())
		assert.Equal(t, "claude-3-sonnet", svc.ModelName())
	})

	t.Run("returns error for unsupported provider", func(t *testing.T) {
		cfg := &config.Config{
			LLM: config.LLMConfig{
				Provider: "unsupported",
			},
		}

		_, err := NewService(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported")
	})
}

// TestNewOllamaService tests Ollama service creation.
func TestNewOllamaService(t *testing.T) {
	t.Run("with default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "llama2")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, "llama2", svc.model)
	})

	t.Run("with custom URL", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mistral")
		require.NoError(t, err)
		assert.Equal(t, "http://custom:8080", svc.baseURL)
	})
}

// TestNewOpenAIService tests OpenAI service creation.
func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "gpt-4", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("with valid API key", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "gpt-4", "")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4", svc.model)
	})
}

// TestNewAnthropicService tests Anthropic service creation.
func TestNewAnthropicService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewAnthropicService("", "claude-3")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("with valid API key", func(t *testing.T) {
		svc, err := NewAnthropicService("sk-ant-test", "claude-3")
		require.NoError(t, err)
		assert.Equal(t, "claude-3", svc.model)
	})
}

// mockOllamaServer creates a test server that simulates Ollama's generate API.
func mockOllamaServer(t *testing.T, response, doneReason string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Translate to English.", req.System)
		assert.Equal(t, "xe máy", req.Prompt)
		assert.False(t, req.Stream)
		assert.Equal(t, 0.0, req.Options.Temperature)
		assert.Equal(t, 64, req.Options.NumPredict)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: response, Done: true, DoneReason: doneReason})
	}))
}

var translatePrompt = Prompt{Instructions: "Translate to English.", Input: "xe máy"}

// TestOllamaComplete tests Ollama completion.
func TestOllamaComplete(t *testing.T) {
	server := mockOllamaServer(t, "motorbike", "stop")
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama2")
	require.NoError(t, err)

	response, err := svc.Complete(context.Background(), translatePrompt)
	require.NoError(t, err)
	assert.Equal(t, "motorbike", response)
}

// TestOllamaCompleteTruncated tests that a reply cut at the token limit fails.
func TestOllamaCompleteTruncated(t *testing.T) {
	server := mockOllamaServer(t, "motor", "length")
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama2")
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), translatePrompt)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.False(t, resilience.IsTransient(err))
}

// TestOllamaCompleteError tests error handling.
func TestOllamaCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not found"))
	}))
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama2")
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Prompt{Input: "test"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.True(t, resilience.IsTransient(err))
}

func TestMaxTokens(t *testing.T) {
	assert.Equal(t, 64, maxTokens("xe máy"))
	assert.Equal(t, 232, maxTokens(strings.Repeat("a", 100)))
	assert.Equal(t, 1024, maxTokens(strings.Repeat("a", 5000)))
}

// mockOpenAIServer answers chat completions with a fixed reply.
func mockOpenAIServer(t *testing.T, content, finishReason string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.0, req["temperature"])
		assert.Len(t, req["messages"], 2)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": finishReason,
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

// TestOpenAIComplete tests the OpenAI client against a compatible server.
func TestOpenAIComplete(t *testing.T) {
	server := mockOpenAIServer(t, "motorbike", "stop")
	defer server.Close()

	svc, err := NewOpenAIService("sk-test", "gpt-4", server.URL)
	require.NoError(t, err)

	out, err := svc.Complete(context.Background(), translatePrompt)
	require.NoError(t, err)
	assert.Equal(t, "motorbike", out)
}

func TestOpenAICompleteTruncated(t *testing.T) {
	server := mockOpenAIServer(t, "motor", "length")
	defer server.Close()

	svc, err := NewOpenAIService("sk-test", "gpt-4", server.URL)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), translatePrompt)
	assert.ErrorIs(t, err, ErrTruncated)
}

// mockAnthropicServer answers the messages API with the given content blocks.
func mockAnthropicServer(t *testing.T, stopReason string, content ...anthropicContent) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Translate to English.", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "xe máy", req.Messages[0].Content)
		assert.Equal(t, 64, req.MaxTokens)

		json.NewEncoder(w).Encode(anthropicResponse{Content: content, StopReason: stopReason})
	}))
}

// TestAnthropicComplete tests the Anthropic client against a mock server.
func TestAnthropicComplete(t *testing.T) {
	server := mockAnthropicServer(t, "end_turn",
		anthropicContent{Type: "text", Text: "motor"},
		anthropicContent{Type: "tool_use"},
		anthropicContent{Type: "text", Text: "bike"},
	)
	defer server.Close()

	svc, err := NewAnthropicService("sk-ant-test", "claude-3")
	require.NoError(t, err)
	svc.apiURL = server.URL

	out, err := svc.Complete(context.Background(), translatePrompt)
	require.NoError(t, err)
	assert.Equal(t, "motorbike", out)
}

func TestAnthropicCompleteTruncated(t *testing.T) {
	server := mockAnthropicServer(t, "max_tokens", anthropicContent{Type: "text", Text: "motor"})
	defer server.Close()

	svc, _ := NewAnthropicService("sk-ant-test", "claude-3")
	svc.apiURL = server.URL

	_, err := svc.Complete(context.Background(), translatePrompt)
	assert.ErrorIs(t, err, ErrTruncated)
}

// TestAnthropicClientError tests that 4xx responses are not transient.
func TestAnthropicClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	svc, _ := NewAnthropicService("sk-ant-test", "claude-3")
	svc.apiURL = server.URL

	_, err := svc.Complete(context.Background(), Prompt{Input: "x"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

// TestProviderConstants tests provider names used in config files.
func TestProviderConstants(t *testing.T) {
	assert.Equal(t, Provider("ollama"), ProviderOllama)
	assert.Equal(t, Provider("openai"), ProviderOpenAI)
	assert.Equal(t, Provider("anthropic"), ProviderAnthropic)
}
