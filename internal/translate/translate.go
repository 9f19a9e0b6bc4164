// Package translate converts query text into the language the corpus was
// embedded in.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/llm"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// Translator translates text between two ISO 639-1 languages.
// Every failure wraps errdefs.ErrTranslation.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// New builds the translator selected by cfg.Translation.Provider, wrapped in
// a circuit breaker and, when enabled, a result cache.
func New(cfg *config.Config, policy resilience.Policy) (Translator, error) {
	var base Translator
	switch cfg.Translation.Provider {
	case "google":
		base = NewGoogle(GoogleOptions{
			URL:               cfg.Translation.Google.URL,
			RequestsPerSecond: cfg.Translation.Google.RequestsPerSecond,
			Burst:             cfg.Translation.Google.Burst,
			Policy:            policy,
		})
	case "llm":
		svc, err := llm.NewService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM service: %w", err)
		}
		base = NewLLM(svc, policy)
	case "none":
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unsupported translation provider: %s", cfg.Translation.Provider)
	}

	b := cfg.Translation.Breaker
	settings := resilience.DefaultBreakerSettings()
	if b.FailureRatio > 0 {
		settings.FailureRatio = b.FailureRatio
	}
	if b.MinRequests > 0 {
		settings.MinRequests = b.MinRequests
	}
	if b.Timeout > 0 {
		settings.Timeout = b.Timeout
	}
	t := WithBreaker(base, resilience.NewBreaker("translator", settings))

	if cfg.Cache.Translations > 0 {
		cached, err := NewCached(t, cfg.Cache.Translations)
		if err != nil {
			return nil, err
		}
		t = cached
	}
	return t, nil
}

// Identity returns its input unchanged.
type Identity struct{}

func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// Cached memoizes successful translations.
type Cached struct {
	next  Translator
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU cache of the given size.
func NewCached(next Translator, size int) (*Cached, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Translate(ctx context.Context, text, src, dst string) (string, error) {
	key := src + "\x00" + dst + "\x00" + text
	if out, ok := c.cache.Get(key); ok {
		log.Debug("Translation cache hit", "src", src, "dst", dst)
		return out, nil
	}
	out, err := c.next.Translate(ctx, text, src, dst)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

type breakerTranslator struct {
	next    Translator
	breaker *resilience.Breaker
}

// WithBreaker stops calling next while its remote side keeps failing.
func WithBreaker(next Translator, b *resilience.Breaker) Translator {
	return &breakerTranslator{next: next, breaker: b}
}

func (t *breakerTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	var out string
	err := t.breaker.Do(func() error {
		var err error
		out, err = t.next.Translate(ctx, text, src, dst)
		return err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: translator unavailable: %v", errdefs.ErrTranslation, err)
	}
	return out, err
}

var languageNames = map[string]string{
	"vi": "Vietnamese",
	"en": "English",
	"fr": "French",
	"de": "German",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}
