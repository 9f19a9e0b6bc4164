package translate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

const defaultGoogleURL = "https://translate.googleapis.com/translate_a/single"

// GoogleOptions configures the Google translate client.
type GoogleOptions struct {
	URL               string
	RequestsPerSecond float64
	Burst             int
	Policy            resilience.Policy
}

// Google calls the public translate_a/single endpoint (client=gtx).
type Google struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewGoogle creates a Google translate client.
func NewGoogle(opts GoogleOptions) *Google {
	if opts.URL == "" {
		opts.URL = defaultGoogleURL
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Google{
		url:     opts.URL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, opts.Burst),
		policy:  opts.Policy,
	}
}

// Translate lower-cases text and translates it from src to dst.
func (g *Google) Translate(ctx context.Context, text, src, dst string) (string, error) {
	text = strings.ToLower(text)

	out, err := resilience.RetryValue(ctx, g.policy, "google-translate", func(ctx context.Context) (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return g.request(ctx, text, src, dst)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errdefs.ErrTranslation, err)
	}
	return out, nil
}

func (g *Google) request(ctx context.Context, text, src, dst string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", src)
	params.Set("tl", dst)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, "GET", g.url+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	log.Debug("Requesting translation", "src", src, "dst", dst, "chars", len(text))

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resilience.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google translate returned %w", &resilience.StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(body)),
		})
	}

	return parseGoogleResponse(body)
}

// parseGoogleResponse joins the translated segments of a gtx response:
// [[["translated","source",...],...],null,"vi",...]
func parseGoogleResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid response body")
	}
	segments := gjson.GetBytes(body, "0.#.0")
	if !segments.Exists() || !segments.IsArray() {
		return "", fmt.Errorf("response has no translation segments")
	}

	var sb strings.Builder
	for _, seg := range segments.Array() {
		sb.WriteString(seg.String())
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out, nil
}
