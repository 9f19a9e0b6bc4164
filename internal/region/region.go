// Package region fetches asset images and crops rectangular regions out of
// them for image-to-image search.
package region

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// Rect is a crop rectangle in pixel coordinates, half-open on X2 and Y2.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Validate rejects negative and degenerate rectangles.
func (r Rect) Validate() error {
	if r.X1 < 0 || r.Y1 < 0 || r.X2 < 0 || r.Y2 < 0 {
		return fmt.Errorf("%w: negative coordinates in %s", errdefs.ErrInvalidRegion, r)
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return fmt.Errorf("%w: empty rectangle %s", errdefs.ErrInvalidRegion, r)
	}
	return nil
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// Options configures an Extractor.
type Options struct {
	// Root resolves relative file paths.
	Root          string
	MaxImageBytes int64
	JPEGQuality   int
	Policy        resilience.Policy
	S3            S3Options
}

// Extractor crops regions out of asset images.
type Extractor struct {
	opts Options

	mu       sync.Mutex
	fetchers map[string]Fetcher
}

// NewExtractor creates an extractor with file and HTTP(S) fetchers. The S3
// fetcher is created on first use unless one is registered.
func NewExtractor(opts Options) *Extractor {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = jpeg.DefaultQuality
	}

	httpFetcher := NewHTTPFetcher(nil, opts.Policy)
	return &Extractor{
		opts: opts,
		fetchers: map[string]Fetcher{
			"":      &FileFetcher{Root: opts.Root},
			"file":  &FileFetcher{Root: opts.Root},
			"http":  httpFetcher,
			"https": httpFetcher,
		},
	}
}

// Register sets the fetcher for a locator scheme.
func (e *Extractor) Register(scheme string, f Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchers[scheme] = f
}

func (e *Extractor) fetcher(ctx context.Context, scheme string) (Fetcher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if f, ok := e.fetchers[scheme]; ok {
		return f, nil
	}
	if scheme != "s3" {
		return nil, fmt.Errorf("%w: unsupported locator scheme %q", errdefs.ErrAssetUnavailable, scheme)
	}

	f, err := NewS3Fetcher(ctx, e.opts.S3)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrAssetUnavailable, err)
	}
	e.fetchers[scheme] = f
	return f, nil
}

// parseLocator parses URLs and treats anything without a scheme as a path.
func parseLocator(locator string) (*url.URL, error) {
	if !strings.Contains(locator, "://") {
		return &url.URL{Path: locator}, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid locator: %w", errdefs.ErrAssetUnavailable, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// Extract fetches the image at locator, crops rect and returns it as JPEG.
// The rectangle is validated before anything is fetched.
func (e *Extractor) Extract(ctx context.Context, locator string, rect Rect) ([]byte, error) {
	if err := rect.Validate(); err != nil {
		return nil, err
	}
	if locator == "" {
		return nil, fmt.Errorf("%w: asset has no image locator", errdefs.ErrAssetUnavailable)
	}

	u, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}
	f, err := e.fetcher(ctx, u.Scheme)
	if err != nil {
		return nil, err
	}

	data, err := f.Fetch(ctx, u, e.opts.MaxImageBytes)
	if err != nil {
		return nil, err
	}

	out, err := Crop(data, rect, e.opts.JPEGQuality)
	if err != nil {
		return nil, err
	}

	log.Debug("Extracted region", "locator", locator, "rect", rect.String(), "bytes", len(out))
	return out, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop decodes data, checks rect against the image bounds and encodes the
// cropped area as JPEG.
func Crop(data []byte, rect Rect, quality int) ([]byte, error) {
	if err := rect.Validate(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported image: %w", errdefs.ErrAssetUnavailable, err)
	}
	if rect.X2 > cfg.Width || rect.Y2 > cfg.Height {
		return nil, fmt.Errorf("%w: %s outside %dx%d image", errdefs.ErrInvalidRegion, rect, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %w", errdefs.ErrAssetUnavailable, err)
	}

	origin := img.Bounds().Min
	area := image.Rect(rect.X1, rect.Y1, rect.X2, rect.Y2).Add(origin)

	var cropped image.Image
	if si, ok := img.(subImager); ok {
		cropped = si.SubImage(area)
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, area.Dx(), area.Dy()))
		draw.Draw(dst, dst.Bounds(), img, area.Min, draw.Src)
		cropped = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode region: %w", err)
	}
	return buf.Bytes(), nil
}
