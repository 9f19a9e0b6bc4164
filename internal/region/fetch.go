package region

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

// Fetcher loads the raw bytes of an image. Failures wrap
// errdefs.ErrAssetUnavailable.
type Fetcher interface {
	Fetch(ctx context.Context, locator *url.URL, maxBytes int64) ([]byte, error)
}

// readLimited reads at most maxBytes from r.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// FileFetcher reads images from the local filesystem. Relative paths are
// resolved against Root.
type FileFetcher struct {
	Root string
}

func (f *FileFetcher) Fetch(_ context.Context, locator *url.URL, maxBytes int64) ([]byte, error) {
	path := locator.Path
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrAssetUnavailable, err)
	}
	defer file.Close()

	data, err := readLimited(file, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errdefs.ErrAssetUnavailable, path, err)
	}
	return data, nil
}

// HTTPFetcher downloads images over HTTP(S), retrying transient failures.
type HTTPFetcher struct {
	client *http.Client
	policy resilience.Policy
}

// NewHTTPFetcher creates an HTTP fetcher. A nil client gets a 30s timeout.
func NewHTTPFetcher(client *http.Client, policy resilience.Policy) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, policy: policy}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator *url.URL, maxBytes int64) ([]byte, error) {
	target := rewriteShareLink(locator)

	data, err := resilience.RetryValue(ctx, f.policy, "fetch-image", func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, target, maxBytes)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errdefs.ErrAssetUnavailable, target.Redacted(), err)
	}
	return data, nil
}

func (f *HTTPFetcher) get(ctx context.Context, target *url.URL, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return readLimited(resp.Body, maxBytes)
}

// rewriteShareLink turns a Dropbox preview link into a direct download.
func rewriteShareLink(u *url.URL) *url.URL {
	host := strings.ToLower(u.Hostname())
	if host != "dropbox.com" && !strings.HasSuffix(host, ".dropbox.com") {
		return u
	}

	out := *u
	q := out.Query()
	if q.Get("dl") == "" && q.Get("raw") == "1" {
		return u
	}
	q.Del("dl")
	q.Set("raw", "1")
	out.RawQuery = q.Encode()
	log.Debug("Rewrote share link", "from", u.Redacted(), "to", out.Redacted())
	return &out
}

// S3API is the subset of the S3 client used to fetch images.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client.
type S3Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Fetcher reads s3://bucket/key locators. The SDK retries transient
// failures itself.
type S3Fetcher struct {
	client S3API
}

// NewS3Fetcher creates an S3 fetcher from the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, opts S3Options) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	log.Debug("Created S3 client", "region", opts.Region, "endpoint", opts.Endpoint)

	return &S3Fetcher{client: client}, nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func (f *S3Fetcher) Fetch(ctx context.Context, locator *url.URL, maxBytes int64) ([]byte, error) {
	bucket := locator.Host
	key := strings.TrimPrefix(locator.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: malformed S3 locator %q", errdefs.ErrAssetUnavailable, locator.String())
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s does not exist", errdefs.ErrAssetUnavailable, bucket, key)
		}
		return nil, fmt.Errorf("%w: s3://%s/%s: %w", errdefs.ErrAssetUnavailable, bucket, key, err)
	}
	defer out.Body.Close()

	data, err := readLimited(out.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %w", errdefs.ErrAssetUnavailable, bucket, key, err)
	}
	return data, nil
}
