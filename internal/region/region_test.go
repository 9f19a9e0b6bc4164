package region

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/resilience"
)

func testPolicy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

// testPNG returns a 100x80 PNG whose left half is red and right half blue.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 50 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingFetcher struct {
	calls atomic.Int32
	data  []byte
}

func (c *countingFetcher) Fetch(ctx context.Context, locator *url.URL, maxBytes int64) ([]byte, error) {
	c.calls.Add(1)
	return c.data, nil
}

type fakeS3 struct {
	objects map[string][]byte
	input   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	data, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestRectValidate(t *testing.T) {
	tests := []struct {
		name    string
		rect    Rect
		wantErr bool
	}{
		{"valid", Rect{0, 0, 10, 10}, false},
		{"single pixel", Rect{5, 5, 6, 6}, false},
		{"zero width", Rect{5, 0, 5, 10}, true},
		{"zero height", Rect{0, 5, 10, 5}, true},
		{"inverted", Rect{10, 10, 0, 0}, true},
		{"negative", Rect{-1, 0, 10, 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rect.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errdefs.ErrInvalidRegion)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCrop(t *testing.T) {
	out, err := Crop(testPNG(t), Rect{10, 20, 40, 60}, 90)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	r, g, b, _ := img.At(15, 20).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestCropBounds(t *testing.T) {
	data := testPNG(t)

	_, err := Crop(data, Rect{0, 0, 100, 80}, 90)
	assert.NoError(t, err)

	_, err = Crop(data, Rect{0, 0, 101, 80}, 90)
	assert.ErrorIs(t, err, errdefs.ErrInvalidRegion)

	_, err = Crop(data, Rect{50, 70, 60, 81}, 90)
	assert.ErrorIs(t, err, errdefs.ErrInvalidRegion)
}

func TestCropUndecodable(t *testing.T) {
	_, err := Crop([]byte("not an image"), Rect{0, 0, 1, 1}, 90)
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
}

func TestExtractInvalidRegionSkipsFetch(t *testing.T) {
	fetcher := &countingFetcher{data: testPNG(t)}
	e := NewExtractor(Options{})
	e.Register("s3", fetcher)

	_, err := e.Extract(context.Background(), "s3://frames/L01/V001/0001.jpg", Rect{5, 5, 5, 10})
	assert.ErrorIs(t, err, errdefs.ErrInvalidRegion)
	assert.Equal(t, int32(0), fetcher.calls.Load())

	// An in-range rectangle does fetch.
	_, err = e.Extract(context.Background(), "s3://frames/L01/V001/0001.jpg", Rect{0, 0, 10, 10})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestExtractFromFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "L01", "V001"), 0755))
	path := filepath.Join(root, "L01", "V001", "0001.png")
	require.NoError(t, os.WriteFile(path, testPNG(t), 0644))

	e := NewExtractor(Options{Root: root, JPEGQuality: 80})

	out, err := e.Extract(context.Background(), "L01/V001/0001.png", Rect{0, 0, 20, 20})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = e.Extract(context.Background(), "file://"+filepath.ToSlash(path), Rect{0, 0, 20, 20})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = e.Extract(context.Background(), "L01/V001/missing.png", Rect{0, 0, 20, 20})
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
}

func TestExtractMaxImageBytes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.png"), testPNG(t), 0644))

	e := NewExtractor(Options{Root: root, MaxImageBytes: 16})
	_, err := e.Extract(context.Background(), "big.png", Rect{0, 0, 10, 10})
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestExtractUnsupportedScheme(t *testing.T) {
	e := NewExtractor(Options{})
	_, err := e.Extract(context.Background(), "ftp://example.com/a.jpg", Rect{0, 0, 1, 1})
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
}

func TestHTTPFetch(t *testing.T) {
	data := testPNG(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	e := NewExtractor(Options{Policy: testPolicy()})
	out, err := e.Extract(context.Background(), server.URL+"/L01/V001/0001.png", Rect{60, 0, 100, 40})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, _, b, _ := img.At(10, 10).RGBA()
	assert.Greater(t, b>>8, uint32(200))
}

func TestHTTPFetchRetries(t *testing.T) {
	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		f := NewHTTPFetcher(nil, testPolicy())
		u, _ := url.Parse(server.URL + "/a.jpg")
		_, err := f.Fetch(context.Background(), u, 0)
		assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("not found is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		f := NewHTTPFetcher(nil, testPolicy())
		u, _ := url.Parse(server.URL + "/a.jpg")
		_, err := f.Fetch(context.Background(), u, 0)
		assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
		var se *resilience.StatusError
		assert.True(t, errors.As(err, &se))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRewriteShareLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.dropbox.com/s/abc/0001.jpg?dl=0", "https://www.dropbox.com/s/abc/0001.jpg?raw=1"},
		{"https://dropbox.com/scl/fi/xyz/0001.jpg?rlkey=k&dl=0", "https://dropbox.com/scl/fi/xyz/0001.jpg?raw=1&rlkey=k"},
		{"https://www.dropbox.com/s/abc/0001.jpg?raw=1", "https://www.dropbox.com/s/abc/0001.jpg?raw=1"},
		{"https://example.com/0001.jpg?dl=0", "https://example.com/0001.jpg?dl=0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rewriteShareLink(u).String())
		})
	}
}

func TestS3Fetch(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"frames/L01/V001/0001.png": testPNG(t)}}
	e := NewExtractor(Options{})
	e.Register("s3", NewS3FetcherWithClient(client))

	out, err := e.Extract(context.Background(), "s3://frames/L01/V001/0001.png", Rect{0, 0, 8, 8})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, "frames", *client.input.Bucket)
	assert.Equal(t, "L01/V001/0001.png", *client.input.Key)

	_, err = e.Extract(context.Background(), "s3://frames/L01/V001/missing.png", Rect{0, 0, 8, 8})
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
	assert.Contains(t, err.Error(), "does not exist")

	_, err = e.Extract(context.Background(), "s3://frames", Rect{0, 0, 8, 8})
	assert.ErrorIs(t, err, errdefs.ErrAssetUnavailable)
}
