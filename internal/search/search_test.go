package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/join"
	"github.com/nickcecere/framegrep/internal/region"
	"github.com/nickcecere/framegrep/internal/store"
	"github.com/nickcecere/framegrep/internal/textproc"
	"github.com/nickcecere/framegrep/internal/vecindex"
)

// mockEncoder maps normalized text to fixed vectors and counts calls.
type mockEncoder struct {
	text       map[string][]float32
	image      []float32
	err        error
	textCalls  atomic.Int32
	imageCalls atomic.Int32
	lastImage  []byte
}

func (m *mockEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	m.textCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.text[text]
	if !ok {
		return nil, errors.New("unexpected text " + text)
	}
	return v, nil
}

func (m *mockEncoder) EncodeImage(ctx context.Context, img []byte) ([]float32, error) {
	m.imageCalls.Add(1)
	m.lastImage = img
	if m.err != nil {
		return nil, m.err
	}
	return m.image, nil
}

type mockTranslator struct {
	out   string
	err   error
	calls int
}

func (m *mockTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	m.calls++
	return m.out, m.err
}

// memStore is an in-memory metadata store.
type memStore map[int64]store.AssetRecord

func (s memStore) GetMany(ctx context.Context, ids []int64) (map[int64]store.AssetRecord, error) {
	out := make(map[int64]store.AssetRecord)
	for _, id := range ids {
		if r, ok := s[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s memStore) Get(ctx context.Context, id int64) (*store.AssetRecord, error) {
	r, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type memFetcher struct {
	data  []byte
	calls atomic.Int32
}

func (f *memFetcher) Fetch(ctx context.Context, locator *url.URL, maxBytes int64) ([]byte, error) {
	f.calls.Add(1)
	return f.data, nil
}

type fixture struct {
	engine     *Engine
	index      *vecindex.Flat
	encoder    *mockEncoder
	translator *mockTranslator
	fetcher    *memFetcher
	store      memStore
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newFixture indexes IDs 10, 20 and 30 at distances 0, 1 and 2 from the
// origin. Metadata exists for every ID in records.
func newFixture(t *testing.T, records ...int64) *fixture {
	t.Helper()

	idx, err := vecindex.NewFlat(2, vecindex.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(10, []float32{0, 0}))
	require.NoError(t, idx.Add(20, []float32{1, 0}))
	require.NoError(t, idx.Add(30, []float32{2, 0}))

	st := memStore{}
	for _, id := range records {
		st[id] = store.AssetRecord{
			ID:            id,
			FolderID:      1,
			ChildFolderID: int(id / 10),
			ImagePath:     fmt.Sprintf("mem://frames/L01/V%03d/%04d.png", id/10, id),
		}
	}

	resolver, err := join.NewResolver(st, 16)
	require.NoError(t, err)

	detector, err := textproc.NewDetector("vi", "en")
	require.NoError(t, err)
	tr := &mockTranslator{out: "motorbike"}
	chain := textproc.NewChain(detector, tr, textproc.V1{}, "en")

	fetcher := &memFetcher{data: testImage(t)}
	extractor := region.NewExtractor(region.Options{})
	extractor.Register("mem", fetcher)

	enc := &mockEncoder{
		text: map[string][]float32{
			"motorbike": {0, 0},
			"red car":   {2, 0.5},
		},
		image: []float32{1, 0},
	}

	engine, err := New(Deps{
		Index:    idx,
		Encoder:  enc,
		Preparer: chain,
		Resolver: resolver,
		Assets:   st,
		Regions:  extractor,
	}, 100)
	require.NoError(t, err)

	return &fixture{
		engine:     engine,
		index:      idx,
		encoder:    enc,
		translator: tr,
		fetcher:    fetcher,
		store:      st,
	}
}

func itemIDs(res *Result) []int64 {
	ids := make([]int64, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.Record.ID
	}
	return ids
}

func itemDistances(res *Result) []float32 {
	d := make([]float32, len(res.Items))
	for i, it := range res.Items {
		d[i] = it.Distance
	}
	return d
}

func TestNew(t *testing.T) {
	_, err := New(Deps{}, 10)
	assert.Error(t, err)

	f := newFixture(t, 10)
	_, err = New(Deps{
		Index:    f.index,
		Encoder:  f.encoder,
		Preparer: &textproc.Chain{},
		Resolver: &join.Resolver{},
		Assets:   f.store,
		Regions:  region.NewExtractor(region.Options{}),
	}, 0)
	assert.Error(t, err)
}

func TestSearchByTextRanksByDistance(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	res, err := f.engine.SearchByText(context.Background(), "motorbike", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, itemIDs(res))
	assert.Equal(t, []float32{0, 1}, itemDistances(res))
	assert.Equal(t, 1, res.Items[0].Rank)
	assert.Equal(t, 2, res.Items[1].Rank)

	require.NotNil(t, res.Text)
	assert.Equal(t, "en", res.Text.Language)
	assert.False(t, res.Text.Translated)
	assert.Equal(t, textproc.PipelineV1, res.Text.Pipeline)
	assert.Equal(t, 0, f.translator.calls)
}

func TestSearchByTextTranslates(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	res, err := f.engine.SearchByText(context.Background(), "xe máy", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, f.translator.calls)
	assert.True(t, res.Text.Translated)
	assert.Equal(t, "motorbike", res.Text.Text)
	assert.Equal(t, []int64{10, 20, 30}, itemIDs(res))
}

func TestSearchByTextTranslationFailure(t *testing.T) {
	f := newFixture(t, 10, 20, 30)
	f.translator.err = errdefs.ErrTranslation

	_, err := f.engine.SearchByText(context.Background(), "xe máy", "", 3)
	assert.ErrorIs(t, err, errdefs.ErrTranslation)
	assert.Equal(t, int32(0), f.encoder.textCalls.Load())
}

func TestSearchByTextEncodingFailure(t *testing.T) {
	f := newFixture(t, 10, 20, 30)
	f.encoder.err = errors.Join(errdefs.ErrEncoding, errors.New("sidecar down"))

	_, err := f.engine.SearchByText(context.Background(), "motorbike", "", 3)
	assert.ErrorIs(t, err, errdefs.ErrEncoding)
}

func TestSearchByTextEmpty(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.engine.SearchByText(context.Background(), "  ", "", 3)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	assert.Equal(t, int32(0), f.encoder.textCalls.Load())
}

func TestSearchByIDSelfSimilarity(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	for _, id := range []int64{10, 20, 30} {
		res, err := f.engine.SearchByID(context.Background(), id, 3)
		require.NoError(t, err)
		require.NotEmpty(t, res.Items)
		assert.Equal(t, id, res.Items[0].Record.ID)
		assert.Equal(t, float32(0), res.Items[0].Distance)
		assert.IsNonDecreasing(t, itemDistances(res))
	}

	assert.Equal(t, int32(0), f.encoder.textCalls.Load())
	assert.Equal(t, int32(0), f.encoder.imageCalls.Load())
}

func TestSearchByIDUnknownAsset(t *testing.T) {
	f := newFixture(t, 10, 20, 30)
	_, err := f.engine.SearchByID(context.Background(), 99, 3)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestSearchDropsMissingMetadata(t *testing.T) {
	f := newFixture(t, 10, 30)

	res, err := f.engine.SearchByID(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, itemIDs(res))
	assert.Equal(t, []float32{0, 2}, itemDistances(res))
	assert.Equal(t, 2, res.Items[1].Rank)
}

func TestSearchKValidation(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	for _, k := range []int{0, -1, 101} {
		_, err := f.engine.SearchByID(context.Background(), 10, k)
		assert.ErrorIs(t, err, errdefs.ErrInvalidArgument, "k=%d", k)
	}

	// k beyond the corpus is clamped.
	res, err := f.engine.SearchByID(context.Background(), 10, 100)
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFixture(t)
	empty, err := vecindex.NewFlat(2, vecindex.MetricL2)
	require.NoError(t, err)
	live := vecindex.NewLive(empty)
	f.engine.index = live

	res, err := f.engine.SearchByText(context.Background(), "motorbike", "", 5)
	require.NoError(t, err)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)

	// Swapping in a populated index is visible to the next query.
	live.Swap(f.index)
	f.store[20] = store.AssetRecord{ID: 20}
	res, err = f.engine.SearchByText(context.Background(), "motorbike", "", 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, itemIDs(res))
}

func TestSearchByRegion(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	res, err := f.engine.SearchByRegion(context.Background(), 10, region.Rect{X1: 0, Y1: 0, X2: 32, Y2: 24}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 10}, itemIDs(res))
	assert.Equal(t, []float32{0, 1}, itemDistances(res))

	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	require.Equal(t, int32(1), f.encoder.imageCalls.Load())
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.encoder.lastImage))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 24, cfg.Height)
}

func TestSearchByRegionInvalidRegion(t *testing.T) {
	f := newFixture(t, 10, 20, 30)

	rects := []region.Rect{
		{X1: 5, Y1: 5, X2: 5, Y2: 10},
		{X1: 10, Y1: 10, X2: 2, Y2: 20},
		{X1: -1, Y1: 0, X2: 10, Y2: 10},
		{X1: 0, Y1: 0, X2: 65, Y2: 10},
	}
	for _, r := range rects {
		_, err := f.engine.SearchByRegion(context.Background(), 10, r, 2)
		assert.ErrorIs(t, err, errdefs.ErrInvalidRegion, "rect %s", r)
	}

	assert.Equal(t, int32(0), f.encoder.imageCalls.Load())
	// Only the out-of-bounds rectangle needs the image.
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
}

func TestSearchByRegionUnknownAsset(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.engine.SearchByRegion(context.Background(), 77, region.Rect{X1: 0, Y1: 0, X2: 4, Y2: 4}, 2)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
}

func TestRun(t *testing.T) {
	f := newFixture(t, 10, 20, 30)
	ctx := context.Background()

	res, err := f.engine.Run(ctx, ByID{AssetID: 30}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, itemIDs(res))

	res, err = f.engine.Run(ctx, ByText{Text: "red car", Language: "en"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, itemIDs(res))

	res, err = f.engine.Run(ctx, ByRegion{AssetID: 20, Rect: region.Rect{X1: 0, Y1: 0, X2: 8, Y2: 8}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, itemIDs(res))

	_, err = f.engine.Run(ctx, nil, 1)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestIDMapper(t *testing.T) {
	m := IDMapper{}
	assert.Equal(t, int64(5), m.ToStored(5))

	m = IDMapper{Offset: 1}
	assert.Equal(t, int64(6), m.ToStored(5))
	assert.Equal(t, int64(5), m.ToDisplay(6))
	assert.Equal(t, int64(42), m.ToDisplay(m.ToStored(42)))
}
