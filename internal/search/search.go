// Package search answers similarity queries by ID, text and image region.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/region"
	"github.com/nickcecere/framegrep/internal/store"
	"github.com/nickcecere/framegrep/internal/textproc"
	"github.com/nickcecere/framegrep/internal/vecindex"
)

// Encoder embeds query text and images.
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, image []byte) ([]float32, error)
}

// Preparer turns raw query text into encoder input.
type Preparer interface {
	Prepare(ctx context.Context, text, lang string) (textproc.Prepared, error)
}

// Resolver maps ranked IDs to metadata records in order.
type Resolver interface {
	Resolve(ctx context.Context, ids []int64) ([]store.AssetRecord, error)
}

// AssetLookup fetches a single record.
type AssetLookup interface {
	Get(ctx context.Context, id int64) (*store.AssetRecord, error)
}

// RegionExtractor crops a region out of an asset image.
type RegionExtractor interface {
	Extract(ctx context.Context, locator string, rect region.Rect) ([]byte, error)
}

// Engine runs queries against one vector index and its metadata.
type Engine struct {
	index    vecindex.Index
	encoder  Encoder
	preparer Preparer
	resolver Resolver
	assets   AssetLookup
	regions  RegionExtractor
	maxK     int
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Index    vecindex.Index
	Encoder  Encoder
	Preparer Preparer
	Resolver Resolver
	Assets   AssetLookup
	Regions  RegionExtractor
}

// New creates an engine. maxK bounds the k accepted by every query.
func New(d Deps, maxK int) (*Engine, error) {
	if d.Index == nil || d.Encoder == nil || d.Preparer == nil || d.Resolver == nil || d.Assets == nil || d.Regions == nil {
		return nil, errors.New("search engine requires an index, encoder, preparer, resolver, asset lookup and region extractor")
	}
	if maxK <= 0 {
		return nil, fmt.Errorf("max k must be positive, got %d", maxK)
	}
	return &Engine{
		index:    d.Index,
		encoder:  d.Encoder,
		preparer: d.Preparer,
		resolver: d.Resolver,
		assets:   d.Assets,
		regions:  d.Regions,
		maxK:     maxK,
	}, nil
}

// Item is one ranked result.
type Item struct {
	Rank     int               `json:"rank"`
	Record   store.AssetRecord `json:"record"`
	Distance float32           `json:"distance"`
}

// Result is a ranked result list. Distances are non-decreasing.
type Result struct {
	Items []Item `json:"items"`

	// Set for text queries.
	Text *textproc.Prepared `json:"text,omitempty"`

	Took time.Duration `json:"took"`
}

// Query is one of ByID, ByText or ByRegion.
type Query interface {
	isQuery()
}

// ByID finds frames similar to an indexed asset.
type ByID struct {
	AssetID int64
}

// ByText finds frames matching a free-text description. An empty Language
// is detected.
type ByText struct {
	Text     string
	Language string
}

// ByRegion finds frames similar to a rectangle of an indexed asset's image.
type ByRegion struct {
	AssetID int64
	Rect    region.Rect
}

func (ByID) isQuery()     {}
func (ByText) isQuery()   {}
func (ByRegion) isQuery() {}

// Run dispatches q.
func (e *Engine) Run(ctx context.Context, q Query, k int) (*Result, error) {
	switch q := q.(type) {
	case ByID:
		return e.SearchByID(ctx, q.AssetID, k)
	case ByText:
		return e.SearchByText(ctx, q.Text, q.Language, k)
	case ByRegion:
		return e.SearchByRegion(ctx, q.AssetID, q.Rect, k)
	default:
		return nil, fmt.Errorf("%w: unsupported query type %T", errdefs.ErrInvalidArgument, q)
	}
}

func (e *Engine) checkK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", errdefs.ErrInvalidArgument, k)
	}
	if k > e.maxK {
		return fmt.Errorf("%w: k %d exceeds the maximum of %d", errdefs.ErrInvalidArgument, k, e.maxK)
	}
	return nil
}

// SearchByID ranks the corpus against the stored vector of assetID.
func (e *Engine) SearchByID(ctx context.Context, assetID int64, k int) (*Result, error) {
	start := time.Now()
	if err := e.checkK(k); err != nil {
		return nil, err
	}

	idx := vecindex.Pin(e.index)
	vec, ok := idx.Vector(assetID)
	if !ok {
		return nil, fmt.Errorf("%w: asset %d has no indexed vector", errdefs.ErrInvalidArgument, assetID)
	}

	log.Debug("Searching by ID", "asset_id", assetID, "k", k)
	return e.rank(ctx, idx, vec, k, start)
}

// SearchByText ranks the corpus against prepared and encoded query text.
func (e *Engine) SearchByText(ctx context.Context, text, lang string, k int) (*Result, error) {
	start := time.Now()
	if err := e.checkK(k); err != nil {
		return nil, err
	}

	prepared, err := e.preparer.Prepare(ctx, text, lang)
	if err != nil {
		return nil, err
	}

	log.Debug("Searching by text",
		"language", prepared.Language,
		"translated", prepared.Translated,
		"pipeline", prepared.Pipeline,
		"text", prepared.Text,
		"k", k)

	vec, err := e.encoder.EncodeText(ctx, prepared.Text)
	if err != nil {
		return nil, err
	}

	idx := vecindex.Pin(e.index)
	res, err := e.rank(ctx, idx, vec, k, start)
	if err != nil {
		return nil, err
	}
	res.Text = &prepared
	return res, nil
}

// SearchByRegion ranks the corpus against a crop of assetID's image.
func (e *Engine) SearchByRegion(ctx context.Context, assetID int64, rect region.Rect, k int) (*Result, error) {
	start := time.Now()
	if err := e.checkK(k); err != nil {
		return nil, err
	}
	if err := rect.Validate(); err != nil {
		return nil, err
	}

	rec, err := e.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: asset %d does not exist", errdefs.ErrInvalidArgument, assetID)
	}

	crop, err := e.regions.Extract(ctx, rec.ImagePath, rect)
	if err != nil {
		return nil, err
	}

	log.Debug("Searching by region", "asset_id", assetID, "rect", rect.String(), "k", k)

	vec, err := e.encoder.EncodeImage(ctx, crop)
	if err != nil {
		return nil, err
	}

	return e.rank(ctx, vecindex.Pin(e.index), vec, k, start)
}

// rank searches idx and joins the hits with their metadata.
func (e *Engine) rank(ctx context.Context, idx vecindex.Index, vec []float32, k int, start time.Time) (*Result, error) {
	hits, err := idx.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	ids := make([]int64, len(hits))
	distances := make(map[int64]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		distances[h.ID] = h.Distance
	}

	records, err := e.resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(records))
	for i, rec := range records {
		items[i] = Item{Rank: i + 1, Record: rec, Distance: distances[rec.ID]}
	}

	took := time.Since(start)
	log.Debug("Search complete", "hits", len(hits), "results", len(items), "took", took)

	return &Result{Items: items, Took: took}, nil
}

// IDMapper converts between the IDs users see and the IDs stored in the
// index and metadata store: stored = display + Offset.
type IDMapper struct {
	Offset int64
}

// ToStored converts a display ID.
func (m IDMapper) ToStored(display int64) int64 { return display + m.Offset }

// ToDisplay converts a stored ID.
func (m IDMapper) ToDisplay(stored int64) int64 { return stored - m.Offset }
