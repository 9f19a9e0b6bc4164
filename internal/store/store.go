package store

import "context"

// Store defines the metadata operations used by the retrieval path and the
// index tooling. Rows are written by the ingestion pipeline, not here.
// Lookup failures wrap errdefs.ErrMetadataLookup.
type Store interface {
	// Lookup
	GetMany(ctx context.Context, ids []int64) (map[int64]AssetRecord, error)
	Get(ctx context.Context, id int64) (*AssetRecord, error)

	// Consistency checks
	IDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
