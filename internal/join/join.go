// Package join turns ranked index IDs into metadata records.
package join

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nickcecere/framegrep/internal/store"
)

// Lookup is the store operation the resolver needs.
type Lookup interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]store.AssetRecord, error)
}

// Resolver maps ordered IDs to records, fronting the store with an LRU cache.
type Resolver struct {
	lookup Lookup
	cache  *lru.Cache[int64, store.AssetRecord]
}

// NewResolver creates a resolver. cacheSize <= 0 disables caching.
func NewResolver(lookup Lookup, cacheSize int) (*Resolver, error) {
	r := &Resolver{lookup: lookup}
	if cacheSize > 0 {
		cache, err := lru.New[int64, store.AssetRecord](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create record cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Resolve returns the records for ids in the same order. IDs without a
// record are dropped and logged; duplicates are kept.
func (r *Resolver) Resolve(ctx context.Context, ids []int64) ([]store.AssetRecord, error) {
	if len(ids) == 0 {
		return []store.AssetRecord{}, nil
	}

	found := make(map[int64]store.AssetRecord, len(ids))
	var misses []int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r.cache != nil {
			if rec, ok := r.cache.Get(id); ok {
				found[id] = rec
				continue
			}
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		fetched, err := r.lookup.GetMany(ctx, misses)
		if err != nil {
			return nil, err
		}
		for id, rec := range fetched {
			found[id] = rec
			if r.cache != nil {
				r.cache.Add(id, rec)
			}
		}
	}

	out := make([]store.AssetRecord, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		rec, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, rec)
	}

	if len(missing) > 0 {
		log.Warn("Indexed IDs have no metadata", "missing", missing, "resolved", len(out))
	}

	log.Debug("Resolved records", "requested", len(ids), "cache_misses", len(misses))

	return out, nil
}
