package vecindex

import (
	"container/heap"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

// DefaultShardSize is the number of vectors one goroutine scans when a search
// runs in parallel.
const DefaultShardSize = 16384

// Flat is an in-memory exact index. Vectors are stored contiguously in
// insertion order; ties in distance resolve to the earlier insertion.
type Flat struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	data   []float32
	ids    []int64
	pos    map[int64]int

	shardSize int
}

// NewFlat creates an empty index.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", errdefs.ErrInvalidArgument, dim)
	}
	m, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	return &Flat{
		dim:       dim,
		metric:    m,
		pos:       make(map[int64]int),
		shardSize: DefaultShardSize,
	}, nil
}

// SetShardSize changes the parallel scan granularity. Values <= 0 restore the default.
func (f *Flat) SetShardSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 {
		n = DefaultShardSize
	}
	f.shardSize = n
}

// ShardSize returns the parallel scan granularity.
func (f *Flat) ShardSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shardSize
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) Metric() Metric { return f.metric }

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Add stores embedding under id.
func (f *Flat) Add(id int64, embedding []float32) error {
	if err := checkDimension(f.dim, embedding); err != nil {
		return err
	}
	if err := checkFinite(embedding); err != nil {
		return err
	}
	return f.addPrepared(id, prepare(f.metric, embedding))
}

// addPrepared appends a vector that has already been through prepare.
func (f *Flat) addPrepared(id int64, v []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pos[id]; ok {
		return fmt.Errorf("%w: duplicate id %d", errdefs.ErrInvalidArgument, id)
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.data = append(f.data, v...)
	return nil
}

// Vector returns a copy of the stored vector for id.
func (f *Flat) Vector(id int64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pos[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, f.dim)
	copy(out, f.data[p*f.dim:(p+1)*f.dim])
	return out, true
}

// Each calls fn for every vector in insertion order.
func (f *Flat) Each(fn func(id int64, embedding []float32) error) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for p, id := range f.ids {
		if err := fn(id, f.data[p*f.dim:(p+1)*f.dim]); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the k nearest vectors to query.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if err := checkDimension(f.dim, query); err != nil {
		return nil, err
	}
	if err := checkK(k); err != nil {
		return nil, err
	}
	q := prepare(f.metric, query)

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.ids)
	if n == 0 {
		return []Hit{}, nil
	}
	if k > n {
		k = n
	}

	var candidates []candidate
	if n <= f.shardSize {
		candidates = f.scan(q, 0, n, k)
	} else {
		var err error
		candidates, err = f.parallelScan(q, n, k)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].less(candidates[j]) })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{ID: f.ids[c.pos], Distance: c.dist}
	}
	return hits, nil
}

func (f *Flat) parallelScan(q []float32, n, k int) ([]candidate, error) {
	shards := (n + f.shardSize - 1) / f.shardSize
	results := make([][]candidate, shards)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for s := 0; s < shards; s++ {
		start := s * f.shardSize
		end := min(start+f.shardSize, n)
		g.Go(func() error {
			results[s] = f.scan(q, start, end, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("Parallel index scan", "vectors", n, "shards", shards)

	var merged []candidate
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// scan returns the k best candidates among positions [start, end).
func (f *Flat) scan(q []float32, start, end, k int) []candidate {
	h := make(worstFirst, 0, k)
	for p := start; p < end; p++ {
		c := candidate{pos: p, dist: l2(q, f.data[p*f.dim:(p+1)*f.dim])}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if c.less(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	return h
}

type candidate struct {
	pos  int
	dist float32
}

func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.pos < o.pos
}

// worstFirst is a max-heap on (distance, position).
type worstFirst []candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return h[j].less(h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
