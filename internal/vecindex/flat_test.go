package vecindex

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

func newTestFlat(t *testing.T, dim int, metric Metric) *Flat {
	t.Helper()
	idx, err := NewFlat(dim, metric)
	require.NoError(t, err)
	return idx
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func TestNewFlatValidation(t *testing.T) {
	_, err := NewFlat(0, MetricL2)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = NewFlat(4, Metric("manhattan"))
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	idx, err := NewFlat(4, "")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, idx.Metric())
	assert.Equal(t, 4, idx.Dimension())
	assert.Equal(t, 0, idx.Len())
}

func TestFlatAddValidation(t *testing.T) {
	idx := newTestFlat(t, 3, MetricL2)

	require.NoError(t, idx.Add(1, []float32{1, 2, 3}))

	err := idx.Add(2, []float32{1, 2})
	assert.ErrorIs(t, err, errdefs.ErrDimensionMismatch)

	err = idx.Add(1, []float32{4, 5, 6})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	err = idx.Add(3, []float32{float32(math.NaN()), 0, 0})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	err = idx.Add(4, []float32{float32(math.Inf(1)), 0, 0})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	assert.Equal(t, 1, idx.Len())
}

func TestFlatSearchThreeDistances(t *testing.T) {
	idx := newTestFlat(t, 2, MetricL2)
	require.NoError(t, idx.Add(30, []float32{2, 0}))
	require.NoError(t, idx.Add(10, []float32{0, 0}))
	require.NoError(t, idx.Add(20, []float32{0, 1}))

	hits, err := idx.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{ID: 10, Distance: 0}, hits[0])
	assert.Equal(t, Hit{ID: 20, Distance: 1}, hits[1])
}

func TestFlatSearchErrors(t *testing.T) {
	idx := newTestFlat(t, 2, MetricL2)
	require.NoError(t, idx.Add(1, []float32{0, 0}))

	_, err := idx.Search([]float32{0, 0, 0}, 1)
	assert.ErrorIs(t, err, errdefs.ErrDimensionMismatch)

	_, err = idx.Search([]float32{0, 0}, 0)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = idx.Search([]float32{0, 0}, -3)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestFlatSearchEmptyIndex(t *testing.T) {
	idx := newTestFlat(t, 2, MetricL2)

	hits, err := idx.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestFlatSearchClampsK(t *testing.T) {
	idx := newTestFlat(t, 2, MetricL2)
	require.NoError(t, idx.Add(1, []float32{0, 0}))
	require.NoError(t, idx.Add(2, []float32{1, 1}))

	hits, err := idx.Search([]float32{0, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestFlatSearchOrderingAndSelfSimilarity(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	idx := newTestFlat(t, 16, MetricL2)

	vectors := make(map[int64][]float32)
	for id := int64(1); id <= 200; id++ {
		v := randomVector(r, 16)
		vectors[id] = v
		require.NoError(t, idx.Add(id, v))
	}

	for _, id := range []int64{1, 57, 200} {
		hits, err := idx.Search(vectors[id], 10)
		require.NoError(t, err)
		require.Len(t, hits, 10)

		assert.Equal(t, id, hits[0].ID)
		assert.Equal(t, float32(0), hits[0].Distance)

		for i := 1; i < len(hits); i++ {
			assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
		}
	}
}

func TestFlatSearchTiesFollowInsertionOrder(t *testing.T) {
	idx := newTestFlat(t, 1, MetricL2)
	require.NoError(t, idx.Add(9, []float32{1}))
	require.NoError(t, idx.Add(3, []float32{-1}))
	require.NoError(t, idx.Add(5, []float32{1}))

	for i := 0; i < 5; i++ {
		hits, err := idx.Search([]float32{0}, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{9, 3, 5}, hitIDs(hits))
	}
}

func TestFlatParallelMatchesSerial(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	serial := newTestFlat(t, 8, MetricL2)
	parallel := newTestFlat(t, 8, MetricL2)
	parallel.SetShardSize(37)

	for id := int64(0); id < 1000; id++ {
		v := randomVector(r, 8)
		require.NoError(t, serial.Add(id, v))
		require.NoError(t, parallel.Add(id, v))
	}

	for i := 0; i < 10; i++ {
		q := randomVector(r, 8)
		want, err := serial.Search(q, 25)
		require.NoError(t, err)
		got, err := parallel.Search(q, 25)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFlatCosineNormalizes(t *testing.T) {
	idx := newTestFlat(t, 2, MetricCosine)
	require.NoError(t, idx.Add(1, []float32{10, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 3}))

	stored, ok := idx.Vector(1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, stored[0], 1e-6)

	// Magnitude is irrelevant under cosine.
	hits, err := idx.Search([]float32{0.5, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.InDelta(t, math.Sqrt2, hits[1].Distance, 1e-6)
}

func TestFlatVector(t *testing.T) {
	idx := newTestFlat(t, 2, MetricL2)
	require.NoError(t, idx.Add(7, []float32{1, 2}))

	v, ok := idx.Vector(7)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	// Returned slices are copies.
	v[0] = 99
	again, _ := idx.Vector(7)
	assert.Equal(t, float32(1), again[0])

	_, ok = idx.Vector(8)
	assert.False(t, ok)
}

func TestFlatEach(t *testing.T) {
	idx := newTestFlat(t, 1, MetricL2)
	for _, id := range []int64{4, 2, 8} {
		require.NoError(t, idx.Add(id, []float32{float32(id)}))
	}

	var ids []int64
	require.NoError(t, idx.Each(func(id int64, v []float32) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []int64{4, 2, 8}, ids)
}

func TestFlatConcurrentSearch(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	idx := newTestFlat(t, 8, MetricL2)
	for id := int64(0); id < 300; id++ {
		require.NoError(t, idx.Add(id, randomVector(r, 8)))
	}
	q := randomVector(r, 8)
	want, err := idx.Search(q, 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Search(q, 5)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func hitIDs(hits []Hit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}
