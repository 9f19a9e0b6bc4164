// Package vecindex provides exact nearest-neighbour search over fixed-dimension
// embeddings keyed by externally assigned int64 IDs.
package vecindex

import (
	"fmt"
	"math"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

// Metric selects how distances are computed.
type Metric string

const (
	// MetricL2 ranks by Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine ranks by Euclidean distance between unit-normalized vectors.
	MetricCosine Metric = "cosine"
)

// ParseMetric validates a metric name. The empty string selects l2.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricL2:
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", errdefs.ErrInvalidArgument, s)
	}
}

// Hit is a single search result.
type Hit struct {
	ID       int64
	Distance float32
}

// Index is the read side of a vector index.
type Index interface {
	Dimension() int
	Metric() Metric
	Len() int

	// Search returns at most k hits ordered by ascending distance.
	Search(query []float32, k int) ([]Hit, error)

	// Vector returns the stored embedding for id.
	Vector(id int64) ([]float32, bool)
}

// Writer is implemented by indexes that accept new vectors.
type Writer interface {
	Add(id int64, embedding []float32) error
}

// Scanner enumerates every stored vector in ID-assignment order.
type Scanner interface {
	Each(fn func(id int64, embedding []float32) error) error
}

func checkDimension(dim int, v []float32) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", errdefs.ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

func checkK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", errdefs.ErrInvalidArgument, k)
	}
	return nil
}

func checkFinite(v []float32) error {
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: component %d is not finite", errdefs.ErrInvalidArgument, i)
		}
	}
	return nil
}

// normalized returns a unit-length copy of v. A zero vector is returned unchanged.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

// prepare applies the metric's query/insert transform.
func prepare(metric Metric, v []float32) []float32 {
	if metric == MetricCosine {
		return normalized(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func l2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
