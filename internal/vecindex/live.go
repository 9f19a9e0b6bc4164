package vecindex

import "sync/atomic"

// Live holds the index currently being served. Swapping in a new index does
// not disturb searches already running against the old one.
type Live struct {
	current atomic.Pointer[holder]
}

type holder struct {
	idx Index
}

// NewLive wraps idx.
func NewLive(idx Index) *Live {
	l := &Live{}
	l.current.Store(&holder{idx: idx})
	return l
}

// Current returns the index being served.
func (l *Live) Current() Index {
	return l.current.Load().idx
}

// Swap installs idx and returns the previous index.
func (l *Live) Swap(idx Index) Index {
	return l.current.Swap(&holder{idx: idx}).idx
}

func (l *Live) Dimension() int { return l.Current().Dimension() }

func (l *Live) Metric() Metric { return l.Current().Metric() }

func (l *Live) Len() int { return l.Current().Len() }

func (l *Live) Search(query []float32, k int) ([]Hit, error) {
	return l.Current().Search(query, k)
}

func (l *Live) Vector(id int64) ([]float32, bool) {
	return l.Current().Vector(id)
}

// Pin returns a stable view of idx: the current index when idx is a Live,
// otherwise idx itself.
func Pin(idx Index) Index {
	if l, ok := idx.(*Live); ok {
		return l.Current()
	}
	return idx
}
