// Package index holds the knowledge-base vector index: an exact, in-memory
// flat index whose positions line up with the documents file. It reads and
// writes the FAISS flat serialization so indexes built by other tooling load
// unchanged.
package index

import (
	"context"
	"fmt"
	"sort"
)

// Metric selects how vectors are compared. The values match FAISS metric_type.
type Metric int32

const (
	// MetricInnerProduct ranks by descending dot product.
	MetricInnerProduct Metric = 0
	// MetricL2 ranks by ascending squared Euclidean distance.
	MetricL2 Metric = 1
)

// String implements fmt.Stringer.
func (m Metric) String() string {
	switch m {
	case MetricInnerProduct:
		return "inner_product"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("metric(%d)", int32(m))
	}
}

// FlatIndex is an exact brute-force index. It is not safe to Add while
// searching; once loaded it is read-only and safe for concurrent Search.
type FlatIndex struct {
	dim    int
	metric Metric
	// data holds all vectors back to back; vector i is data[i*dim:(i+1)*dim].
	data []float32
}

// NewFlat returns an empty index of dimension dim.
func NewFlat(dim int, metric Metric) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}
	if metric != MetricL2 && metric != MetricInnerProduct {
		return nil, fmt.Errorf("index: unsupported metric %s", metric)
	}
	return &FlatIndex{dim: dim, metric: metric}, nil
}

// Dim returns the vector dimension.
func (x *FlatIndex) Dim() int { return x.dim }

// Metric returns the comparison metric.
func (x *FlatIndex) Metric() Metric { return x.metric }

// Len returns the number of stored vectors.
func (x *FlatIndex) Len() int { return len(x.data) / x.dim }

// Add appends vectors; the first added vector takes position Len().
func (x *FlatIndex) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("index: vector %d has dimension %d, index has %d", i, len(v), x.dim)
		}
	}
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	return nil
}

// Vector returns the stored vector at position i.
func (x *FlatIndex) Vector(i int) []float32 {
	return x.data[i*x.dim : (i+1)*x.dim]
}

// Search returns up to k positions ordered best-first. Ties keep insertion
// order so results are deterministic.
func (x *FlatIndex) Search(_ context.Context, query []float32, k int) ([]int64, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("index: query dimension %d does not match index dimension %d", len(query), x.dim)
	}
	n := x.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float32
	}
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		v := x.Vector(i)
		var s float32
		if x.metric == MetricL2 {
			for j := range v {
				d := v[j] - query[j]
				s += d * d
			}
		} else {
			for j := range v {
				s += v[j] * query[j]
			}
		}
		all[i] = scored{pos: i, score: s}
	}

	if x.metric == MetricL2 {
		sort.SliceStable(all, func(a, b int) bool { return all[a].score < all[b].score })
	} else {
		sort.SliceStable(all, func(a, b int) bool { return all[a].score > all[b].score })
	}

	if k > n {
		k = n
	}
	out := make([]int64, k)
	for i := 0; i < k; i++ {
		out[i] = int64(all[i].pos)
	}
	return out, nil
}
