package model

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

type neighbor struct {
	index    int
	distance float64
}

// nearest returns the indices of the k points closest to query in euclidean distance, nearest
// first. Ties are broken by the lower index. skip excludes one index (the query itself) and may be
// negative.
func nearest(points [][]float64, query []float64, k, skip int) []int {
	best := make([]neighbor, 0, k+1)
	for i, p := range points {
		if i == skip {
			continue
		}
		d := floats.Distance(p, query, 2)
		if len(best) == k && !closer(neighbor{i, d}, best[k-1]) {
			continue
		}
		pos := sort.Search(len(best), func(n int) bool {
			return closer(neighbor{i, d}, best[n])
		})
		if len(best) < k {
			best = append(best, neighbor{})
		}
		copy(best[pos+1:], best[pos:len(best)-1])
		best[pos] = neighbor{i, d}
	}
	result := make([]int, len(best))
	for i, n := range best {
		result[i] = n.index
	}
	return result
}

func closer(a, b neighbor) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.index < b.index
}
