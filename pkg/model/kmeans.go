package model

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// KMeans partitions rows into Clusters groups with Lloyd iterations started from k-means++ seeds.
// The restart with the lowest inertia is kept.
type KMeans struct {
	Clusters int
	Restarts int
	MaxIter  int
	// Tolerance on the total squared centroid shift, relative to the mean feature variance
	Tolerance float64
	Seed      uint64

	Centroids  [][]float64
	Labels     []int
	Inertia    float64
	Iterations int
}

func NewKMeans(clusters int, seed uint64) *KMeans {
	return &KMeans{Clusters: clusters, Restarts: 10, MaxIter: 300, Tolerance: 1e-4, Seed: seed}
}

type kmeansRun struct {
	centroids  [][]float64
	labels     []int
	inertia    float64
	iterations int
}

func (k *KMeans) Fit(x mat.Matrix) error {
	n, c := x.Dims()
	if n == 0 || c == 0 {
		return NewShapeMismatchError("KMeans.Fit", 1, 0, "rows and features")
	}
	if k.Clusters < 1 || k.Restarts < 1 || k.MaxIter < 1 {
		return fmt.Errorf("KMeans.Fit: invalid settings, clusters %d restarts %d max iterations %d", k.Clusters, k.Restarts, k.MaxIter)
	}
	if n < k.Clusters {
		return NewDataQualityError("KMeans.Fit", "", fmt.Sprintf("%d rows cannot form %d clusters", n, k.Clusters))
	}

	points := rows(x)
	var variance float64
	for _, col := range columns(x) {
		variance += stat.PopVariance(col, nil)
	}
	tol := k.Tolerance * variance / float64(c)

	seeds := make([]uint64, k.Restarts)
	rnd := rand.New(rand.NewSource(k.Seed))
	for i := range seeds {
		seeds[i] = rnd.Uint64()
	}

	runs := make([]kmeansRun, k.Restarts)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range runs {
		g.Go(func() error {
			runs[i] = k.run(points, tol, rand.New(rand.NewSource(seeds[i])))
			return nil
		})
	}
	_ = g.Wait()

	best := 0
	for i := range runs {
		if runs[i].inertia < runs[best].inertia {
			best = i
		}
	}
	k.Centroids = runs[best].centroids
	k.Labels = runs[best].labels
	k.Inertia = runs[best].inertia
	k.Iterations = runs[best].iterations
	return nil
}

func (k *KMeans) run(points [][]float64, tol float64, rnd *rand.Rand) kmeansRun {
	centroids := seedCentroids(points, k.Clusters, rnd)
	labels := make([]int, len(points))
	distances := make([]float64, len(points))
	iterations := 0
	for iterations < k.MaxIter {
		iterations++
		assign(points, centroids, labels, distances)
		updated := updateCentroids(points, labels, distances, len(centroids))
		var shift float64
		for j := range centroids {
			d := floats.Distance(centroids[j], updated[j], 2)
			shift += d * d
		}
		centroids = updated
		if shift <= tol {
			break
		}
	}
	inertia := assign(points, centroids, labels, distances)
	return kmeansRun{centroids: centroids, labels: labels, inertia: inertia, iterations: iterations}
}

// seedCentroids picks the first centroid uniformly and every further one with probability
// proportional to its squared distance from the closest centroid chosen so far.
func seedCentroids(points [][]float64, clusters int, rnd *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, clusters)
	centroids = append(centroids, append([]float64(nil), points[rnd.Intn(len(points))]...))
	closest := make([]float64, len(points))
	for i, p := range points {
		closest[i] = squaredDistance(p, centroids[0])
	}
	for len(centroids) < clusters {
		next := rnd.Intn(len(points))
		if total := floats.Sum(closest); total > 0 {
			target := rnd.Float64() * total
			for i, d := range closest {
				target -= d
				if target < 0 {
					next = i
					break
				}
			}
		}
		centroid := append([]float64(nil), points[next]...)
		centroids = append(centroids, centroid)
		for i, p := range points {
			closest[i] = math.Min(closest[i], squaredDistance(p, centroid))
		}
	}
	return centroids
}

// assign labels every point with its nearest centroid, lowest index on ties, and returns the
// inertia.
func assign(points, centroids [][]float64, labels []int, distances []float64) float64 {
	var inertia float64
	for i, p := range points {
		best, bestDistance := 0, math.Inf(1)
		for j, c := range centroids {
			if d := squaredDistance(p, c); d < bestDistance {
				best, bestDistance = j, d
			}
		}
		labels[i] = best
		distances[i] = bestDistance
		inertia += bestDistance
	}
	return inertia
}

// updateCentroids moves every centroid to the mean of its points. An empty cluster takes the point
// farthest from its current centroid.
func updateCentroids(points [][]float64, labels []int, distances []float64, clusters int) [][]float64 {
	features := len(points[0])
	sums := make([][]float64, clusters)
	counts := make([]int, clusters)
	for j := range sums {
		sums[j] = make([]float64, features)
	}
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}

	taken := map[int]bool{}
	for j := range sums {
		if counts[j] > 0 {
			floats.Scale(1/float64(counts[j]), sums[j])
			continue
		}
		farthest := -1
		for i, d := range distances {
			if !taken[i] && (farthest < 0 || d > distances[farthest]) {
				farthest = i
			}
		}
		taken[farthest] = true
		copy(sums[j], points[farthest])
	}
	return sums
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
