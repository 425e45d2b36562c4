package model

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// RandomForest averages the probabilities of bootstrapped gini trees, each split considering
// sqrt(features) randomly chosen features.
type RandomForest struct {
	Estimators  int
	MaxDepth    int
	ClassWeight ClassWeight
	Seed        uint64

	trees    []*Tree
	features int
}

func NewRandomForest(estimators int, classWeight ClassWeight, seed uint64) *RandomForest {
	return &RandomForest{Estimators: estimators, ClassWeight: classWeight, Seed: seed}
}

func (f *RandomForest) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("RandomForest.Fit", x, y); err != nil {
		return err
	}
	if f.Estimators < 1 {
		return fmt.Errorf("RandomForest.Fit: at least one estimator required, got %d", f.Estimators)
	}
	n, c := x.Dims()
	cols := columns(x)
	base := f.ClassWeight.SampleWeights(y)
	config := TreeConfig{
		MaxDepth:    f.MaxDepth,
		MaxFeatures: int(math.Max(1, math.Floor(math.Sqrt(float64(c))))),
		Criterion:   Gini,
	}

	// seeds are drawn up front so the result does not depend on goroutine scheduling
	seeds := make([]uint64, f.Estimators)
	rnd := rand.New(rand.NewSource(f.Seed))
	for i := range seeds {
		seeds[i] = rnd.Uint64()
	}

	trees := make([]*Tree, f.Estimators)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			treeRnd := rand.New(rand.NewSource(seeds[i]))
			counts := make([]float64, n)
			for k := 0; k < n; k++ {
				counts[treeRnd.Intn(n)]++
			}
			w := make([]float64, n)
			samples := make([]int, 0, n)
			for j, count := range counts {
				if count > 0 {
					samples = append(samples, j)
					w[j] = count * base[j]
				}
			}
			trees[i] = growTree(cols, y, w, samples, config, treeRnd, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	f.features = c
	return nil
}

func (f *RandomForest) PredictProba(x mat.Matrix) ([]float64, error) {
	if err := checkPredict("RandomForest.PredictProba", x, f.features); err != nil {
		return nil, err
	}
	data := rows(x)
	result := make([]float64, len(data))
	for i, row := range data {
		var sum float64
		for _, t := range f.trees {
			sum += t.value(row)
		}
		result[i] = sum / float64(len(f.trees))
	}
	return result, nil
}

func (f *RandomForest) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}

// FeatureImportances is the normalized mean of the per-tree normalized importances.
func (f *RandomForest) FeatureImportances() []float64 {
	if len(f.trees) == 0 {
		return nil
	}
	sum := make([]float64, f.features)
	for _, t := range f.trees {
		for j, v := range t.normalizedImportances() {
			sum[j] += v
		}
	}
	return normalize(sum)
}
