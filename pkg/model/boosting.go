package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// GradientBoosting fits shallow regression trees to the log-loss gradient, one stage at a time,
// starting from the prior log-odds. Leaf values take a single Newton step.
type GradientBoosting struct {
	Estimators   int
	LearningRate float64
	MaxDepth     int
	Seed         uint64

	init     float64
	trees    []*Tree
	features int
}

func NewGradientBoosting(estimators int, learningRate float64, maxDepth int, seed uint64) *GradientBoosting {
	return &GradientBoosting{
		Estimators:   estimators,
		LearningRate: learningRate,
		MaxDepth:     maxDepth,
		Seed:         seed,
	}
}

func (b *GradientBoosting) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("GradientBoosting.Fit", x, y); err != nil {
		return err
	}
	n, c := x.Dims()
	var positives float64
	for _, v := range y {
		positives += v
	}
	if positives == 0 || positives == float64(n) {
		return NewDataQualityError("GradientBoosting.Fit", "", "training labels contain a single class")
	}
	prior := positives / float64(n)
	b.init = math.Log(prior / (1 - prior))

	cols := columns(x)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	samples := allSamples(n)
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = b.init
	}
	residual := make([]float64, n)
	hessian := make([]float64, n)
	newtonStep := func(leaf []int, _ nodeStats) float64 {
		var num, den float64
		for _, i := range leaf {
			num += residual[i]
			den += hessian[i]
		}
		if math.Abs(den) < 1e-150 {
			return 0
		}
		return num / den
	}

	config := TreeConfig{MaxDepth: b.MaxDepth, Criterion: SquaredError}
	rnd := rand.New(rand.NewSource(b.Seed))
	b.trees = make([]*Tree, 0, b.Estimators)
	for m := 0; m < b.Estimators; m++ {
		for i := range raw {
			p := sigmoid(raw[i])
			residual[i] = y[i] - p
			hessian[i] = p * (1 - p)
		}
		tree := growTree(cols, residual, w, samples, config, rnd, newtonStep)
		for i := range raw {
			raw[i] += b.LearningRate * tree.valueAt(cols, i)
		}
		b.trees = append(b.trees, tree)
	}
	b.features = c
	return nil
}

func (b *GradientBoosting) PredictProba(x mat.Matrix) ([]float64, error) {
	if err := checkPredict("GradientBoosting.PredictProba", x, b.features); err != nil {
		return nil, err
	}
	data := rows(x)
	result := make([]float64, len(data))
	for i, row := range data {
		raw := b.init
		for _, t := range b.trees {
			raw += b.LearningRate * t.value(row)
		}
		result[i] = sigmoid(raw)
	}
	return result, nil
}

func (b *GradientBoosting) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := b.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}

// FeatureImportances sums the unnormalized stage importances and normalizes the total.
func (b *GradientBoosting) FeatureImportances() []float64 {
	if len(b.trees) == 0 {
		return nil
	}
	sum := make([]float64, b.features)
	for _, t := range b.trees {
		for j, v := range t.importances {
			sum[j] += v
		}
	}
	return normalize(sum)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
