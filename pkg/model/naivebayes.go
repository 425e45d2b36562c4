package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GaussianNB models every feature as an independent normal per class. VarSmoothing times the
// largest feature variance is added to every class variance.
type GaussianNB struct {
	VarSmoothing float64

	logPriors [2]float64
	means     [2][]float64
	variances [2][]float64
	features  int
}

func NewGaussianNB(varSmoothing float64) *GaussianNB {
	return &GaussianNB{VarSmoothing: varSmoothing}
}

func (nb *GaussianNB) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("GaussianNB.Fit", x, y); err != nil {
		return err
	}
	n, c := x.Dims()
	cols := columns(x)

	var epsilon float64
	for _, col := range cols {
		_, v := stat.PopMeanVariance(col, nil)
		epsilon = math.Max(epsilon, v)
	}
	epsilon *= nb.VarSmoothing

	var counts [2]float64
	for _, v := range y {
		counts[int(v)]++
	}
	for class := 0; class < 2; class++ {
		nb.logPriors[class] = math.Log(counts[class] / float64(n))
		nb.means[class] = make([]float64, c)
		nb.variances[class] = make([]float64, c)
		if counts[class] == 0 {
			continue
		}
		values := make([]float64, 0, int(counts[class]))
		for j, col := range cols {
			values = values[:0]
			for i, v := range col {
				if int(y[i]) == class {
					values = append(values, v)
				}
			}
			mean, variance := stat.PopMeanVariance(values, nil)
			nb.means[class][j] = mean
			nb.variances[class][j] = variance + epsilon
		}
	}
	nb.features = c
	return nil
}

func (nb *GaussianNB) PredictProba(x mat.Matrix) ([]float64, error) {
	if err := checkPredict("GaussianNB.PredictProba", x, nb.features); err != nil {
		return nil, err
	}
	data := rows(x)
	result := make([]float64, len(data))
	jll := make([]float64, 2)
	for i, row := range data {
		for class := 0; class < 2; class++ {
			jll[class] = nb.jointLogLikelihood(class, row)
		}
		result[i] = math.Exp(jll[1] - floats.LogSumExp(jll))
	}
	return result, nil
}

func (nb *GaussianNB) jointLogLikelihood(class int, row []float64) float64 {
	if math.IsInf(nb.logPriors[class], -1) {
		return math.Inf(-1)
	}
	ll := nb.logPriors[class]
	for j, v := range row {
		variance := nb.variances[class][j]
		d := v - nb.means[class][j]
		ll -= 0.5 * (math.Log(2*math.Pi*variance) + d*d/variance)
	}
	return ll
}

func (nb *GaussianNB) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := nb.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}
