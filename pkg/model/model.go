package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier is the capability shared by every model in the roster. Labels are 0 (negative) and
// 1 (positive). PredictProba returns the positive-class probability per row, or a nil slice for
// models without probability output.
type Classifier interface {
	Fit(x mat.Matrix, y []float64) error
	Predict(x mat.Matrix) ([]float64, error)
	PredictProba(x mat.Matrix) ([]float64, error)
}

// FeatureImportancer is implemented by models that expose a per-feature importance (impurity
// reduction for trees, absolute coefficient for linear models).
type FeatureImportancer interface {
	FeatureImportances() []float64
}

// ClassWeight selects the per-sample weighting applied when fitting.
type ClassWeight int

const (
	Uniform ClassWeight = iota
	Balanced
)

// SampleWeights returns one weight per row. Balanced weights follow n_samples / (n_classes * count).
func (c ClassWeight) SampleWeights(y []float64) []float64 {
	w := make([]float64, len(y))
	if c != Balanced {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	var positives float64
	for _, v := range y {
		positives += v
	}
	negatives := float64(len(y)) - positives
	n := float64(len(y))
	for i, v := range y {
		if v == 1 {
			w[i] = n / (2 * positives)
		} else {
			w[i] = n / (2 * negatives)
		}
	}
	return w
}

func checkFit(op string, x mat.Matrix, y []float64) error {
	r, c := x.Dims()
	if r != len(y) {
		return NewShapeMismatchError(op, r, len(y), "labels")
	}
	if r == 0 || c == 0 {
		return NewShapeMismatchError(op, 1, 0, "rows and features")
	}
	return nil
}

func checkPredict(op string, x mat.Matrix, features int) error {
	if features == 0 {
		return &Error{Kind: ShapeMismatch, Op: op, Message: "model is not fitted"}
	}
	if _, c := x.Dims(); c != features {
		return NewShapeMismatchError(op, features, c, "features")
	}
	return nil
}

// rows copies x into one slice per row
func rows(x mat.Matrix) [][]float64 {
	r, c := x.Dims()
	data := make([]float64, r*c)
	result := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := data[i*c : (i+1)*c : (i+1)*c]
		mat.Row(row, i, x)
		result[i] = row
	}
	return result
}

// columns copies x into one slice per column
func columns(x mat.Matrix) [][]float64 {
	_, c := x.Dims()
	result := make([][]float64, c)
	for j := range result {
		result[j] = mat.Col(nil, j, x)
	}
	return result
}

func threshold(proba []float64) []float64 {
	result := make([]float64, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			result[i] = 1
		}
	}
	return result
}
