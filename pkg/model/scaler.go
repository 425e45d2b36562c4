package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes every feature to zero mean and unit variance using parameters fit on the
// training partition only.
type Scaler struct {
	Features []string
	Means    []float64
	Scales   []float64
}

// FitScaler computes population mean and standard deviation per column. A column with zero
// variance cannot be scaled and is reported as a DataQuality error.
func FitScaler(x mat.Matrix, features []string) (*Scaler, error) {
	r, c := x.Dims()
	if len(features) != c {
		return nil, NewShapeMismatchError("FitScaler", c, len(features), "feature names")
	}
	if r == 0 {
		return nil, NewDataQualityError("FitScaler", "", "no training rows")
	}
	s := &Scaler{
		Features: features,
		Means:    make([]float64, c),
		Scales:   make([]float64, c),
	}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, variance := stat.PopMeanVariance(col, nil)
		if variance <= 0 || math.IsNaN(variance) {
			return nil, NewDataQualityError("FitScaler", features[j], "zero variance in training partition")
		}
		s.Means[j] = mean
		s.Scales[j] = math.Sqrt(variance)
	}
	return s, nil
}

func (s *Scaler) Transform(x mat.Matrix) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != len(s.Means) {
		return nil, NewShapeMismatchError("Scaler.Transform", len(s.Means), c, "features")
	}
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - s.Means[j]) / s.Scales[j]
	}, x)
	return result, nil
}
