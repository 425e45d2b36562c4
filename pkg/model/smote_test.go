package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func imbalanced(n, positives int) (*mat.Dense, []float64) {
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, float64(i*i%17))
		if i < positives {
			y[i] = 1
		}
	}
	return x, y
}

func TestSMOTE_Balances(t *testing.T) {
	x, y := imbalanced(100, 12)
	bx, by, err := SMOTE{Neighbors: 5, Seed: 42}.Resample(x, y)
	require.NoError(t, err)

	r, c := bx.Dims()
	require.Equal(t, 176, r)
	require.Equal(t, 2, c)
	require.Equal(t, r, len(by))

	var positives float64
	for _, v := range by {
		positives += v
	}
	require.Equal(t, 88.0, positives)

	// original rows come first, unchanged
	require.Equal(t, y, by[:100])
	require.True(t, mat.Equal(x, bx.Slice(0, 100, 0, 2)))

	original := map[[2]float64]bool{}
	for i := 0; i < 100; i++ {
		original[[2]float64{x.At(i, 0), x.At(i, 1)}] = true
	}
	for i := 100; i < r; i++ {
		row := [2]float64{bx.At(i, 0), bx.At(i, 1)}
		require.False(t, original[row], "synthetic row %d duplicates %v", i, row)
		// synthetic points stay inside the minority range
		require.True(t, row[0] >= 0 && row[0] <= 11)
	}
}

func TestSMOTE_Deterministic(t *testing.T) {
	x, y := imbalanced(60, 10)
	a, _, err := SMOTE{Neighbors: 3, Seed: 7}.Resample(x, y)
	require.NoError(t, err)
	b, _, err := SMOTE{Neighbors: 3, Seed: 7}.Resample(x, y)
	require.NoError(t, err)
	require.True(t, mat.Equal(a, b))
}

func TestSMOTE_InsufficientMinority(t *testing.T) {
	x, y := imbalanced(50, 5)
	_, _, err := SMOTE{Neighbors: 5, Seed: 1}.Resample(x, y)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDataQuality))

	_, _, err = SMOTE{Neighbors: 4, Seed: 1}.Resample(x, y)
	require.NoError(t, err)
}

func TestSMOTE_AlreadyBalanced(t *testing.T) {
	x, _ := imbalanced(10, 0)
	y := []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	bx, by, err := SMOTE{Neighbors: 5, Seed: 1}.Resample(x, y)
	require.NoError(t, err)
	require.Equal(t, y, by)
	require.True(t, mat.Equal(x, bx))
}

func TestScaler(t *testing.T) {
	train := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})
	s, err := FitScaler(train, []string{"a", "b"})
	require.NoError(t, err)

	scaled, err := s.Transform(train)
	require.NoError(t, err)
	for j := 0; j < 2; j++ {
		mean, variance := stat.PopMeanVariance(mat.Col(nil, j, scaled), nil)
		require.InDelta(t, 0.0, mean, 1e-12)
		require.InDelta(t, 1.0, variance, 1e-12)
	}

	holdout, err := s.Transform(mat.NewDense(1, 2, []float64{2.5, 100}))
	require.NoError(t, err)
	require.InDelta(t, 0.0, holdout.At(0, 0), 1e-12)
	require.Greater(t, holdout.At(0, 1), 1.0)

	_, err = s.Transform(mat.NewDense(1, 3, nil))
	require.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestScaler_ZeroVariance(t *testing.T) {
	train := mat.NewDense(3, 2, []float64{1, 5, 2, 5, 3, 5})
	_, err := FitScaler(train, []string{"age", "nr.employed"})
	require.True(t, errors.Is(err, ErrDataQuality))

	var modelErr *Error
	require.True(t, errors.As(err, &modelErr))
	require.Equal(t, "nr.employed", modelErr.Column)
	require.Contains(t, err.Error(), "DataQualityError")
}
