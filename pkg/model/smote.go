package model

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const DefaultSMOTENeighbors = 5

// SMOTE oversamples the minority class by interpolating between minority rows and their nearest
// minority neighbours. It must only ever see the training partition.
type SMOTE struct {
	Neighbors int
	Seed      uint64
}

// Resample returns the original rows followed by synthetic minority rows, with both classes of
// equal size. A minority class with fewer than Neighbors+1 rows is a DataQuality error.
func (s SMOTE) Resample(x mat.Matrix, y []float64) (*mat.Dense, []float64, error) {
	if err := checkFit("SMOTE.Resample", x, y); err != nil {
		return nil, nil, err
	}
	if s.Neighbors < 1 {
		return nil, nil, fmt.Errorf("invalid neighbour count %d", s.Neighbors)
	}

	data := rows(x)
	var positives, negatives []int
	for i, v := range y {
		if v == 1 {
			positives = append(positives, i)
		} else {
			negatives = append(negatives, i)
		}
	}
	minority, minorityLabel := positives, 1.0
	majority := negatives
	if len(negatives) < len(positives) {
		minority, minorityLabel = negatives, 0.0
		majority = positives
	}

	r, c := x.Dims()
	missing := len(majority) - len(minority)
	if missing == 0 {
		return mat.DenseCopyOf(x), append([]float64(nil), y...), nil
	}
	if len(minority) < s.Neighbors+1 {
		return nil, nil, NewDataQualityError("SMOTE.Resample", "",
			fmt.Sprintf("minority class has %d rows, at least %d required for %d neighbours",
				len(minority), s.Neighbors+1, s.Neighbors))
	}

	minorityPoints := make([][]float64, len(minority))
	for i, index := range minority {
		minorityPoints[i] = data[index]
	}
	neighbors := make([][]int, len(minority))
	for i, p := range minorityPoints {
		neighbors[i] = nearest(minorityPoints, p, s.Neighbors, i)
	}

	rnd := rand.New(rand.NewSource(s.Seed))
	order := rnd.Perm(len(minority))

	result := mat.NewDense(r+missing, c, nil)
	result.Slice(0, r, 0, c).(*mat.Dense).Copy(x)
	labels := make([]float64, r+missing)
	copy(labels, y)

	synthetic := make([]float64, c)
	for n := 0; n < missing; n++ {
		base := order[n%len(order)]
		other := minorityPoints[neighbors[base][rnd.Intn(s.Neighbors)]]
		step := rnd.Float64()
		for step == 0 {
			step = rnd.Float64()
		}
		for j := range synthetic {
			p := minorityPoints[base][j]
			synthetic[j] = p + step*(other[j]-p)
		}
		result.SetRow(r+n, synthetic)
		labels[r+n] = minorityLabel
	}
	return result, labels, nil
}
