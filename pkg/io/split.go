package io

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/model"
)

// Split is a stratified train/test partition with features standardized by a scaler fit on the
// training rows only.
type Split struct {
	XTrain     *mat.Dense
	XTest      *mat.Dense
	YTrain     []float64
	YTest      []float64
	Names      []string
	TrainIndex []int
	TestIndex  []int
	Scaler     *model.Scaler
}

// StratifiedSplit sends round(testFraction * n) rows of each class to the holdout partition. The
// partition depends only on the labels and the seed.
func StratifiedSplit(fm *FeatureMatrix, testFraction float64, seed uint64) (*Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, fmt.Errorf("test fraction %v is not in (0, 1)", testFraction)
	}
	if r := fm.NumRows(); r != len(fm.Y) {
		return nil, model.NewShapeMismatchError("StratifiedSplit", r, len(fm.Y), "labels")
	}

	byClass := map[float64][]int{}
	for i, v := range fm.Y {
		byClass[v] = append(byClass[v], i)
	}
	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	rnd := rand.New(rand.NewSource(seed))
	var trainIndex, testIndex []int
	for _, c := range classes {
		indices := byClass[c]
		rnd.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		n := int(math.Round(testFraction * float64(len(indices))))
		testIndex = append(testIndex, indices[:n]...)
		trainIndex = append(trainIndex, indices[n:]...)
	}
	if len(trainIndex) == 0 || len(testIndex) == 0 {
		return nil, model.NewDataQualityError("StratifiedSplit", TargetColumn,
			fmt.Sprintf("split leaves %d training and %d holdout rows", len(trainIndex), len(testIndex)))
	}
	sort.Ints(trainIndex)
	sort.Ints(testIndex)

	xTrain, yTrain := selectRows(fm, trainIndex)
	xTest, yTest := selectRows(fm, testIndex)

	scaler, err := model.FitScaler(xTrain, fm.Names)
	if err != nil {
		return nil, err
	}
	scaledTrain, err := scaler.Transform(xTrain)
	if err != nil {
		return nil, err
	}
	scaledTest, err := scaler.Transform(xTest)
	if err != nil {
		return nil, err
	}

	return &Split{
		XTrain:     scaledTrain,
		XTest:      scaledTest,
		YTrain:     yTrain,
		YTest:      yTest,
		Names:      fm.Names,
		TrainIndex: trainIndex,
		TestIndex:  testIndex,
		Scaler:     scaler,
	}, nil
}

func selectRows(fm *FeatureMatrix, indices []int) (*mat.Dense, []float64) {
	_, c := fm.X.Dims()
	x := mat.NewDense(len(indices), c, nil)
	y := make([]float64, len(indices))
	for i, idx := range indices {
		x.SetRow(i, fm.X.RawRowView(idx))
		y[i] = fm.Y[idx]
	}
	return x, y
}

// Fingerprint hashes the partition membership, equal fingerprints mean identical splits.
func (s *Split) Fingerprint() uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)
	write := func(indices []int) {
		for _, idx := range indices {
			binary.LittleEndian.PutUint64(buf, uint64(idx))
			_, _ = h.Write(buf)
		}
	}
	write(s.TrainIndex)
	binary.LittleEndian.PutUint64(buf, math.MaxUint64)
	_, _ = h.Write(buf)
	write(s.TestIndex)
	return h.Sum64()
}
