package pkg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/model"
)

// fixedClassifier returns the same precomputed outputs for any input with the right shape.
type fixedClassifier struct {
	proba []float64
}

func (f fixedClassifier) Fit(x mat.Matrix, y []float64) error { return nil }

func (f fixedClassifier) PredictProba(x mat.Matrix) ([]float64, error) {
	if r, _ := x.Dims(); r != len(f.proba) {
		return nil, model.NewShapeMismatchError("fixedClassifier", len(f.proba), r, "rows")
	}
	return f.proba, nil
}

func (f fixedClassifier) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			result[i] = 1
		}
	}
	return result, nil
}

func TestEvaluate_ZeroDivision(t *testing.T) {
	y := []float64{0, 1, 0, 0, 1}
	x := mat.NewDense(5, 1, nil)
	e, err := Evaluate("all negative", fixedClassifier{proba: []float64{0.1, 0.1, 0.1, 0.1, 0.1}}, x, y)
	require.NoError(t, err)

	assert.Equal(t, 0.0, e.Metrics.Precision)
	assert.Equal(t, 0.0, e.Metrics.Recall)
	assert.Equal(t, 0.0, e.Metrics.F1)
	assert.InDelta(t, 0.6, e.Metrics.Accuracy, 1e-12)
	require.NotNil(t, e.Metrics.ROCAUC)
	assert.InDelta(t, 0.5, *e.Metrics.ROCAUC, 1e-12)
	assert.InDelta(t, 0.4, *e.Metrics.AveragePrecision, 1e-12)

	assert.Equal(t, [2][2]int{{3, 0}, {2, 0}}, e.Confusion.Counts)
	assert.Equal(t, [2][2]float64{{100, 0}, {100, 0}}, e.Confusion.Percentages)
}

func TestEvaluate_Curves(t *testing.T) {
	y := []float64{0, 0, 1, 1}
	x := mat.NewDense(4, 1, nil)
	e, err := Evaluate("m", fixedClassifier{proba: []float64{0.1, 0.4, 0.35, 0.8}}, x, y)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, *e.Metrics.ROCAUC, 1e-12)
	assert.InDelta(t, 0.5+0.5*2.0/3.0, *e.Metrics.AveragePrecision, 1e-12)

	first, last := e.ROC[0], e.ROC[len(e.ROC)-1]
	assert.Equal(t, 0.0, first.FPR)
	assert.Equal(t, 0.0, first.TPR)
	assert.Nil(t, first.Threshold)
	assert.Equal(t, 1.0, last.FPR)
	assert.Equal(t, 1.0, last.TPR)

	// origin plus one point per distinct probability
	require.Equal(t, 5, len(e.PR))
	assert.Nil(t, e.PR[0].Threshold)
	assert.Equal(t, 1.0, e.PR[0].Precision)
	assert.Equal(t, 0.8, *e.PR[1].Threshold)
	assert.Equal(t, 1.0, e.PR[1].Precision)
	assert.Equal(t, 0.5, e.PR[1].Recall)
	for i := 1; i < len(e.PR); i++ {
		assert.GreaterOrEqual(t, e.PR[i].Recall, e.PR[i-1].Recall)
	}

	// only 0.8 is above the decision threshold
	assert.Equal(t, 1.0, e.Metrics.Precision)
	assert.Equal(t, 0.5, e.Metrics.Recall)
	assert.Equal(t, [2][2]int{{2, 0}, {1, 1}}, e.Confusion.Counts)
	assert.Equal(t, [2][2]float64{{100, 0}, {50, 50}}, e.Confusion.Percentages)
}

func TestEvaluate_SingleClassHoldout(t *testing.T) {
	e, err := Evaluate("m", fixedClassifier{proba: []float64{0.2, 0.9}}, mat.NewDense(2, 1, nil), []float64{0, 0})
	require.NoError(t, err)
	assert.Nil(t, e.Metrics.ROCAUC)
	assert.Nil(t, e.Metrics.AveragePrecision)
	assert.Empty(t, e.ROC)
}

func TestEvaluate_ShapeMismatch(t *testing.T) {
	_, err := Evaluate("m", fixedClassifier{proba: []float64{0.2}}, mat.NewDense(2, 1, nil), []float64{0, 1})
	require.True(t, errors.Is(err, model.ErrShapeMismatch))
}

func TestRankByF1(t *testing.T) {
	evaluations := []*Evaluation{
		{Name: "a", Metrics: Metrics{F1: 0.5}},
		failedEvaluation("b", errors.New("boom")),
		{Name: "c", Metrics: Metrics{F1: 0.7}},
		{Name: "d", Metrics: Metrics{F1: 0.5}},
		{Name: "e", Metrics: Metrics{F1: 0.0}},
	}
	var names []string
	for _, e := range RankByF1(evaluations) {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"c", "a", "d", "e", "b"}, names)
	// input is untouched
	require.Equal(t, "a", evaluations[0].Name)
}
