package pkg

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/io"
	"campaignlens/pkg/model"
)

func syntheticTable(t *testing.T, rows, positives int, seed uint64) *io.RecordTable {
	raw, err := io.SyntheticTable(io.SyntheticParameters{Rows: rows, Positives: positives, Seed: seed})
	require.NoError(t, err)
	defer raw.Release()
	table, err := io.Clean(raw, nil)
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func TestPipeline_Deterministic(t *testing.T) {
	table := syntheticTable(t, 1000, 100, 42)
	config := DefaultConfig()

	run := func() *ModelingResult {
		dataset, err := PrepareDataset(table, config)
		require.NoError(t, err)
		result, err := RunPredictiveModeling(dataset.Split, config)
		require.NoError(t, err)
		return result
	}
	first := run()
	second := run()

	require.Equal(t, 6, len(first.Evaluations))
	require.NotEmpty(t, first.BestModel)
	require.Equal(t, first.BestModel, second.BestModel)
	require.Equal(t, first.SplitFingerprint, second.SplitFingerprint)
	require.NotEqual(t, first.RunID, second.RunID)
	require.InDelta(t, first.Best().Metrics.F1, second.Best().Metrics.F1, 1e-6)
	require.Equal(t, first.Ranking, second.Ranking)

	require.True(t, first.Balancing.Applied)
	require.Equal(t, first.Balancing.After[0], first.Balancing.After[1])
	require.Equal(t, [2]int{720, 80}, first.Balancing.Before)

	for _, e := range first.Evaluations {
		require.False(t, e.Failed(), e.Name)
		require.NotNil(t, e.Metrics.ROCAUC, e.Name)
		require.Equal(t, 200, len(e.Predictions), e.Name)
		// the synthetic signal is strong enough for every model to beat chance
		require.Greater(t, *e.Metrics.ROCAUC, 0.6, e.Name)
	}
	m, ok := first.Model(first.BestModel)
	require.True(t, ok)
	require.NotNil(t, m)
}

func TestRunPredictiveModeling_Subset(t *testing.T) {
	table := syntheticTable(t, 400, 60, 3)
	config := DefaultConfig()
	dataset, err := PrepareDataset(table, config)
	require.NoError(t, err)

	result, err := RunPredictiveModeling(dataset.Split, config, model.NaiveBayesName, model.LogisticRegressionName)
	require.NoError(t, err)
	require.Equal(t, 2, len(result.Evaluations))
	// roster order, not argument order
	require.Equal(t, model.LogisticRegressionName, result.Evaluations[0].Name)

	_, err = RunPredictiveModeling(dataset.Split, config, "SVM")
	require.Error(t, err)
}

// informativeSplit has one feature that separates the classes and four noise features.
func informativeSplit(t *testing.T) *io.Split {
	rnd := rand.New(rand.NewSource(11))
	n := 400
	x := mat.NewDense(n, 5, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		if i%4 == 0 {
			y[i] = 1
		}
		x.Set(i, 0, y[i]*4-2+rnd.NormFloat64()*0.3)
		for j := 1; j < 5; j++ {
			x.Set(i, j, rnd.NormFloat64())
		}
	}
	fm, err := io.NewFeatureMatrix(x, y, []string{"signal", "noise1", "noise2", "noise3", "noise4"})
	require.NoError(t, err)
	split, err := io.StratifiedSplit(fm, 0.25, 5)
	require.NoError(t, err)
	return split
}

func TestRunFeatureImportance_InformativeFirst(t *testing.T) {
	split := informativeSplit(t)
	config := DefaultConfig()
	config.PermutationImportance = true
	config.PermutationRepeats = 3
	config.Models.ForestEstimators = 30
	config.Models.BoostingEstimators = 30

	result, err := RunFeatureImportance(split, config)
	require.NoError(t, err)
	require.Equal(t, 4, len(result.Methods))
	require.True(t, result.Balancing.Applied)
	require.Equal(t, [2]int{225, 75}, result.Balancing.Before)
	require.Equal(t, [2]int{225, 225}, result.Balancing.After)

	for _, m := range result.Methods {
		var sum float64
		for _, s := range m.Scores {
			sum += s.Score
		}
		require.InDelta(t, 1.0, sum, 1e-9, m.Method)
		require.Equal(t, "signal", m.Scores[0].Feature, m.Method)
	}

	require.Equal(t, "signal", result.Aggregate[0].Feature)
	var total float64
	for _, s := range result.Aggregate {
		require.True(t, s.Score >= 0 && s.Score <= 1)
		total += s.Score
	}
	require.InDelta(t, 1.0, total, 1e-9)

	permutation, ok := result.Method(PermutationMethod)
	require.True(t, ok)
	require.Greater(t, permutation.Scores[0].Score, 0.8)
}

func TestAggregate(t *testing.T) {
	a, err := NewMethodImportance("a", []string{"x", "y", "z"}, []float64{2, 1, 1})
	require.NoError(t, err)
	b, err := NewMethodImportance("b", []string{"x", "y"}, []float64{1, 3})
	require.NoError(t, err)

	aggregate := Aggregate([]MethodImportance{a, b})
	require.Equal(t, []FeatureScore{
		{Feature: "y", Score: (0.25 + 0.75) / 2},
		{Feature: "x", Score: (0.5 + 0.25) / 2},
		{Feature: "z", Score: 0.25 / 2},
	}, aggregate)
	require.Nil(t, Aggregate(nil))
}

func TestNewMethodImportance(t *testing.T) {
	m, err := NewMethodImportance("permutation", []string{"a", "b", "c"}, []float64{-0.1, 0.3, 0.1})
	require.NoError(t, err)
	expected := []FeatureScore{{Feature: "b", Score: 0.75}, {Feature: "c", Score: 0.25}, {Feature: "a", Score: 0}}
	require.Equal(t, len(expected), len(m.Scores))
	for i, e := range expected {
		require.Equal(t, e.Feature, m.Scores[i].Feature)
		require.InDelta(t, e.Score, m.Scores[i].Score, 1e-12)
	}

	zero, err := NewMethodImportance("zero", []string{"b", "a"}, []float64{0, 0})
	require.NoError(t, err)
	require.Equal(t, "a", zero.Scores[0].Feature)
	require.Equal(t, 0.0, zero.Scores[0].Score)

	_, err = NewMethodImportance("bad", []string{"a"}, []float64{1, 2})
	require.True(t, errors.Is(err, model.ErrShapeMismatch))
}

type panickingClassifier struct{ fixedClassifier }

func (panickingClassifier) Fit(x mat.Matrix, y []float64) error {
	panic("diverged")
}

type failingClassifier struct{ fixedClassifier }

func (failingClassifier) Fit(x mat.Matrix, y []float64) error {
	return model.NewDataQualityError("Fit", "", "cannot fit")
}

func TestTrainAll_InvalidModelSettings(t *testing.T) {
	trainer := &Trainer{roster: []model.RosterEntry{
		{Name: "no trees", New: func() model.Classifier { return model.NewRandomForest(0, model.Balanced, 1) }},
		{Name: "no neighbours", New: func() model.Classifier { return model.NewKNearestNeighbors(0) }},
		{Name: "works", New: func() model.Classifier { return model.NewGaussianNB(1e-9) }},
	}}
	x := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	y := []float64{0, 0, 1, 1}

	trained, err := trainer.TrainAll(x, y)
	require.NoError(t, err)
	for _, tm := range trained[:2] {
		require.Error(t, tm.Err, tm.Name)
		require.False(t, errors.Is(tm.Err, model.ErrShapeMismatch), tm.Name)
	}
	require.NoError(t, trained[2].Err)
}

func TestHoldoutAccuracy(t *testing.T) {
	// every prediction is negative, so F1 is 0 while accuracy is not
	accuracy, err := holdoutAccuracy(fixedClassifier{proba: []float64{0.1, 0.1, 0.1, 0.1, 0.1}}, mat.NewDense(5, 1, nil), []float64{0, 1, 0, 0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.6, accuracy, 1e-12)
}

func TestTrainAll_IsolatesFailures(t *testing.T) {
	trainer := &Trainer{roster: []model.RosterEntry{
		{Name: "panics", New: func() model.Classifier { return panickingClassifier{} }},
		{Name: "fails", New: func() model.Classifier { return failingClassifier{} }},
		{Name: "works", New: func() model.Classifier { return model.NewGaussianNB(1e-9) }},
	}}
	x := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	y := []float64{0, 0, 1, 1}

	trained, err := trainer.TrainAll(x, y)
	require.NoError(t, err)
	require.Equal(t, 3, len(trained))
	assert.Contains(t, trained[0].Err.Error(), "diverged")
	assert.Nil(t, trained[0].Model)
	assert.True(t, errors.Is(trained[1].Err, model.ErrDataQuality))
	assert.NoError(t, trained[2].Err)
	assert.NotNil(t, trained[2].Model)

	_, err = trainer.TrainAll(x, y[:3])
	require.True(t, errors.Is(err, model.ErrShapeMismatch))
}

func TestNewTrainerFor(t *testing.T) {
	trainer, err := NewTrainerFor(model.DefaultRosterConfig())
	require.NoError(t, err)
	require.Equal(t, 6, len(trainer.roster))

	_, err = NewTrainerFor(model.DefaultRosterConfig(), model.KNNName, "Perceptron")
	require.Error(t, err)
}

func smallMinoritySplit(positives int) *io.Split {
	n := 40
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, float64(i%7))
		if i < positives {
			y[i] = 1
		}
	}
	return &io.Split{XTrain: x, YTrain: y, Names: []string{"a", "b"}}
}

func TestBalanceTraining_Fallback(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		positives int
		applied   bool
		neighbors int
		rows      int
	}{
		{positives: 10, applied: true, neighbors: 5, rows: 60},
		{positives: 3, applied: true, neighbors: 2, rows: 74},
		{positives: 1, applied: false, rows: 40},
	}
	for _, test := range tests {
		x, y, report, err := balanceTraining(smallMinoritySplit(test.positives), config)
		require.NoError(t, err)
		require.Equal(t, test.applied, report.Applied, "%d positives", test.positives)
		require.Equal(t, test.neighbors, report.Neighbors, "%d positives", test.positives)
		r, _ := x.Dims()
		require.Equal(t, test.rows, r)
		require.Equal(t, test.rows, len(y))
		if test.neighbors != 5 {
			require.NotEmpty(t, report.Warning)
		}
	}

	config.UseSMOTE = false
	_, y, report, err := balanceTraining(smallMinoritySplit(10), config)
	require.NoError(t, err)
	require.False(t, report.Applied)
	require.Equal(t, 40, len(y))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 7
test_fraction: 0.3
exclude_features: []
models:
  forest_estimators: 20
`), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(7), config.Seed)
	require.Equal(t, 0.3, config.TestFraction)
	require.Empty(t, config.ExcludeFeatures)
	require.Equal(t, 20, config.Models.ForestEstimators)
	// untouched keys keep their defaults
	require.Equal(t, 100, config.Models.BoostingEstimators)
	require.True(t, config.UseSMOTE)
	require.Equal(t, 10, config.PermutationRepeats)
	require.Equal(t, 4, config.Segments.Clusters)
	require.Equal(t, uint64(7), config.rosterConfig().Seed)

	require.NoError(t, os.WriteFile(path, []byte("test_fraction: 1.5\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	config, err = LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, []string{"duration"}, config.ExcludeFeatures)
}

func TestOverview(t *testing.T) {
	table, err := io.NewTableBuilder(nil).
		AddFloat64(io.TargetColumn, []float64{1, 0, 0, 1, 0, 0}).
		AddString("month", []string{"may", "may", "may", "oct", "oct", "jun"}).
		AddFloat64("emp.var.rate", []float64{-1, 1, 1.2, -2, 0.9, 1.1}).
		AddFloat64("cons.price.idx", []float64{93, 94, 93.5, 92, 94, 93}).
		AddFloat64("cons.conf.idx", []float64{-40, -41, -39, -42, -40, -38}).
		AddFloat64("euribor3m", []float64{1, 4, 4.5, 0.8, 4.9, 4.2}).
		AddFloat64("nr.employed", []float64{5000, 5200, 5190, 5010, 5210, 5195}).
		Build()
	require.NoError(t, err)
	defer table.Release()

	overview, err := Overview(table)
	require.NoError(t, err)
	require.Equal(t, DatasetOverview{Rows: 6, Conversions: 2, ConversionRate: 2.0 / 6.0, Columns: 7}, overview)

	groups, err := ConversionBy(table, "month")
	require.NoError(t, err)
	require.Equal(t, []GroupConversion{
		{Value: "oct", Contacts: 2, Conversions: 1, ConversionRate: 0.5},
		{Value: "may", Contacts: 3, Conversions: 1, ConversionRate: 1.0 / 3.0},
		{Value: "jun", Contacts: 1, Conversions: 0, ConversionRate: 0},
	}, groups)

	_, err = ConversionBy(table, "job")
	require.True(t, errors.Is(err, model.ErrMissingColumn))

	correlations, err := EconomicCorrelations(table)
	require.NoError(t, err)
	require.Equal(t, len(EconomicIndicators), len(correlations))
	for i := 1; i < len(correlations); i++ {
		require.GreaterOrEqual(t, math.Abs(*correlations[i-1].Correlation), math.Abs(*correlations[i].Correlation))
	}
	for _, c := range correlations {
		require.NotNil(t, c.PValue, c.Indicator)
		if c.Indicator == "euribor3m" || c.Indicator == "nr.employed" {
			require.Less(t, *c.Correlation, -0.9)
			require.True(t, c.Significant, c.Indicator)
		}
	}
}

func economicTable(t *testing.T) *io.RecordTable {
	table, err := io.NewTableBuilder(nil).
		AddFloat64(io.TargetColumn, []float64{1, 1, 0, 0, 1}).
		AddFloat64("emp.var.rate", []float64{1.1, 1.4, -1.8, 0, -0.1}).
		AddFloat64("cons.price.idx", []float64{93, 93, 93, 93, 93}).
		AddFloat64("cons.conf.idx", []float64{-30, -36, -50, -40, -42}).
		AddFloat64("euribor3m", []float64{1, 2, 5, 3, 4}).
		AddFloat64("nr.employed", []float64{5000, 5010, 5200, 5190, 5100}).
		Build()
	require.NoError(t, err)
	t.Cleanup(table.Release)
	return table
}

func TestEconomicCorrelations_ConstantIndicator(t *testing.T) {
	correlations, err := EconomicCorrelations(economicTable(t))
	require.NoError(t, err)
	require.Equal(t, len(EconomicIndicators), len(correlations))

	last := correlations[len(correlations)-1]
	require.Equal(t, "cons.price.idx", last.Indicator)
	require.Nil(t, last.Correlation)
	require.Nil(t, last.PValue)
	require.False(t, last.Significant)
	for _, c := range correlations[:len(correlations)-1] {
		require.NotNil(t, c.Correlation, c.Indicator)
	}

	p, ok := correlationPValue(1, 10)
	require.True(t, ok)
	require.Equal(t, 0.0, p)
	p, ok = correlationPValue(0, 10)
	require.True(t, ok)
	require.InDelta(t, 1.0, p, 1e-12)
	_, ok = correlationPValue(0.5, 2)
	require.False(t, ok)
}

func TestEconomicConditions(t *testing.T) {
	conditions, err := EconomicConditions(economicTable(t))
	require.NoError(t, err)
	require.Equal(t, []ConditionConversion{
		{Condition: Unfavorable, Contacts: 1, Conversions: 0, ConversionRate: 0},
		{Condition: Neutral, Contacts: 2, Conversions: 1, ConversionRate: 0.5},
		{Condition: Favorable, Contacts: 2, Conversions: 2, ConversionRate: 1},
	}, conditions)
}

func TestIndicatorRanges(t *testing.T) {
	ranges, err := IndicatorRanges(economicTable(t))
	require.NoError(t, err)

	byIndicator := map[string][]IndicatorRange{}
	for _, r := range ranges {
		byIndicator[r.Indicator] = append(byIndicator[r.Indicator], r)
	}
	require.Equal(t, len(EconomicIndicators), len(byIndicator))

	euribor := byIndicator["euribor3m"]
	require.Equal(t, 4, len(euribor))
	require.Equal(t, "[1.000, 1.250]", euribor[0].Range)
	require.Equal(t, "(3.750, 5.000]", euribor[3].Range)
	contacts := []int{}
	conversions := []int{}
	for _, r := range euribor {
		contacts = append(contacts, r.Contacts)
		conversions = append(conversions, r.Conversions)
	}
	require.Equal(t, []int{1, 1, 1, 2}, contacts)
	require.Equal(t, []int{1, 1, 0, 1}, conversions)
	require.Equal(t, 0.5, euribor[3].ConversionRate)

	price := byIndicator["cons.price.idx"]
	require.Equal(t, 1, len(price))
	require.Equal(t, 5, price[0].Contacts)
	require.Equal(t, 93.0, price[0].Lower)
	require.Equal(t, 93.0, price[0].Upper)
}
