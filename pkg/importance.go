package pkg

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"campaignlens/pkg/model"
)

const (
	RandomForestMethod       = "random_forest"
	GradientBoostingMethod   = "gradient_boosting"
	LogisticRegressionMethod = "logistic_regression"
	PermutationMethod        = "permutation"
)

// methodModels maps model based importance methods to the roster model providing them, in
// aggregation order.
var methodModels = []struct {
	method string
	model  string
}{
	{RandomForestMethod, model.RandomForestName},
	{GradientBoostingMethod, model.GradientBoostingName},
	{LogisticRegressionMethod, model.LogisticRegressionName},
}

type FeatureScore struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
	// Std is the standard deviation of the raw accuracy drop over permutation repeats, unset for other methods
	Std float64 `json:"std,omitempty"`
}

// MethodImportance is one method's ranking. Scores are normalized to sum to 1 and sorted in
// decreasing order.
type MethodImportance struct {
	Method string         `json:"method"`
	Scores []FeatureScore `json:"scores"`
}

// NewMethodImportance normalizes raw importances by their sum. Negative values are clipped to 0
// first; when nothing is left every score is 0.
func NewMethodImportance(method string, names []string, raw []float64) (MethodImportance, error) {
	if len(names) != len(raw) {
		return MethodImportance{}, model.NewShapeMismatchError("NewMethodImportance", len(names), len(raw), "importances")
	}
	clipped := make([]float64, len(raw))
	for i, v := range raw {
		clipped[i] = math.Max(0, v)
	}
	if sum := floats.Sum(clipped); sum > 0 {
		floats.Scale(1/sum, clipped)
	} else {
		log.Warn().Str("method", method).Msg("All importances are zero")
	}

	scores := make([]FeatureScore, len(names))
	for i, name := range names {
		scores[i] = FeatureScore{Feature: name, Score: clipped[i]}
	}
	sortScores(scores)
	return MethodImportance{Method: method, Scores: scores}, nil
}

func sortScores(scores []FeatureScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Feature < scores[j].Feature
	})
}

// Aggregate averages the normalized score of every feature over all methods. A feature missing
// from a method contributes 0 for that method.
func Aggregate(methods []MethodImportance) []FeatureScore {
	if len(methods) == 0 {
		return nil
	}
	totals := map[string]float64{}
	var order []string
	for _, m := range methods {
		for _, s := range m.Scores {
			if _, ok := totals[s.Feature]; !ok {
				order = append(order, s.Feature)
			}
			totals[s.Feature] += s.Score
		}
	}
	result := make([]FeatureScore, len(order))
	for i, feature := range order {
		result[i] = FeatureScore{Feature: feature, Score: totals[feature] / float64(len(methods))}
	}
	sortScores(result)
	return result
}

// modelImportances collects the importance methods available from the trained models.
func modelImportances(trained []TrainedModel, names []string) ([]MethodImportance, error) {
	byName := map[string]TrainedModel{}
	for _, t := range trained {
		byName[t.Name] = t
	}
	var methods []MethodImportance
	for _, mm := range methodModels {
		t, ok := byName[mm.model]
		if !ok {
			continue
		}
		if t.Err != nil {
			log.Warn().Str("method", mm.method).Err(t.Err).Msg("Skipping importance method, model failed to train")
			continue
		}
		importancer, ok := t.Model.(model.FeatureImportancer)
		if !ok {
			continue
		}
		m, err := NewMethodImportance(mm.method, names, importancer.FeatureImportances())
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// PermutationImportance measures the holdout accuracy drop when one feature column is shuffled,
// averaged over repeats. Every feature gets its own seeded generator so the result does not depend on
// scheduling.
func PermutationImportance(m model.Classifier, xTest *mat.Dense, yTest []float64, names []string, repeats int, seed uint64) (MethodImportance, error) {
	_, c := xTest.Dims()
	if c != len(names) {
		return MethodImportance{}, model.NewShapeMismatchError("PermutationImportance", c, len(names), "feature names")
	}
	if repeats < 1 {
		return MethodImportance{}, fmt.Errorf("invalid repeat count %d", repeats)
	}
	baseline, err := holdoutAccuracy(m, xTest, yTest)
	if err != nil {
		return MethodImportance{}, err
	}

	rnd := rand.New(rand.NewSource(seed))
	seeds := make([]uint64, c)
	for j := range seeds {
		seeds[j] = rnd.Uint64()
	}

	means := make([]float64, c)
	stds := make([]float64, c)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for j := 0; j < c; j++ {
		g.Go(func() error {
			featureRnd := rand.New(rand.NewSource(seeds[j]))
			shuffled := mat.DenseCopyOf(xTest)
			original := mat.Col(nil, j, xTest)
			column := make([]float64, len(original))
			drops := make([]float64, repeats)
			for r := range drops {
				for i, p := range featureRnd.Perm(len(original)) {
					column[i] = original[p]
				}
				shuffled.SetCol(j, column)
				accuracy, err := holdoutAccuracy(m, shuffled, yTest)
				if err != nil {
					return err
				}
				drops[r] = baseline - accuracy
			}
			mean, variance := stat.PopMeanVariance(drops, nil)
			means[j] = mean
			stds[j] = math.Sqrt(variance)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MethodImportance{}, err
	}

	result, err := NewMethodImportance(PermutationMethod, names, means)
	if err != nil {
		return MethodImportance{}, err
	}
	std := make(map[string]float64, c)
	for j, name := range names {
		std[name] = stds[j]
	}
	for i := range result.Scores {
		result.Scores[i].Std = std[result.Scores[i].Feature]
	}
	return result, nil
}

func holdoutAccuracy(m model.Classifier, x mat.Matrix, y []float64) (float64, error) {
	predictions, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	metrics, _ := scorePredictions(predictions, y)
	return metrics.Accuracy, nil
}
