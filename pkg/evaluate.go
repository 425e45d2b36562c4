package pkg

import (
	"fmt"
	"math"
	"sort"

	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"campaignlens/pkg/model"
)

// Metrics holds holdout scores for the positive class. ROCAUC and AveragePrecision are nil when the
// model has no probability output or the holdout holds a single class.
type Metrics struct {
	Accuracy         float64  `json:"accuracy"`
	Precision        float64  `json:"precision"`
	Recall           float64  `json:"recall"`
	F1               float64  `json:"f1"`
	ROCAUC           *float64 `json:"roc_auc,omitempty"`
	AveragePrecision *float64 `json:"avg_precision,omitempty"`
}

// ROCPoint threshold is nil for the (0, 0) point, which no finite threshold produces.
type ROCPoint struct {
	FPR       float64  `json:"fpr"`
	TPR       float64  `json:"tpr"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// PRPoint threshold is nil for the (recall 0, precision 1) origin.
type PRPoint struct {
	Recall    float64  `json:"recall"`
	Precision float64  `json:"precision"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// ConfusionMatrix is indexed [actual][predicted] with 0 negative and 1 positive. Percentages are
// normalized per actual class.
type ConfusionMatrix struct {
	Counts      [2][2]int     `json:"counts"`
	Percentages [2][2]float64 `json:"percentages"`
}

type Evaluation struct {
	Name          string          `json:"name"`
	Metrics       Metrics         `json:"metrics"`
	Confusion     ConfusionMatrix `json:"confusion_matrix"`
	ROC           []ROCPoint      `json:"roc_curve,omitempty"`
	PR            []PRPoint       `json:"pr_curve,omitempty"`
	Predictions   []float64       `json:"-"`
	Probabilities []float64       `json:"-"`
	// Err is set for models that failed to train, every other field is then empty
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (e *Evaluation) Failed() bool {
	return e.Err != nil
}

// Evaluate scores a fitted model on the holdout partition. Predicting with a different feature
// count than the model was fit on is a ShapeMismatch error.
func Evaluate(name string, m model.Classifier, xTest mat.Matrix, yTest []float64) (*Evaluation, error) {
	if r, _ := xTest.Dims(); r != len(yTest) {
		return nil, model.NewShapeMismatchError("Evaluate", r, len(yTest), "labels")
	}
	predictions, err := m.Predict(xTest)
	if err != nil {
		return nil, fmt.Errorf("predicting with %s: %w", name, err)
	}
	probabilities, err := m.PredictProba(xTest)
	if err != nil {
		return nil, fmt.Errorf("predicting probabilities with %s: %w", name, err)
	}

	e := &Evaluation{
		Name:          name,
		Predictions:   predictions,
		Probabilities: probabilities,
	}
	e.Metrics, e.Confusion = scorePredictions(predictions, yTest)

	if probabilities == nil {
		return e, nil
	}
	positives := 0
	for _, v := range yTest {
		if v == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(yTest) {
		log.Warn().Str("model", name).Msg("Holdout holds a single class, ROC AUC and average precision are undefined")
		return e, nil
	}

	var auc float64
	e.ROC, auc = rocCurve(probabilities, yTest)
	var ap float64
	e.PR, ap = prCurve(probabilities, yTest, positives)
	e.Metrics.ROCAUC = &auc
	e.Metrics.AveragePrecision = &ap
	return e, nil
}

// failedEvaluation records a model that could not be trained.
func failedEvaluation(name string, err error) *Evaluation {
	return &Evaluation{Name: name, Err: err, Error: err.Error()}
}

func scorePredictions(predictions, actual []float64) (Metrics, ConfusionMatrix) {
	positive := stats.NewMetricCounter()
	var confusion ConfusionMatrix
	for i, p := range predictions {
		a := int(actual[i])
		q := int(p)
		confusion.Counts[a][q]++
		switch {
		case a == 1 && q == 1:
			positive.IncTruePos()
		case a == 1:
			positive.IncFalseNeg()
		case q == 1:
			positive.IncFalsePos()
		default:
			positive.TrueNeg++
		}
	}
	for a := range confusion.Counts {
		total := confusion.Counts[a][0] + confusion.Counts[a][1]
		if total == 0 {
			continue
		}
		for q := range confusion.Counts[a] {
			confusion.Percentages[a][q] = float64(confusion.Counts[a][q]) / float64(total) * 100
		}
	}

	metrics := Metrics{
		Precision: definedOrZero(positive.Precision()),
		Recall:    definedOrZero(positive.Recall()),
		F1:        definedOrZero(positive.F1Score()),
	}
	if n := len(predictions); n > 0 {
		metrics.Accuracy = float64(positive.TruePos+positive.TrueNeg) / float64(n)
	}
	return metrics, confusion
}

// definedOrZero maps undefined ratios (0/0) to 0.
func definedOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sortedByScore(probabilities, actual []float64) ([]float64, []bool) {
	scores := append([]float64(nil), probabilities...)
	classes := make([]bool, len(actual))
	for i, v := range actual {
		classes[i] = v == 1
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	return scores, classes
}

// rocCurve returns one point per distinct probability, starting at (0, 0), and the trapezoidal area
// under it.
func rocCurve(probabilities, actual []float64) ([]ROCPoint, float64) {
	scores, classes := sortedByScore(probabilities, actual)
	tpr, fpr, thresholds := stat.ROC(nil, scores, classes, nil)
	points := make([]ROCPoint, len(tpr))
	for i := range tpr {
		points[i] = ROCPoint{FPR: fpr[i], TPR: tpr[i]}
		if !math.IsInf(thresholds[i], 0) {
			points[i].Threshold = &thresholds[i]
		}
	}
	return points, integrate.Trapezoidal(fpr, tpr)
}

// prCurve returns the precision-recall points for every distinct probability in increasing recall
// order, and the average precision sum((R_n - R_n-1) * P_n).
func prCurve(probabilities, actual []float64, positives int) ([]PRPoint, float64) {
	scores, classes := sortedByScore(probabilities, actual)
	points := []PRPoint{{Recall: 0, Precision: 1}}
	var tp, fp int
	var ap, previousRecall float64
	for i := len(scores) - 1; i >= 0; i-- {
		if classes[i] {
			tp++
		} else {
			fp++
		}
		if i > 0 && scores[i-1] == scores[i] {
			continue
		}
		threshold := scores[i]
		recall := float64(tp) / float64(positives)
		precision := float64(tp) / float64(tp+fp)
		points = append(points, PRPoint{Recall: recall, Precision: precision, Threshold: &threshold})
		ap += (recall - previousRecall) * precision
		previousRecall = recall
	}
	return points, ap
}

// RankByF1 orders evaluations by F1 descending. Ties keep their input order and failed models
// go last.
func RankByF1(evaluations []*Evaluation) []*Evaluation {
	ranked := append([]*Evaluation(nil), evaluations...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Failed() || b.Failed() {
			return !a.Failed() && b.Failed()
		}
		return a.Metrics.F1 > b.Metrics.F1
	})
	return ranked
}

func logMetrics(e *Evaluation) {
	if e.Failed() {
		log.Warn().Str("model", e.Name).Err(e.Err).Msg("No metrics for failed model")
		return
	}
	event := log.Info().Str("model", e.Name).
		Int("TP", e.Confusion.Counts[1][1]).
		Int("FP", e.Confusion.Counts[0][1]).
		Int("TN", e.Confusion.Counts[0][0]).
		Int("FN", e.Confusion.Counts[1][0]).
		Float64("Accuracy", e.Metrics.Accuracy).
		Float64("Precision", e.Metrics.Precision).
		Float64("Recall", e.Metrics.Recall).
		Float64("F1", e.Metrics.F1)
	if e.Metrics.ROCAUC != nil {
		event = event.Float64("ROCAUC", *e.Metrics.ROCAUC).Float64("AvgPrecision", *e.Metrics.AveragePrecision)
	}
	event.Msg("")
}
