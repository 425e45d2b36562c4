package pkg

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/io"
	"campaignlens/pkg/model"
)

// Dataset is the prepared, split input of one pipeline run. It is never mutated after
// PrepareDataset returns and may be shared by concurrent runs.
type Dataset struct {
	Features *io.FeatureMatrix
	Split    *io.Split
	Config   Config
}

func PrepareDataset(table *io.RecordTable, config Config) (*Dataset, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	features, err := io.PrepareFeatures(table, config.FeatureOptions())
	if err != nil {
		return nil, fmt.Errorf("preparing features: %w", err)
	}
	split, err := io.StratifiedSplit(features, config.TestFraction, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("splitting data: %w", err)
	}
	log.Info().
		Int("features", len(features.Names)).
		Int("train", len(split.YTrain)).
		Int("test", len(split.YTest)).
		Str("fingerprint", fingerprint(split)).
		Msg("Dataset prepared")
	return &Dataset{Features: features, Split: split, Config: config}, nil
}

func fingerprint(split *io.Split) string {
	return fmt.Sprintf("%016x", split.Fingerprint())
}

// rosterConfig applies the run seed to every model
func (c Config) rosterConfig() model.RosterConfig {
	r := c.Models
	r.Seed = c.Seed
	return r
}

type BalanceReport struct {
	Applied   bool   `json:"applied"`
	Neighbors int    `json:"neighbors,omitempty"`
	Before    [2]int `json:"before"`
	After     [2]int `json:"after"`
	Warning   string `json:"warning,omitempty"`
}

// balanceTraining oversamples the training partition. When the minority class is too small for
// the configured neighbour count it retries with one neighbour less than the minority size, and
// skips balancing when even that is impossible.
func balanceTraining(split *io.Split, config Config) (*mat.Dense, []float64, BalanceReport, error) {
	report := BalanceReport{Before: classCounts(split.YTrain)}
	report.After = report.Before
	if !config.UseSMOTE {
		return split.XTrain, split.YTrain, report, nil
	}

	neighbors := config.SMOTENeighbors
	x, y, err := model.SMOTE{Neighbors: neighbors, Seed: config.Seed}.Resample(split.XTrain, split.YTrain)
	if errors.Is(err, model.ErrDataQuality) {
		minority := min(report.Before[0], report.Before[1])
		log.Warn().Err(err).Int("minority", minority).Msg("Minority class too small for oversampling")
		if minority-1 < 1 {
			report.Warning = err.Error()
			return split.XTrain, split.YTrain, report, nil
		}
		neighbors = minority - 1
		x, y, err = model.SMOTE{Neighbors: neighbors, Seed: config.Seed}.Resample(split.XTrain, split.YTrain)
		report.Warning = fmt.Sprintf("oversampled with %d neighbours instead of %d", neighbors, config.SMOTENeighbors)
	}
	if err != nil {
		return nil, nil, report, err
	}
	report.Applied = true
	report.Neighbors = neighbors
	report.After = classCounts(y)
	log.Info().Ints("before", report.Before[:]).Ints("after", report.After[:]).Int("neighbors", neighbors).Msg("Training set balanced")
	return x, y, report, nil
}

func classCounts(y []float64) [2]int {
	var counts [2]int
	for _, v := range y {
		counts[int(v)]++
	}
	return counts
}

type ModelingResult struct {
	RunID            string         `json:"run_id"`
	SplitFingerprint string         `json:"split_fingerprint"`
	Features         []string       `json:"features"`
	Balancing        BalanceReport  `json:"balancing"`
	Evaluations      []*Evaluation  `json:"models"`
	BestModel        string         `json:"best_model"`
	Ranking          []string       `json:"ranking"`
	Models           []TrainedModel `json:"-"`
}

// Best returns the highest ranked evaluation, nil when every model failed.
func (r *ModelingResult) Best() *Evaluation {
	e, _ := r.Evaluation(r.BestModel)
	return e
}

func (r *ModelingResult) Evaluation(name string) (*Evaluation, bool) {
	for _, e := range r.Evaluations {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

func (r *ModelingResult) Model(name string) (model.Classifier, bool) {
	for _, m := range r.Models {
		if m.Name == name && m.Err == nil {
			return m.Model, true
		}
	}
	return nil, false
}

// RunPredictiveModeling trains the roster on the (balanced) training partition and evaluates every
// model on the untouched holdout. With names given only those models are trained.
func RunPredictiveModeling(split *io.Split, config Config, names ...string) (*ModelingResult, error) {
	runID := uuid.NewString()
	start := time.Now()
	log.Info().Str("run", runID).Str("fingerprint", fingerprint(split)).Msg("Predictive modeling started")

	trainer, err := NewTrainerFor(config.rosterConfig(), names...)
	if err != nil {
		return nil, err
	}
	x, y, balance, err := balanceTraining(split, config)
	if err != nil {
		return nil, fmt.Errorf("balancing training data: %w", err)
	}
	trained, err := trainer.TrainAll(x, y)
	if err != nil {
		return nil, err
	}

	result := &ModelingResult{
		RunID:            runID,
		SplitFingerprint: fingerprint(split),
		Features:         split.Names,
		Balancing:        balance,
		Models:           trained,
	}
	for _, t := range trained {
		if t.Err != nil {
			result.Evaluations = append(result.Evaluations, failedEvaluation(t.Name, t.Err))
			continue
		}
		e, err := Evaluate(t.Name, t.Model, split.XTest, split.YTest)
		if err != nil {
			if errors.Is(err, model.ErrShapeMismatch) {
				return nil, err
			}
			e = failedEvaluation(t.Name, err)
		}
		logMetrics(e)
		result.Evaluations = append(result.Evaluations, e)
	}

	ranked := RankByF1(result.Evaluations)
	for _, e := range ranked {
		result.Ranking = append(result.Ranking, e.Name)
	}
	if len(ranked) > 0 && !ranked[0].Failed() {
		result.BestModel = ranked[0].Name
	}
	log.Info().Str("run", runID).Str("best", result.BestModel).Dur("duration", time.Since(start)).Msg("Predictive modeling finished")
	return result, nil
}

type ImportanceResult struct {
	RunID            string             `json:"run_id"`
	SplitFingerprint string             `json:"split_fingerprint"`
	Balancing        BalanceReport      `json:"balancing"`
	Methods          []MethodImportance `json:"methods"`
	Aggregate        []FeatureScore     `json:"aggregate"`
}

// Method returns the ranking of one importance method.
func (r *ImportanceResult) Method(name string) (MethodImportance, bool) {
	for _, m := range r.Methods {
		if m.Method == name {
			return m, true
		}
	}
	return MethodImportance{}, false
}

// RunFeatureImportance fits the models that expose importances and merges their normalized
// rankings, optionally adding holdout permutation importance of an unweighted random forest.
func RunFeatureImportance(split *io.Split, config Config) (*ImportanceResult, error) {
	runID := uuid.NewString()
	log.Info().Str("run", runID).Str("fingerprint", fingerprint(split)).Msg("Feature importance started")

	names := make([]string, len(methodModels))
	for i, mm := range methodModels {
		names[i] = mm.model
	}
	trainer, err := NewTrainerFor(config.rosterConfig(), names...)
	if err != nil {
		return nil, err
	}
	x, y, balance, err := balanceTraining(split, config)
	if err != nil {
		return nil, fmt.Errorf("balancing training data: %w", err)
	}
	trained, err := trainer.TrainAll(x, y)
	if err != nil {
		return nil, err
	}

	methods, err := modelImportances(trained, split.Names)
	if err != nil {
		return nil, err
	}
	if config.PermutationImportance {
		m, err := permutationMethod(x, y, split, config)
		if err != nil {
			return nil, err
		}
		if m != nil {
			methods = append(methods, *m)
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("no importance method could be computed")
	}

	result := &ImportanceResult{
		RunID:            runID,
		SplitFingerprint: fingerprint(split),
		Balancing:        balance,
		Methods:          methods,
		Aggregate:        Aggregate(methods),
	}
	for i, s := range result.Aggregate {
		if i == 5 {
			break
		}
		log.Info().Str("feature", s.Feature).Float64("score", s.Score).Msg("Top feature")
	}
	return result, nil
}

// permutationForestName is the roster name of the forest fit for permutation importance. It uses
// the roster forest settings without class weights.
const permutationForestName = "Random Forest (unweighted)"

// permutationMethod fits the unweighted forest on the training data and permutes the holdout. A
// forest that fails to fit is logged and yields no method.
func permutationMethod(x *mat.Dense, y []float64, split *io.Split, config Config) (*MethodImportance, error) {
	roster := config.rosterConfig()
	trainer := &Trainer{roster: []model.RosterEntry{{
		Name: permutationForestName,
		New: func() model.Classifier {
			f := model.NewRandomForest(roster.ForestEstimators, model.Uniform, roster.Seed)
			f.MaxDepth = roster.ForestMaxDepth
			return f
		},
	}}}
	trained, err := trainer.TrainAll(x, y)
	if err != nil {
		return nil, err
	}
	if trained[0].Err != nil {
		return nil, nil
	}
	m, err := PermutationImportance(trained[0].Model, split.XTest, split.YTest, split.Names, config.PermutationRepeats, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("permutation importance: %w", err)
	}
	return &m, nil
}
