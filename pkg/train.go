package pkg

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/model"
)

// TrainedModel is one roster entry after fitting. Err is set when the model failed to fit, the
// rest of the roster is unaffected.
type TrainedModel struct {
	Name     string
	Model    model.Classifier
	Err      error
	Duration time.Duration
}

type Trainer struct {
	roster []model.RosterEntry
}

func NewTrainer(config model.RosterConfig) *Trainer {
	return &Trainer{roster: model.Roster(config)}
}

// NewTrainerFor trains only the named roster entries, keeping roster order.
func NewTrainerFor(config model.RosterConfig, names ...string) (*Trainer, error) {
	if len(names) == 0 {
		return NewTrainer(config), nil
	}
	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}
	t := &Trainer{}
	for _, entry := range model.Roster(config) {
		if wanted[entry.Name] {
			t.roster = append(t.roster, entry)
			delete(wanted, entry.Name)
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown model '%s'", name)
	}
	return t, nil
}

// TrainAll fits every roster model concurrently on the same training data and returns them in
// roster order. A feature/label length mismatch is returned as an error since no model can recover
// from it; any other failure, including a panic, is recorded on the model's entry.
func (t *Trainer) TrainAll(x mat.Matrix, y []float64) ([]TrainedModel, error) {
	if r, _ := x.Dims(); r != len(y) {
		return nil, model.NewShapeMismatchError("TrainAll", r, len(y), "labels")
	}

	results := make([]TrainedModel, len(t.roster))
	var wg sync.WaitGroup
	for i, entry := range t.roster {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fit(entry, x, y)
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil && errors.Is(r.Err, model.ErrShapeMismatch) {
			return nil, fmt.Errorf("training %s: %w", r.Name, r.Err)
		}
		if r.Err != nil {
			log.Warn().Str("model", r.Name).Err(r.Err).Msg("Model failed to train")
			continue
		}
		log.Info().Str("model", r.Name).Dur("duration", r.Duration).Msg("Model trained")
		if l, ok := r.Model.(*model.LogisticRegression); ok && !l.Converged {
			log.Warn().Str("model", r.Name).Int("iterations", l.Iterations).Msg("Logistic regression did not converge")
		}
	}
	return results, nil
}

func fit(entry model.RosterEntry, x mat.Matrix, y []float64) (result TrainedModel) {
	result.Name = entry.Name
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			log.Debug().Str("model", entry.Name).Bytes("stack", debug.Stack()).Msg("Recovered panic")
			result.Model = nil
			result.Err = fmt.Errorf("panic while fitting %s: %v", entry.Name, r)
		}
	}()

	m := entry.New()
	if err := m.Fit(x, y); err != nil {
		result.Err = err
		return result
	}
	result.Model = m
	return result
}
