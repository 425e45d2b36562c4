package model

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// KNearestNeighbors votes uniformly among the K closest training rows.
type KNearestNeighbors struct {
	K int

	points [][]float64
	labels []float64
}

func NewKNearestNeighbors(k int) *KNearestNeighbors {
	return &KNearestNeighbors{K: k}
}

func (k *KNearestNeighbors) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("KNearestNeighbors.Fit", x, y); err != nil {
		return err
	}
	if k.K < 1 {
		return fmt.Errorf("KNearestNeighbors.Fit: at least one neighbour required, got %d", k.K)
	}
	k.points = rows(x)
	k.labels = append([]float64(nil), y...)
	return nil
}

func (k *KNearestNeighbors) PredictProba(x mat.Matrix) ([]float64, error) {
	features := 0
	if len(k.points) > 0 {
		features = len(k.points[0])
	}
	if err := checkPredict("KNearestNeighbors.PredictProba", x, features); err != nil {
		return nil, err
	}
	queries := rows(x)
	result := make([]float64, len(queries))

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(queries) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(queries); start += chunk {
		end := start + chunk
		if end > len(queries) {
			end = len(queries)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				neighbors := nearest(k.points, queries[i], k.K, -1)
				var votes float64
				for _, n := range neighbors {
					votes += k.labels[n]
				}
				result[i] = votes / float64(len(neighbors))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (k *KNearestNeighbors) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := k.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}
