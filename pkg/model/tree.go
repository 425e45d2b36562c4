package model

import (
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type Criterion int

const (
	Gini Criterion = iota
	SquaredError
)

// minGain is the smallest weighted impurity decrease that justifies a split
const minGain = 1e-12

type TreeConfig struct {
	// MaxDepth of 0 grows the tree until every leaf is pure
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures of 0 considers every feature at every split
	MaxFeatures int
	Criterion   Criterion
}

type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Leaf      bool
}

// Tree is a binary CART tree stored as a flat node slice, root at index 0.
type Tree struct {
	nodes []treeNode

	// importances holds the weighted impurity decrease per feature divided by the root weight
	importances []float64
}

func (t *Tree) value(row []float64) float64 {
	n := 0
	for !t.nodes[n].Leaf {
		if row[t.nodes[n].Feature] <= t.nodes[n].Threshold {
			n = t.nodes[n].Left
		} else {
			n = t.nodes[n].Right
		}
	}
	return t.nodes[n].Value
}

func (t *Tree) valueAt(columns [][]float64, i int) float64 {
	n := 0
	for !t.nodes[n].Leaf {
		if columns[t.nodes[n].Feature][i] <= t.nodes[n].Threshold {
			n = t.nodes[n].Left
		} else {
			n = t.nodes[n].Right
		}
	}
	return t.nodes[n].Value
}

// normalizedImportances scales the importances to sum to 1; a tree without splits yields zeros.
func (t *Tree) normalizedImportances() []float64 {
	return normalize(t.importances)
}

func normalize(values []float64) []float64 {
	result := make([]float64, len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	if sum <= 0 {
		return result
	}
	for i, v := range values {
		result[i] = v / sum
	}
	return result
}

type nodeStats struct {
	w, sy, syy float64
}

func (s *nodeStats) add(y, w float64) {
	s.w += w
	s.sy += w * y
	s.syy += w * y * y
}

func (s nodeStats) minus(o nodeStats) nodeStats {
	return nodeStats{w: s.w - o.w, sy: s.sy - o.sy, syy: s.syy - o.syy}
}

func (c Criterion) impurity(s nodeStats) float64 {
	if s.w <= 0 {
		return 0
	}
	m := s.sy / s.w
	var v float64
	switch c {
	case Gini:
		// labels are 0/1 so the weighted mean is the positive share
		v = 2 * m * (1 - m)
	default:
		v = s.syy/s.w - m*m
	}
	if v < 0 {
		return 0
	}
	return v
}

type treeSplit struct {
	feature   int
	threshold float64
	gain      float64
}

type treeBuilder struct {
	config    TreeConfig
	columns   [][]float64
	y         []float64
	w         []float64
	rnd       *rand.Rand
	leafValue func(samples []int, stats nodeStats) float64
	tree      *Tree
	scratch   []int
}

// growTree fits a tree on the given samples (row indices into columns). Rows absent from samples
// do not take part in fitting. leafValue may be nil, in which case a leaf predicts the weighted
// mean of y.
func growTree(columns [][]float64, y, w []float64, samples []int, config TreeConfig, rnd *rand.Rand,
	leafValue func(samples []int, stats nodeStats) float64) *Tree {

	if config.MinSamplesSplit < 2 {
		config.MinSamplesSplit = 2
	}
	if config.MinSamplesLeaf < 1 {
		config.MinSamplesLeaf = 1
	}
	if leafValue == nil {
		leafValue = weightedMean
	}
	b := &treeBuilder{
		config:    config,
		columns:   columns,
		y:         y,
		w:         w,
		rnd:       rnd,
		leafValue: leafValue,
		tree:      &Tree{importances: make([]float64, len(columns))},
		scratch:   make([]int, len(samples)),
	}
	var root nodeStats
	for _, i := range samples {
		root.add(y[i], w[i])
	}
	b.build(samples, root, 0)
	if root.w > 0 {
		for j := range b.tree.importances {
			b.tree.importances[j] /= root.w
		}
	}
	return b.tree
}

func weightedMean(_ []int, stats nodeStats) float64 {
	if stats.w <= 0 {
		return 0
	}
	return stats.sy / stats.w
}

func (b *treeBuilder) build(samples []int, stats nodeStats, depth int) int {
	index := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{Leaf: true, Value: b.leafValue(samples, stats)})

	impurity := b.config.Criterion.impurity(stats)
	if (b.config.MaxDepth > 0 && depth >= b.config.MaxDepth) ||
		len(samples) < b.config.MinSamplesSplit ||
		len(samples) < 2*b.config.MinSamplesLeaf ||
		impurity <= minGain {
		return index
	}

	split, ok := b.bestSplit(samples, stats, impurity)
	if !ok {
		return index
	}

	col := b.columns[split.feature]
	var left, right []int
	var leftStats nodeStats
	for _, i := range samples {
		if col[i] <= split.threshold {
			left = append(left, i)
			leftStats.add(b.y[i], b.w[i])
		} else {
			right = append(right, i)
		}
	}
	b.tree.importances[split.feature] += split.gain

	l := b.build(left, leftStats, depth+1)
	r := b.build(right, stats.minus(leftStats), depth+1)
	b.tree.nodes[index] = treeNode{
		Feature:   split.feature,
		Threshold: split.threshold,
		Left:      l,
		Right:     r,
	}
	return index
}

func (b *treeBuilder) candidateFeatures() []int {
	n := len(b.columns)
	if b.config.MaxFeatures <= 0 || b.config.MaxFeatures >= n {
		result := make([]int, n)
		for i := range result {
			result[i] = i
		}
		return result
	}
	return b.rnd.Perm(n)[:b.config.MaxFeatures]
}

func (b *treeBuilder) bestSplit(samples []int, total nodeStats, impurity float64) (treeSplit, bool) {
	best := treeSplit{gain: minGain}
	found := false
	sorted := b.scratch[:len(samples)]
	minLeaf := b.config.MinSamplesLeaf
	criterion := b.config.Criterion

	for _, f := range b.candidateFeatures() {
		col := b.columns[f]
		copy(sorted, samples)
		sort.Slice(sorted, func(a, c int) bool {
			va, vc := col[sorted[a]], col[sorted[c]]
			if va != vc {
				return va < vc
			}
			return sorted[a] < sorted[c]
		})

		var left nodeStats
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			left.add(b.y[i], b.w[i])
			next := col[sorted[k+1]]
			if next <= col[i] {
				continue
			}
			if k+1 < minLeaf || len(sorted)-k-1 < minLeaf {
				continue
			}
			right := total.minus(left)
			gain := total.w*impurity - left.w*criterion.impurity(left) - right.w*criterion.impurity(right)
			if gain > best.gain {
				threshold := (col[i] + next) / 2
				if threshold >= next {
					threshold = col[i]
				}
				best = treeSplit{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// DecisionTree is a single CART classifier with gini impurity.
type DecisionTree struct {
	MaxDepth    int
	ClassWeight ClassWeight
	Seed        uint64

	tree     *Tree
	features int
}

func NewDecisionTree(maxDepth int, classWeight ClassWeight, seed uint64) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth, ClassWeight: classWeight, Seed: seed}
}

func (d *DecisionTree) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("DecisionTree.Fit", x, y); err != nil {
		return err
	}
	_, c := x.Dims()
	d.tree = growTree(columns(x), y, d.ClassWeight.SampleWeights(y), allSamples(len(y)),
		TreeConfig{MaxDepth: d.MaxDepth, Criterion: Gini},
		rand.New(rand.NewSource(d.Seed)), nil)
	d.features = c
	return nil
}

func (d *DecisionTree) PredictProba(x mat.Matrix) ([]float64, error) {
	if err := checkPredict("DecisionTree.PredictProba", x, d.features); err != nil {
		return nil, err
	}
	data := rows(x)
	result := make([]float64, len(data))
	for i, row := range data {
		result[i] = d.tree.value(row)
	}
	return result, nil
}

func (d *DecisionTree) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := d.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}

func (d *DecisionTree) FeatureImportances() []float64 {
	if d.tree == nil {
		return nil
	}
	return d.tree.normalizedImportances()
}

func allSamples(n int) []int {
	result := make([]int, n)
	for i := range result {
		result[i] = i
	}
	return result
}
