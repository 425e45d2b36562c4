package io

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"campaignlens/pkg/model"
)

const encodedSuffix = "_encoded"

var (
	// ContinuousFeatures are used as they are
	ContinuousFeatures = NumericColumns
	// CategoricalFeatures are label encoded into <column>_encoded
	CategoricalFeatures = []string{
		"job", "marital", "education", "default", "housing", "loan",
		"contact", "month", "day_of_week", "poutcome",
	}
)

type FeatureOptions struct {
	// ExcludeFeatures are removed from the assembled feature list, names that are not features are ignored
	ExcludeFeatures []string
}

// DefaultFeatureOptions leaves out call duration, which is only known after the call and leaks the outcome.
func DefaultFeatureOptions() FeatureOptions {
	return FeatureOptions{ExcludeFeatures: []string{"duration"}}
}

// FeatureNames lists the model inputs in matrix column order.
func (o FeatureOptions) FeatureNames() []string {
	excluded := make(map[string]bool, len(o.ExcludeFeatures))
	for _, name := range o.ExcludeFeatures {
		excluded[name] = true
	}
	var names []string
	for _, col := range ContinuousFeatures {
		if !excluded[col] {
			names = append(names, col)
		}
	}
	for _, col := range CategoricalFeatures {
		if name := col + encodedSuffix; !excluded[name] {
			names = append(names, name)
		}
	}
	return names
}

type FeatureMatrix struct {
	X       *mat.Dense
	Y       []float64
	Names   []string
	Mapping model.LabelMapping
}

func NewFeatureMatrix(x *mat.Dense, y []float64, names []string) (*FeatureMatrix, error) {
	r, c := x.Dims()
	if r != len(y) {
		return nil, model.NewShapeMismatchError("NewFeatureMatrix", r, len(y), "labels")
	}
	if c != len(names) {
		return nil, model.NewShapeMismatchError("NewFeatureMatrix", c, len(names), "feature names")
	}
	return &FeatureMatrix{X: x, Y: y, Names: names, Mapping: model.LabelMapping{}}, nil
}

func (f *FeatureMatrix) NumRows() int {
	r, _ := f.X.Dims()
	return r
}

// Preparer holds the label mapping fit on the full table. The mapping is frozen: every Prepare
// call encodes with the same codes.
type Preparer struct {
	mapping model.LabelMapping
}

// NewPreparer fits the categorical encoding on every categorical column present in the table.
func NewPreparer(table *RecordTable) (*Preparer, error) {
	mapping := model.LabelMapping{}
	for _, col := range CategoricalFeatures {
		if !table.HasColumn(col) {
			continue
		}
		values, err := table.StringColumn(col)
		if err != nil {
			return nil, err
		}
		mapping[col] = model.NewSortedNameMap(values)
	}
	return &Preparer{mapping: mapping}, nil
}

func (p *Preparer) Mapping() model.LabelMapping {
	return p.mapping
}

// Prepare builds the numeric design matrix and label vector for the table.
func (p *Preparer) Prepare(table *RecordTable, opts FeatureOptions) (*FeatureMatrix, error) {
	y, err := table.Float64Column(TargetColumn)
	if err != nil {
		return nil, err
	}
	names := opts.FeatureNames()
	if len(y) == 0 || len(names) == 0 {
		return nil, model.NewDataQualityError("Prepare", "", "no rows or no features to prepare")
	}
	x := mat.NewDense(len(y), len(names), nil)

	for j, name := range names {
		if col, ok := strings.CutSuffix(name, encodedSuffix); ok {
			values, err := table.StringColumn(col)
			if err != nil {
				return nil, err
			}
			for i, v := range values {
				code, err := p.mapping.Encode(col, v)
				if err != nil {
					return nil, err
				}
				x.Set(i, j, float64(code))
			}
			continue
		}
		values, err := table.Float64Column(name)
		if err != nil {
			return nil, err
		}
		x.SetCol(j, values)
	}
	return &FeatureMatrix{X: x, Y: y, Names: names, Mapping: p.mapping}, nil
}

// PrepareFeatures fits a Preparer on the table and prepares it in one step.
func PrepareFeatures(table *RecordTable, opts FeatureOptions) (*FeatureMatrix, error) {
	p, err := NewPreparer(table)
	if err != nil {
		return nil, err
	}
	return p.Prepare(table, opts)
}
