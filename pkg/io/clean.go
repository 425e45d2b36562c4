package io

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"campaignlens/pkg/model"
)

// NotPreviouslyContacted is the pdays placeholder for customers never contacted before
const NotPreviouslyContacted = 999

type bin struct {
	upper float64
	label string
}

// Right-inclusive bins; values outside every bin get an empty label.
var (
	ageGroups = []bin{
		{25, "18-25"}, {35, "26-35"}, {45, "36-45"}, {55, "46-55"}, {65, "56-65"}, {100, "65+"},
	}
	campaignIntensity = []bin{
		{1, "1 contact"}, {2, "2 contacts"}, {5, "3-5 contacts"}, {100, "5+ contacts"},
	}
	durationCategories = []bin{
		{100, "<100s"}, {300, "100-300s"}, {600, "300-600s"}, {5000, "600s+"},
	}
)

func binLabel(bins []bin, v float64) string {
	if v <= 0 {
		return ""
	}
	for _, b := range bins {
		if v <= b.upper {
			return b.label
		}
	}
	return ""
}

// Clean returns a new table with the binary target and the derived descriptive columns:
// age_group, campaign_intensity, previously_contacted and duration_category. Derived columns are
// only added when their source column exists.
func Clean(t *RecordTable, mem memory.Allocator) (*RecordTable, error) {
	b := NewTableBuilder(mem)
	for _, col := range t.Columns() {
		if col == TargetColumn {
			continue
		}
		if t.columnType(col) == arrow.FLOAT64 {
			values, err := t.Float64Column(col)
			if err != nil {
				return nil, err
			}
			b.AddFloat64(col, values)
			continue
		}
		values, err := t.StringColumn(col)
		if err != nil {
			return nil, err
		}
		b.AddString(col, values)
	}

	labels, err := t.StringColumn(LabelColumn)
	if err != nil {
		return nil, err
	}
	target := make([]float64, len(labels))
	for i, l := range labels {
		switch l {
		case "yes":
			target[i] = 1
		case "no":
		default:
			return nil, model.NewDataQualityError("Clean", LabelColumn, "unexpected label value '"+l+"'")
		}
	}
	b.AddFloat64(TargetColumn, target)

	derive := func(source, name string, bins []bin) error {
		if !t.HasColumn(source) {
			return nil
		}
		values, err := t.Float64Column(source)
		if err != nil {
			return err
		}
		labels := make([]string, len(values))
		for i, v := range values {
			labels[i] = binLabel(bins, v)
		}
		b.AddString(name, labels)
		return nil
	}
	if err := derive("age", "age_group", ageGroups); err != nil {
		return nil, err
	}
	if err := derive("campaign", "campaign_intensity", campaignIntensity); err != nil {
		return nil, err
	}
	if err := derive("duration", "duration_category", durationCategories); err != nil {
		return nil, err
	}
	if t.HasColumn("pdays") {
		pdays, err := t.Float64Column("pdays")
		if err != nil {
			return nil, err
		}
		contacted := make([]float64, len(pdays))
		for i, v := range pdays {
			if v != NotPreviouslyContacted {
				contacted[i] = 1
			}
		}
		b.AddFloat64("previously_contacted", contacted)
	}
	return b.Build()
}
