package pkg

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"campaignlens/pkg/io"
)

// EconomicIndicators are the macroeconomic columns recorded at contact time
var EconomicIndicators = []string{"emp.var.rate", "cons.price.idx", "cons.conf.idx", "euribor3m", "nr.employed"}

// ContactViews are the campaign columns summarized by the contact strategy report
var ContactViews = []string{"campaign_intensity", "month", "day_of_week", "contact", "poutcome"}

type DatasetOverview struct {
	Rows           int     `json:"rows"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Columns        int     `json:"columns"`
}

type GroupConversion struct {
	Value          string  `json:"value"`
	Contacts       int     `json:"contacts"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Correlation is the Pearson correlation of one indicator with conversion. Correlation and PValue
// are unset when the indicator is constant.
type Correlation struct {
	Indicator   string   `json:"indicator"`
	Correlation *float64 `json:"correlation"`
	PValue      *float64 `json:"p_value"`
	Significant bool     `json:"significant"`
}

func Overview(table *io.RecordTable) (DatasetOverview, error) {
	y, err := table.Float64Column(io.TargetColumn)
	if err != nil {
		return DatasetOverview{}, err
	}
	result := DatasetOverview{
		Rows:        table.NumRows(),
		Conversions: int(floats.Sum(y)),
		Columns:     len(table.Columns()),
	}
	if result.Rows > 0 {
		result.ConversionRate = float64(result.Conversions) / float64(result.Rows)
	}
	return result, nil
}

// ConversionBy groups contacts by the value of a string column. Groups are sorted by conversion
// rate, then by value.
func ConversionBy(table *io.RecordTable, column string) ([]GroupConversion, error) {
	y, err := table.Float64Column(io.TargetColumn)
	if err != nil {
		return nil, err
	}
	values, err := table.StringColumn(column)
	if err != nil {
		return nil, err
	}

	groups := map[string]*GroupConversion{}
	for i, v := range values {
		g, ok := groups[v]
		if !ok {
			g = &GroupConversion{Value: v}
			groups[v] = g
		}
		g.Contacts++
		if y[i] == 1 {
			g.Conversions++
		}
	}
	result := make([]GroupConversion, 0, len(groups))
	for _, g := range groups {
		g.ConversionRate = float64(g.Conversions) / float64(g.Contacts)
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ConversionRate != result[j].ConversionRate {
			return result[i].ConversionRate > result[j].ConversionRate
		}
		return result[i].Value < result[j].Value
	})
	return result, nil
}

// EconomicCorrelations computes the Pearson correlation of each indicator with conversion, ordered
// by absolute strength. Undefined correlations are kept, ordered last.
func EconomicCorrelations(table *io.RecordTable) ([]Correlation, error) {
	y, err := table.Float64Column(io.TargetColumn)
	if err != nil {
		return nil, err
	}
	result := make([]Correlation, 0, len(EconomicIndicators))
	for _, indicator := range EconomicIndicators {
		values, err := table.Float64Column(indicator)
		if err != nil {
			return nil, err
		}
		c := Correlation{Indicator: indicator}
		r := stat.Correlation(values, y, nil)
		if math.IsNaN(r) {
			log.Warn().Str("indicator", indicator).Msg("Correlation with conversion is undefined")
		} else {
			c.Correlation = &r
			if p, ok := correlationPValue(r, len(y)); ok {
				c.PValue = &p
				c.Significant = p < significanceLevel
			}
		}
		result = append(result, c)
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].Correlation, result[j].Correlation
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return math.Abs(*a) > math.Abs(*b)
	})
	return result, nil
}

const significanceLevel = 0.05

// correlationPValue is the two sided p-value of a Pearson correlation over n samples.
func correlationPValue(r float64, n int) (float64, bool) {
	if n < 3 {
		return 0, false
	}
	if math.Abs(r) >= 1 {
		return 0, true
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	return 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t)), true
}

const (
	Favorable   = "Favorable"
	Neutral     = "Neutral"
	Unfavorable = "Unfavorable"
)

type ConditionConversion struct {
	Condition      string  `json:"condition"`
	Contacts       int     `json:"contacts"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// EconomicConditions buckets contacts by the economic climate at contact time. Favorable contacts
// have consumer confidence and employment variation above their medians and euribor below its
// median. Unfavorable contacts have confidence below its first quartile and euribor above its third
// quartile, and take precedence. Empty buckets are left out, the rest are ordered from Unfavorable
// to Favorable.
func EconomicConditions(table *io.RecordTable) ([]ConditionConversion, error) {
	y, err := table.Float64Column(io.TargetColumn)
	if err != nil {
		return nil, err
	}
	confidence, err := table.Float64Column("cons.conf.idx")
	if err != nil {
		return nil, err
	}
	euribor, err := table.Float64Column("euribor3m")
	if err != nil {
		return nil, err
	}
	employment, err := table.Float64Column("emp.var.rate")
	if err != nil {
		return nil, err
	}
	if len(y) == 0 {
		return nil, nil
	}

	confidenceMedian, confidenceLow := quantile(confidence, 0.5), quantile(confidence, 0.25)
	euriborMedian, euriborHigh := quantile(euribor, 0.5), quantile(euribor, 0.75)
	employmentMedian := quantile(employment, 0.5)

	order := []string{Unfavorable, Neutral, Favorable}
	groups := map[string]*ConditionConversion{}
	for _, c := range order {
		groups[c] = &ConditionConversion{Condition: c}
	}
	for i := range y {
		condition := Neutral
		switch {
		case confidence[i] < confidenceLow && euribor[i] > euriborHigh:
			condition = Unfavorable
		case confidence[i] > confidenceMedian && euribor[i] < euriborMedian && employment[i] > employmentMedian:
			condition = Favorable
		}
		g := groups[condition]
		g.Contacts++
		if y[i] == 1 {
			g.Conversions++
		}
	}

	var result []ConditionConversion
	for _, c := range order {
		g := groups[c]
		if g.Contacts == 0 {
			continue
		}
		g.ConversionRate = float64(g.Conversions) / float64(g.Contacts)
		result = append(result, *g)
	}
	return result, nil
}

type IndicatorRange struct {
	Indicator      string  `json:"indicator"`
	Range          string  `json:"range"`
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`
	Contacts       int     `json:"contacts"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// IndicatorRanges reports conversion per quartile of every economic indicator. Quartile edges that
// coincide are merged, so an indicator can have fewer than four ranges. The first range includes
// its lower edge.
func IndicatorRanges(table *io.RecordTable) ([]IndicatorRange, error) {
	y, err := table.Float64Column(io.TargetColumn)
	if err != nil {
		return nil, err
	}
	var result []IndicatorRange
	for _, indicator := range EconomicIndicators {
		values, err := table.Float64Column(indicator)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}
		edges := quartileEdges(values)
		if len(edges) == 1 {
			log.Warn().Str("indicator", indicator).Msg("Indicator is constant, reporting a single range")
			edges = append(edges, edges[0])
		}

		ranges := make([]IndicatorRange, len(edges)-1)
		for b := range ranges {
			label := fmt.Sprintf("(%.3f, %.3f]", edges[b], edges[b+1])
			if b == 0 {
				label = fmt.Sprintf("[%.3f, %.3f]", edges[b], edges[b+1])
			}
			ranges[b] = IndicatorRange{Indicator: indicator, Range: label, Lower: edges[b], Upper: edges[b+1]}
		}
		for i, v := range values {
			b := sort.SearchFloat64s(edges[1:], v)
			if b >= len(ranges) {
				b = len(ranges) - 1
			}
			ranges[b].Contacts++
			if y[i] == 1 {
				ranges[b].Conversions++
			}
		}
		for b := range ranges {
			if ranges[b].Contacts > 0 {
				ranges[b].ConversionRate = float64(ranges[b].Conversions) / float64(ranges[b].Contacts)
			}
		}
		result = append(result, ranges...)
	}
	return result, nil
}

// quartileEdges returns the distinct minimum, quartiles and maximum of values.
func quartileEdges(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var edges []float64
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		q := stat.Quantile(p, stat.LinInterp, sorted, nil)
		if len(edges) == 0 || q > edges[len(edges)-1] {
			edges = append(edges, q)
		}
	}
	return edges
}

func quantile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
