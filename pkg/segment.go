package pkg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"campaignlens/pkg/io"
	"campaignlens/pkg/model"
)

// SegmentFeatures are the continuous columns clustered together with every encoded categorical
// column of the table.
var SegmentFeatures = []string{
	"age", "campaign", "previous",
	"emp.var.rate", "cons.price.idx", "cons.conf.idx", "euribor3m", "nr.employed",
}

const (
	HighValuePersona = "High-Value Targets"
	ModeratePersona  = "Moderate Potential"
	LowPersona       = "Low Converters"
)

type SegmentProfile struct {
	Segment             int     `json:"segment"`
	Size                int     `json:"size"`
	Share               float64 `json:"share"`
	ConversionRate      float64 `json:"conversion_rate"`
	MeanAge             float64 `json:"mean_age"`
	MeanCampaign        float64 `json:"mean_campaign"`
	PreviouslyContacted float64 `json:"previously_contacted"`
	HousingLoan         float64 `json:"housing_loan"`
	PersonalLoan        float64 `json:"personal_loan"`
	TopJob              string  `json:"top_job"`
	TopEducation        string  `json:"top_education"`
	TopMarital          string  `json:"top_marital"`
	Persona             string  `json:"persona"`
}

type ElbowPoint struct {
	Clusters int     `json:"clusters"`
	Inertia  float64 `json:"inertia"`
}

// SegmentProjection holds every row's scores on the first two principal components of the
// clustered features.
type SegmentProjection struct {
	ExplainedVariance [2]float64 `json:"explained_variance"`
	PC1               []float64  `json:"pc1"`
	PC2               []float64  `json:"pc2"`
	Segments          []int      `json:"segments"`
	Subscribed        []float64  `json:"subscribed"`
}

type SegmentationResult struct {
	RunID       string              `json:"run_id"`
	Features    []string            `json:"features"`
	Clusters    int                 `json:"clusters"`
	Inertia     float64             `json:"inertia"`
	Iterations  int                 `json:"iterations"`
	Segments    []SegmentProfile    `json:"segments"`
	BestSegment int                 `json:"best_segment"`
	Elbow       []ElbowPoint        `json:"elbow,omitempty"`
	Encodings   map[string][]string `json:"encodings"`
	Projection  *SegmentProjection  `json:"projection,omitempty"`
	Assignments []int               `json:"-"`
}

// RunSegmentation clusters customers on their standardized profile and economic context and
// describes every resulting segment.
func RunSegmentation(table *io.RecordTable, config Config) (*SegmentationResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	segments := config.Segments

	x, names, mapping, err := segmentMatrix(table)
	if err != nil {
		return nil, err
	}
	log.Info().Str("run", runID).Int("features", len(names)).Int("clusters", segments.Clusters).Msg("Segmentation started")

	km := newKMeans(segments, segments.Clusters, config.Seed)
	if err := km.Fit(x); err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	result := &SegmentationResult{
		RunID:       runID,
		Features:    names,
		Clusters:    segments.Clusters,
		Inertia:     km.Inertia,
		Iterations:  km.Iterations,
		Encodings:   mapping.Categories(),
		Assignments: km.Labels,
	}
	result.Segments, err = ProfileSegments(table, km.Labels, segments.Clusters)
	if err != nil {
		return nil, err
	}
	best := 0
	for i, s := range result.Segments {
		if s.ConversionRate > result.Segments[best].ConversionRate {
			best = i
		}
		log.Info().Int("segment", s.Segment).Int("size", s.Size).Float64("conversion_rate", s.ConversionRate).Msg(segmentSummary(s))
	}
	if len(result.Segments) > 0 {
		result.BestSegment = result.Segments[best].Segment
	}

	if segments.MaxClusters > 0 {
		result.Elbow, err = ElbowCurve(x, segments, config.Seed)
		if err != nil {
			return nil, err
		}
	}
	if segments.Projection {
		y, err := table.Float64Column(io.TargetColumn)
		if err != nil {
			return nil, err
		}
		result.Projection, err = project(x, km.Labels, y)
		if err != nil {
			return nil, err
		}
	}
	log.Info().Str("run", runID).Float64("inertia", result.Inertia).Int("best", result.BestSegment).Msg("Segmentation finished")
	return result, nil
}

func newKMeans(config SegmentConfig, clusters int, seed uint64) *model.KMeans {
	km := model.NewKMeans(clusters, seed)
	km.Restarts = config.Restarts
	km.MaxIter = config.MaxIter
	return km
}

// ElbowCurve reports the inertia for every cluster count from 2 to MaxClusters, capped at the row
// count.
func ElbowCurve(x mat.Matrix, config SegmentConfig, seed uint64) ([]ElbowPoint, error) {
	n, _ := x.Dims()
	var result []ElbowPoint
	for k := 2; k <= config.MaxClusters && k <= n; k++ {
		km := newKMeans(config, k, seed)
		if err := km.Fit(x); err != nil {
			return nil, fmt.Errorf("elbow curve with %d clusters: %w", k, err)
		}
		result = append(result, ElbowPoint{Clusters: k, Inertia: km.Inertia})
	}
	return result, nil
}

// segmentMatrix encodes and standardizes the clustering features. Constant columns carry no
// distance information and are dropped.
func segmentMatrix(table *io.RecordTable) (*mat.Dense, []string, model.LabelMapping, error) {
	preparer, err := io.NewPreparer(table)
	if err != nil {
		return nil, nil, nil, err
	}
	mapping := preparer.Mapping()
	wanted := map[string]bool{}
	for _, name := range SegmentFeatures {
		wanted[name] = true
	}
	for _, col := range mapping.Columns() {
		wanted[col+"_encoded"] = true
	}
	var excluded []string
	for _, name := range (io.FeatureOptions{}).FeatureNames() {
		if !wanted[name] {
			excluded = append(excluded, name)
		}
	}
	features, err := preparer.Prepare(table, io.FeatureOptions{ExcludeFeatures: excluded})
	if err != nil {
		return nil, nil, nil, err
	}

	x, names := dropConstantColumns(features.X, features.Names)
	if len(names) == 0 {
		return nil, nil, nil, model.NewDataQualityError("segmentMatrix", "", "every clustering feature is constant")
	}
	scaler, err := model.FitScaler(x, names)
	if err != nil {
		return nil, nil, nil, err
	}
	scaled, err := scaler.Transform(x)
	if err != nil {
		return nil, nil, nil, err
	}
	return scaled, names, mapping, nil
}

func dropConstantColumns(x *mat.Dense, names []string) (*mat.Dense, []string) {
	r, c := x.Dims()
	var keep []int
	var kept []string
	for j := 0; j < c; j++ {
		if stat.PopVariance(mat.Col(nil, j, x), nil) > 0 {
			keep = append(keep, j)
			kept = append(kept, names[j])
			continue
		}
		log.Warn().Str("feature", names[j]).Msg("Constant feature left out of clustering")
	}
	if len(keep) == c || len(keep) == 0 {
		return x, kept
	}
	result := mat.NewDense(r, len(keep), nil)
	for j, col := range keep {
		result.SetCol(j, mat.Col(nil, col, x))
	}
	return result, kept
}

// ProfileSegments describes every non-empty segment, ordered by segment number.
func ProfileSegments(table *io.RecordTable, labels []int, clusters int) ([]SegmentProfile, error) {
	numeric := map[string][]float64{}
	for _, col := range []string{io.TargetColumn, "age", "campaign", "previously_contacted"} {
		values, err := table.Float64Column(col)
		if err != nil {
			return nil, err
		}
		numeric[col] = values
	}
	categorical := map[string][]string{}
	for _, col := range []string{"housing", "loan", "job", "education", "marital"} {
		values, err := table.StringColumn(col)
		if err != nil {
			return nil, err
		}
		categorical[col] = values
	}
	if len(labels) != table.NumRows() {
		return nil, model.NewShapeMismatchError("ProfileSegments", table.NumRows(), len(labels), "segment labels")
	}

	members := make([][]int, clusters)
	for i, label := range labels {
		if label < 0 || label >= clusters {
			return nil, fmt.Errorf("segment label %d out of range [0, %d)", label, clusters)
		}
		members[label] = append(members[label], i)
	}

	var result []SegmentProfile
	for segment, rows := range members {
		if len(rows) == 0 {
			continue
		}
		p := SegmentProfile{
			Segment:             segment,
			Size:                len(rows),
			Share:               float64(len(rows)) / float64(len(labels)),
			ConversionRate:      meanOf(numeric[io.TargetColumn], rows),
			MeanAge:             meanOf(numeric["age"], rows),
			MeanCampaign:        meanOf(numeric["campaign"], rows),
			PreviouslyContacted: meanOf(numeric["previously_contacted"], rows),
			HousingLoan:         shareOf(categorical["housing"], rows, "yes"),
			PersonalLoan:        shareOf(categorical["loan"], rows, "yes"),
			TopJob:              modeOf(categorical["job"], rows),
			TopEducation:        modeOf(categorical["education"], rows),
			TopMarital:          modeOf(categorical["marital"], rows),
		}
		p.Persona = persona(p.ConversionRate)
		result = append(result, p)
	}
	return result, nil
}

func persona(conversionRate float64) string {
	switch {
	case conversionRate > 0.15:
		return HighValuePersona
	case conversionRate > 0.08:
		return ModeratePersona
	default:
		return LowPersona
	}
}

func meanOf(values []float64, rows []int) float64 {
	selected := make([]float64, len(rows))
	for i, r := range rows {
		selected[i] = values[r]
	}
	return stat.Mean(selected, nil)
}

func shareOf(values []string, rows []int, value string) float64 {
	count := 0
	for _, r := range rows {
		if values[r] == value {
			count++
		}
	}
	return float64(count) / float64(len(rows))
}

// modeOf returns the most frequent value, the lexically smallest one on ties.
func modeOf(values []string, rows []int) string {
	counts := map[string]int{}
	for _, r := range rows {
		counts[values[r]]++
	}
	distinct := make([]string, 0, len(counts))
	for v := range counts {
		distinct = append(distinct, v)
	}
	sort.Strings(distinct)
	best := ""
	for _, v := range distinct {
		if best == "" || counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

// project scores every row on the first two principal components.
func project(x *mat.Dense, labels []int, y []float64) (*SegmentProjection, error) {
	r, c := x.Dims()
	if r < 2 || c < 2 {
		return nil, model.NewDataQualityError("project", "", "a projection needs at least two rows and two features")
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, model.NewDataQualityError("project", "", "principal component analysis failed")
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)
	variances := pc.VarsTo(nil)

	var scores mat.Dense
	scores.Mul(x, vectors.Slice(0, c, 0, 2))
	p := &SegmentProjection{
		PC1:        mat.Col(nil, 0, &scores),
		PC2:        mat.Col(nil, 1, &scores),
		Segments:   labels,
		Subscribed: y,
	}
	if total := floats.Sum(variances); total > 0 {
		p.ExplainedVariance = [2]float64{variances[0] / total, variances[1] / total}
	}
	return p, nil
}

// segmentSummary is a one line description of a segment for logs.
func segmentSummary(p SegmentProfile) string {
	return strings.Join([]string{p.Persona, p.TopJob, p.TopEducation, p.TopMarital}, ", ")
}
