package pkg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"campaignlens/pkg/io"
)

func TestRunSegmentation(t *testing.T) {
	table := syntheticTable(t, 300, 40, 9)
	config := DefaultConfig()
	config.Segments.Restarts = 3
	config.Segments.MaxClusters = 4
	config.Segments.Projection = true

	result, err := RunSegmentation(table, config)
	require.NoError(t, err)

	require.Contains(t, result.Features, "age")
	require.Contains(t, result.Features, "job_encoded")
	require.NotContains(t, result.Features, "duration")
	require.NotContains(t, result.Features, "pdays")
	require.NotEmpty(t, result.Encodings["job"])

	require.LessOrEqual(t, len(result.Segments), 4)
	size := 0
	var share float64
	for _, s := range result.Segments {
		size += s.Size
		share += s.Share
		require.Equal(t, persona(s.ConversionRate), s.Persona)
		require.NotEmpty(t, s.TopJob)
		best, ok := segmentByNumber(result.Segments, result.BestSegment)
		require.True(t, ok)
		require.GreaterOrEqual(t, best.ConversionRate, s.ConversionRate)
	}
	require.Equal(t, 300, size)
	require.InDelta(t, 1.0, share, 1e-9)

	require.Equal(t, 3, len(result.Elbow))
	for i, p := range result.Elbow {
		require.Equal(t, i+2, p.Clusters)
		require.Greater(t, p.Inertia, 0.0)
	}

	require.NotNil(t, result.Projection)
	require.Equal(t, 300, len(result.Projection.PC1))
	require.Equal(t, 300, len(result.Projection.Segments))
	explained := result.Projection.ExplainedVariance
	require.GreaterOrEqual(t, explained[0], explained[1])
	require.LessOrEqual(t, explained[0]+explained[1], 1.0+1e-9)

	again, err := RunSegmentation(table, config)
	require.NoError(t, err)
	require.Equal(t, result.Assignments, again.Assignments)
	require.NotEqual(t, result.RunID, again.RunID)

	config.Segments.Clusters = 1
	_, err = RunSegmentation(table, config)
	require.Error(t, err)
}

func segmentByNumber(segments []SegmentProfile, number int) (SegmentProfile, bool) {
	for _, s := range segments {
		if s.Segment == number {
			return s, true
		}
	}
	return SegmentProfile{}, false
}

func TestProfileSegments(t *testing.T) {
	table, err := io.NewTableBuilder(nil).
		AddFloat64(io.TargetColumn, []float64{1, 0, 0, 1}).
		AddFloat64("age", []float64{30, 40, 50, 60}).
		AddFloat64("campaign", []float64{1, 3, 2, 2}).
		AddFloat64("previously_contacted", []float64{1, 0, 0, 0}).
		AddString("housing", []string{"yes", "no", "yes", "unknown"}).
		AddString("loan", []string{"no", "no", "yes", "no"}).
		AddString("job", []string{"technician", "admin.", "retired", "student"}).
		AddString("education", []string{"basic.4y", "basic.4y", "university.degree", "high.school"}).
		AddString("marital", []string{"single", "married", "married", "single"}).
		Build()
	require.NoError(t, err)
	defer table.Release()

	profiles, err := ProfileSegments(table, []int{0, 0, 1, 2}, 4)
	require.NoError(t, err)
	require.Equal(t, 3, len(profiles))
	require.Equal(t, SegmentProfile{
		Segment:             0,
		Size:                2,
		Share:               0.5,
		ConversionRate:      0.5,
		MeanAge:             35,
		MeanCampaign:        2,
		PreviouslyContacted: 0.5,
		HousingLoan:         0.5,
		PersonalLoan:        0,
		TopJob:              "admin.",
		TopEducation:        "basic.4y",
		TopMarital:          "married",
		Persona:             HighValuePersona,
	}, profiles[0])
	require.Equal(t, LowPersona, profiles[1].Persona)
	require.Equal(t, 2, profiles[2].Segment)
	require.Equal(t, 1.0, profiles[2].ConversionRate)

	_, err = ProfileSegments(table, []int{0, 1}, 2)
	require.Error(t, err)
	_, err = ProfileSegments(table, []int{0, 1, 2, 5}, 4)
	require.Error(t, err)
}
