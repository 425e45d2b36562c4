package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCampaign(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "bank.csv")

	generateCmd := GenerateCommand()
	generateCmd.SetArgs(strings.Split("-o "+dataFile+" -n 600 --positives 80 -x 7", " "))
	require.NoError(t, generateCmd.Execute())

	data, err := os.ReadFile(dataFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, 601, len(lines))
	require.True(t, strings.HasPrefix(lines[0], "age;job;marital"))

	reportFile := filepath.Join(dir, "models.json")
	modelsCmd := ModelsCommand()
	modelsCmd.SetArgs([]string{"-i", dataFile, "-o", reportFile, "-m", "Naive Bayes,Decision Tree", "--test-fraction", "0.25"})
	require.NoError(t, modelsCmd.Execute())

	var models struct {
		RunID     string `json:"run_id"`
		BestModel string `json:"best_model"`
		Models    []struct {
			Name    string `json:"name"`
			Metrics struct {
				F1     float64  `json:"f1"`
				ROCAUC *float64 `json:"roc_auc"`
			} `json:"metrics"`
			ROC []json.RawMessage `json:"roc_curve"`
		} `json:"models"`
	}
	report, err := os.ReadFile(reportFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(report, &models))
	require.NotEmpty(t, models.RunID)
	require.Equal(t, 2, len(models.Models))
	require.Equal(t, "Decision Tree", models.Models[0].Name)
	require.Contains(t, []string{"Decision Tree", "Naive Bayes"}, models.BestModel)
	for _, m := range models.Models {
		require.NotNil(t, m.Metrics.ROCAUC, m.Name)
		require.NotEmpty(t, m.ROC, m.Name)
	}

	importanceCmd := ImportanceCommand()
	out := bytes.NewBufferString("")
	importanceCmd.SetOut(out)
	importanceCmd.SetArgs([]string{"-i", dataFile, "--exclude-features", "duration,pdays"})
	require.NoError(t, importanceCmd.Execute())

	var importance struct {
		Methods []struct {
			Method string `json:"method"`
		} `json:"methods"`
		Aggregate []struct {
			Feature string  `json:"feature"`
			Score   float64 `json:"score"`
		} `json:"aggregate"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &importance))
	require.Equal(t, 3, len(importance.Methods))
	require.Equal(t, 18, len(importance.Aggregate))
	for _, s := range importance.Aggregate {
		require.NotEqual(t, "pdays", s.Feature)
	}

	overviewCmd := OverviewCommand()
	out.Reset()
	overviewCmd.SetOut(out)
	overviewCmd.SetArgs([]string{"-i", dataFile})
	require.NoError(t, overviewCmd.Execute())
	require.Contains(t, out.String(), `"conversions": 80`)
	require.Contains(t, out.String(), `"campaign_intensity"`)
	require.Contains(t, out.String(), `"economic_conditions"`)
	require.Contains(t, out.String(), `"indicator_ranges"`)

	segmentsCmd := SegmentsCommand()
	out.Reset()
	segmentsCmd.SetOut(out)
	segmentsCmd.SetArgs([]string{"-i", dataFile, "--clusters", "3", "--max-clusters", "3"})
	require.NoError(t, segmentsCmd.Execute())

	var segments struct {
		Clusters int `json:"clusters"`
		Segments []struct {
			Size int `json:"size"`
		} `json:"segments"`
		Elbow []struct {
			Clusters int `json:"clusters"`
		} `json:"elbow"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &segments))
	require.Equal(t, 3, segments.Clusters)
	total := 0
	for _, s := range segments.Segments {
		total += s.Size
	}
	require.Equal(t, 600, total)
	require.Equal(t, 2, len(segments.Elbow))
}

func TestModelsCommand_BadConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("smote_neighbors: 0\n"), 0o600))

	cmd := ModelsCommand()
	cmd.SetArgs([]string{"-i", filepath.Join(dir, "missing.csv"), "-c", configFile})
	cmd.SilenceUsage = true
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "smote_neighbors")
}
