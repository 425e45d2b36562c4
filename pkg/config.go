package pkg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"campaignlens/pkg/io"
	"campaignlens/pkg/model"
)

// Config holds the settings of one pipeline run. Zero values are never used directly, start from
// DefaultConfig.
type Config struct {
	Seed            uint64   `yaml:"seed"`
	TestFraction    float64  `yaml:"test_fraction"`
	ExcludeFeatures []string `yaml:"exclude_features"`

	UseSMOTE       bool `yaml:"use_smote"`
	SMOTENeighbors int  `yaml:"smote_neighbors"`

	PermutationImportance bool `yaml:"permutation_importance"`
	PermutationRepeats    int  `yaml:"permutation_repeats"`

	Models model.RosterConfig `yaml:"models"`

	Segments SegmentConfig `yaml:"segments"`
}

type SegmentConfig struct {
	Clusters int `yaml:"clusters"`
	Restarts int `yaml:"restarts"`
	MaxIter  int `yaml:"max_iter"`
	// MaxClusters is the largest cluster count of the elbow curve, 0 skips the curve
	MaxClusters int  `yaml:"max_clusters"`
	Projection  bool `yaml:"projection"`
}

func DefaultConfig() Config {
	return Config{
		Seed:               42,
		TestFraction:       0.2,
		ExcludeFeatures:    io.DefaultFeatureOptions().ExcludeFeatures,
		UseSMOTE:           true,
		SMOTENeighbors:     model.DefaultSMOTENeighbors,
		PermutationRepeats: 10,
		Models:             model.DefaultRosterConfig(),
		Segments: SegmentConfig{
			Clusters:    4,
			Restarts:    10,
			MaxIter:     300,
			MaxClusters: 10,
		},
	}
}

// LoadConfig reads a YAML file over the defaults, keys missing from the file keep their default value.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.TestFraction <= 0 || c.TestFraction >= 1:
		return fmt.Errorf("test_fraction must be in (0, 1), got %v", c.TestFraction)
	case c.SMOTENeighbors < 1:
		return fmt.Errorf("smote_neighbors must be at least 1, got %d", c.SMOTENeighbors)
	case c.PermutationRepeats < 1:
		return fmt.Errorf("permutation_repeats must be at least 1, got %d", c.PermutationRepeats)
	case c.Models.ForestEstimators < 1 || c.Models.BoostingEstimators < 1:
		return fmt.Errorf("estimator counts must be at least 1")
	case c.Models.Neighbors < 1:
		return fmt.Errorf("neighbors must be at least 1, got %d", c.Models.Neighbors)
	case c.Models.LogisticMaxIter < 1 || c.Models.LogisticC <= 0:
		return fmt.Errorf("logistic regression needs max_iter >= 1 and C > 0")
	case c.Segments.Clusters < 2:
		return fmt.Errorf("segments.clusters must be at least 2, got %d", c.Segments.Clusters)
	case c.Segments.Restarts < 1 || c.Segments.MaxIter < 1:
		return fmt.Errorf("segments need restarts >= 1 and max_iter >= 1")
	case c.Segments.MaxClusters == 1 || c.Segments.MaxClusters < 0:
		return fmt.Errorf("segments.max_clusters must be 0 or at least 2, got %d", c.Segments.MaxClusters)
	}
	return nil
}

func (c Config) FeatureOptions() io.FeatureOptions {
	return io.FeatureOptions{ExcludeFeatures: c.ExcludeFeatures}
}
