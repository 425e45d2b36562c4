package model

const (
	LogisticRegressionName = "Logistic Regression"
	RandomForestName       = "Random Forest"
	GradientBoostingName   = "Gradient Boosting"
	DecisionTreeName       = "Decision Tree"
	KNNName                = "KNN"
	NaiveBayesName         = "Naive Bayes"
)

// RosterConfig holds the fixed settings of every classifier in the roster.
type RosterConfig struct {
	Seed uint64 `yaml:"seed"`

	LogisticC       float64 `yaml:"logistic_c"`
	LogisticMaxIter int     `yaml:"logistic_max_iter"`

	ForestEstimators int `yaml:"forest_estimators"`
	// ForestMaxDepth of 0 grows every tree until its leaves are pure
	ForestMaxDepth int `yaml:"forest_max_depth"`

	BoostingEstimators   int     `yaml:"boosting_estimators"`
	BoostingLearningRate float64 `yaml:"boosting_learning_rate"`
	BoostingMaxDepth     int     `yaml:"boosting_max_depth"`

	TreeMaxDepth int `yaml:"tree_max_depth"`

	Neighbors    int     `yaml:"neighbors"`
	VarSmoothing float64 `yaml:"var_smoothing"`
}

func DefaultRosterConfig() RosterConfig {
	return RosterConfig{
		Seed:                 42,
		LogisticC:            1.0,
		LogisticMaxIter:      1000,
		ForestEstimators:     100,
		BoostingEstimators:   100,
		BoostingLearningRate: 0.1,
		BoostingMaxDepth:     3,
		TreeMaxDepth:         10,
		Neighbors:            5,
		VarSmoothing:         1e-9,
	}
}

type RosterEntry struct {
	Name string
	New  func() Classifier
}

// Roster returns the classifiers in their fixed order. Logistic regression, random forest and the
// decision tree additionally weight classes by inverse frequency.
func Roster(config RosterConfig) []RosterEntry {
	return []RosterEntry{
		{LogisticRegressionName, func() Classifier {
			return NewLogisticRegression(config.LogisticC, config.LogisticMaxIter, Balanced)
		}},
		{RandomForestName, func() Classifier {
			f := NewRandomForest(config.ForestEstimators, Balanced, config.Seed)
			f.MaxDepth = config.ForestMaxDepth
			return f
		}},
		{GradientBoostingName, func() Classifier {
			return NewGradientBoosting(config.BoostingEstimators, config.BoostingLearningRate, config.BoostingMaxDepth, config.Seed)
		}},
		{DecisionTreeName, func() Classifier {
			return NewDecisionTree(config.TreeMaxDepth, Balanced, config.Seed)
		}},
		{KNNName, func() Classifier {
			return NewKNearestNeighbors(config.Neighbors)
		}},
		{NaiveBayesName, func() Classifier {
			return NewGaussianNB(config.VarSmoothing)
		}},
	}
}
