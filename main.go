package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"campaignlens/pkg"
	"campaignlens/pkg/io"
)

// prepare loads the --config file, applies explicitly set flags on top of it and prepares the data.
func prepare(cmd *cobra.Command, inputFile, configFile string, overrides *configFlags) (*pkg.Dataset, pkg.Config, error) {
	config, err := pkg.LoadConfig(configFile)
	if err != nil {
		return nil, config, err
	}
	overrides.apply(cmd, &config)
	if err := config.Validate(); err != nil {
		return nil, config, err
	}
	table, err := pkg.LoadTable(inputFile)
	if err != nil {
		return nil, config, err
	}
	defer table.Release()
	dataset, err := pkg.PrepareDataset(table, config)
	return dataset, config, err
}

type configFlags struct {
	seed            uint64
	testFraction    float64
	excludeFeatures []string
	noSMOTE         bool
	smoteNeighbors  int
}

func (f *configFlags) register(cmd *cobra.Command) {
	defaults := pkg.DefaultConfig()
	cmd.Flags().Uint64VarP(&f.seed, "random-seed", "x", defaults.Seed, "random seed")
	cmd.Flags().Float64VarP(&f.testFraction, "test-fraction", "", defaults.TestFraction, "fraction of each class held out for evaluation")
	cmd.Flags().StringSliceVarP(&f.excludeFeatures, "exclude-features", "", defaults.ExcludeFeatures, "features left out of the model inputs")
	cmd.Flags().BoolVarP(&f.noSMOTE, "no-smote", "", false, "train on the imbalanced training partition")
	cmd.Flags().IntVarP(&f.smoteNeighbors, "smote-neighbors", "k", defaults.SMOTENeighbors, "neighbours used to synthesize minority rows")
}

// apply overrides only the flags given on the command line, so config file values survive.
func (f *configFlags) apply(cmd *cobra.Command, config *pkg.Config) {
	if cmd.Flags().Changed("random-seed") {
		config.Seed = f.seed
	}
	if cmd.Flags().Changed("test-fraction") {
		config.TestFraction = f.testFraction
	}
	if cmd.Flags().Changed("exclude-features") {
		config.ExcludeFeatures = f.excludeFeatures
	}
	if cmd.Flags().Changed("no-smote") {
		config.UseSMOTE = !f.noSMOTE
	}
	if cmd.Flags().Changed("smote-neighbors") {
		config.SMOTENeighbors = f.smoteNeighbors
	}
}

func OverviewCommand() *cobra.Command {
	var inputFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "overview -i dataFile [-o outputFile]",
		Short: "Reports conversion statistics, contact strategy views and economic impact",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := pkg.LoadTable(inputFile)
			if err != nil {
				return err
			}
			defer table.Release()

			overview, err := pkg.Overview(table)
			if err != nil {
				return err
			}
			views := map[string][]pkg.GroupConversion{}
			for _, column := range pkg.ContactViews {
				groups, err := pkg.ConversionBy(table, column)
				if err != nil {
					return err
				}
				views[column] = groups
			}
			correlations, err := pkg.EconomicCorrelations(table)
			if err != nil {
				return err
			}
			conditions, err := pkg.EconomicConditions(table)
			if err != nil {
				return err
			}
			ranges, err := pkg.IndicatorRanges(table)
			if err != nil {
				return err
			}
			log.Info().Int("rows", overview.Rows).Float64("conversion_rate", overview.ConversionRate).Msg("Overview")

			return pkg.WriteReport(outputFile, cmd.OutOrStdout(), struct {
				Overview     pkg.DatasetOverview              `json:"overview"`
				Contact      map[string][]pkg.GroupConversion `json:"contact_strategy"`
				Correlations []pkg.Correlation                `json:"economic_correlations"`
				Conditions   []pkg.ConditionConversion        `json:"economic_conditions"`
				Ranges       []pkg.IndicatorRange             `json:"indicator_ranges"`
			}{overview, views, correlations, conditions, ranges})
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of report output file (optional, uses stdout if not present)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func ModelsCommand() *cobra.Command {
	var inputFile string
	var outputFile string
	var configFile string
	var models []string
	var overrides configFlags

	var cmd = &cobra.Command{
		Use:   "models -i dataFile [-o outputFile] [--model name]",
		Short: "Trains the classifier roster and evaluates every model on the holdout partition",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, config, err := prepare(cmd, inputFile, configFile, &overrides)
			if err != nil {
				return err
			}
			result, err := pkg.RunPredictiveModeling(dataset.Split, config, models...)
			if err != nil {
				return err
			}
			return pkg.WriteReport(outputFile, cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of report output file (optional, uses stdout if not present)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (optional)")
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "train only the named models")
	overrides.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func ImportanceCommand() *cobra.Command {
	var inputFile string
	var outputFile string
	var configFile string
	var permutation bool
	var overrides configFlags

	var cmd = &cobra.Command{
		Use:   "importance -i dataFile [-o outputFile] [--permutation]",
		Short: "Ranks features by their importance aggregated over several methods",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, config, err := prepare(cmd, inputFile, configFile, &overrides)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("permutation") {
				config.PermutationImportance = permutation
			}
			result, err := pkg.RunFeatureImportance(dataset.Split, config)
			if err != nil {
				return err
			}
			return pkg.WriteReport(outputFile, cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of report output file (optional, uses stdout if not present)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (optional)")
	cmd.Flags().BoolVarP(&permutation, "permutation", "p", false, "add holdout permutation importance of the random forest")
	overrides.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func SegmentsCommand() *cobra.Command {
	var inputFile string
	var outputFile string
	var configFile string
	var seed uint64
	var segments pkg.SegmentConfig

	var cmd = &cobra.Command{
		Use:   "segments -i dataFile [-o outputFile] [--clusters n]",
		Short: "Clusters customers into segments and profiles each segment",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := pkg.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("random-seed") {
				config.Seed = seed
			}
			if cmd.Flags().Changed("clusters") {
				config.Segments.Clusters = segments.Clusters
			}
			if cmd.Flags().Changed("max-clusters") {
				config.Segments.MaxClusters = segments.MaxClusters
			}
			if cmd.Flags().Changed("projection") {
				config.Segments.Projection = segments.Projection
			}
			table, err := pkg.LoadTable(inputFile)
			if err != nil {
				return err
			}
			defer table.Release()

			result, err := pkg.RunSegmentation(table, config)
			if err != nil {
				return err
			}
			return pkg.WriteReport(outputFile, cmd.OutOrStdout(), result)
		},
	}

	defaults := pkg.DefaultConfig()
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of report output file (optional, uses stdout if not present)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (optional)")
	cmd.Flags().Uint64VarP(&seed, "random-seed", "x", defaults.Seed, "random seed")
	cmd.Flags().IntVarP(&segments.Clusters, "clusters", "n", defaults.Segments.Clusters, "number of segments")
	cmd.Flags().IntVarP(&segments.MaxClusters, "max-clusters", "", defaults.Segments.MaxClusters, "largest cluster count of the elbow curve, 0 skips it")
	cmd.Flags().BoolVarP(&segments.Projection, "projection", "p", false, "add the two component projection of every customer")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func GenerateCommand() *cobra.Command {
	var outputFile string
	var params io.SyntheticParameters

	var cmd = &cobra.Command{
		Use:   "generate -o outputFile [--rows n] [--positives n]",
		Short: "Writes a synthetic bank campaign dataset",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := io.SyntheticTable(params)
			if err != nil {
				return err
			}
			defer table.Release()

			output, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("error opening output file %s: %w", outputFile, err)
			}
			defer output.Close()
			if err := io.WriteCSV(table, output, ';'); err != nil {
				return err
			}
			log.Info().Int("rows", params.Rows).Int("positives", params.Positives).Str("file", outputFile).Msg("Synthetic data written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of the CSV file to write")
	cmd.Flags().IntVarP(&params.Rows, "rows", "n", 1000, "number of rows")
	cmd.Flags().IntVarP(&params.Positives, "positives", "", 100, "number of subscribed customers")
	cmd.Flags().Uint64VarP(&params.Seed, "random-seed", "x", 42, "random seed")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "campaignlens", PersistentPreRun: setupLogging}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(OverviewCommand())
	Main.AddCommand(ModelsCommand())
	Main.AddCommand(ImportanceCommand())
	Main.AddCommand(SegmentsCommand())
	Main.AddCommand(GenerateCommand())

	if err := Main.Execute(); err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")

	}

}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
