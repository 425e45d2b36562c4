package pkg

import (
	"encoding/json"
	"fmt"
	gio "io"
	"os"

	"github.com/rs/zerolog/log"

	"campaignlens/pkg/io"
)

func printDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Int("line", err.Line).Msgf("Error parsing data: %s", err.Error)
	}
}

// LoadTable loads and cleans the bank CSV, logging every skipped line.
func LoadTable(dataFile string) (*io.RecordTable, error) {
	table, dataErrors, err := io.LoadTable(io.DataParameters{DataFile: dataFile})
	if err != nil {
		return nil, fmt.Errorf("error loading data from %s: %w", dataFile, err)
	}
	printDataErrors(dataErrors)
	if table.NumRows() == 0 {
		table.Release()
		return nil, fmt.Errorf("no data in %s", dataFile)
	}
	log.Info().Int("rows", table.NumRows()).Int("skipped", len(dataErrors)).Msg("Data loaded")
	return table, nil
}

// WriteReport writes v as indented JSON to the named file, or to out when the name is empty.
func WriteReport(outputFileName string, out gio.Writer, v interface{}) error {
	if outputFileName != "" {
		outputFile, err := os.Create(outputFileName)
		if err != nil {
			return fmt.Errorf("error opening output file %s: %w", outputFileName, err)
		}
		defer outputFile.Close()
		out = outputFile
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}
