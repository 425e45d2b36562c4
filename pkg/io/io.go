package io

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	// LabelColumn is the raw yes/no outcome column of the bank dataset
	LabelColumn = "y"
	// TargetColumn is the binary label derived from LabelColumn
	TargetColumn = "y_binary"
)

// NumericColumns are parsed as float64, every other column is kept as a string.
var NumericColumns = []string{
	"age", "duration", "campaign", "pdays", "previous",
	"emp.var.rate", "cons.price.idx", "cons.conf.idx", "euribor3m", "nr.employed",
}

type DataParameters struct {
	DataFile  string
	Delimiter rune
	// Allocator backs the arrow columns, nil uses the Go allocator
	Allocator memory.Allocator
}

type DataError struct {
	Line  int
	Error string
}

// LoadTable reads the bank CSV (header row required) and returns the cleaned record table.
// Lines that cannot be parsed are skipped and reported as DataErrors.
func LoadTable(p DataParameters) (*RecordTable, []DataError, error) {
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()

	raw, dataErrors, err := ReadTable(inputFile, p)
	if err != nil {
		return nil, nil, err
	}
	defer raw.Release()

	cleaned, err := Clean(raw, p.Allocator)
	if err != nil {
		return nil, nil, err
	}
	return cleaned, dataErrors, nil
}

// ReadTable parses delimited records without cleaning them.
func ReadTable(input io.Reader, p DataParameters) (*RecordTable, []DataError, error) {
	reader := csv.NewReader(input)
	reader.Comma = ';'
	if p.Delimiter != 0 {
		reader.Comma = p.Delimiter
	}
	reader.LazyQuotes = true

	//First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data header: %w", err)
	}
	reader.FieldsPerRecord = len(header)

	numeric := make(map[int]bool, len(NumericColumns))
	for i, col := range header {
		for _, n := range NumericColumns {
			if col == n {
				numeric[i] = true
			}
		}
	}

	floats := make([][]float64, len(header))
	strings := make([][]string, len(header))
	var dataErrors []DataError
	parsed := make([]float64, len(header))

	currentLine := 1
	for {
		record, err := reader.Read()
		currentLine++
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				dataErrors = append(dataErrors, DataError{Line: currentLine, Error: err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("error reading line %d: %w", currentLine, err)
		}

		valid := true
		for i := range header {
			if !numeric[i] {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				dataErrors = append(dataErrors, DataError{
					Line:  currentLine,
					Error: fmt.Sprintf("error parsing feature %s: %s", header[i], err),
				})
				valid = false
				break
			}
			parsed[i] = v
		}
		if !valid {
			continue
		}
		for i := range header {
			if numeric[i] {
				floats[i] = append(floats[i], parsed[i])
			} else {
				strings[i] = append(strings[i], record[i])
			}
		}
	}

	b := NewTableBuilder(p.Allocator)
	for i, col := range header {
		if numeric[i] {
			b.AddFloat64(col, floats[i])
		} else {
			b.AddString(col, strings[i])
		}
	}
	table, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return table, dataErrors, nil
}

// WriteCSV writes every column of the table with a header row.
func WriteCSV(t *RecordTable, output io.Writer, delimiter rune) error {
	writer := csv.NewWriter(output)
	writer.Comma = delimiter

	columns := t.Columns()
	values := make([][]string, len(columns))
	for i, col := range columns {
		if t.columnType(col) == arrow.FLOAT64 {
			floats, err := t.Float64Column(col)
			if err != nil {
				return err
			}
			values[i] = make([]string, len(floats))
			for j, v := range floats {
				values[i][j] = strconv.FormatFloat(v, 'f', -1, 64)
			}
			continue
		}
		strs, err := t.StringColumn(col)
		if err != nil {
			return err
		}
		values[i] = strs
	}

	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	record := make([]string, len(columns))
	for row := 0; row < t.NumRows(); row++ {
		for i := range columns {
			record[i] = values[i][row]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing line %d: %w", row+2, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
