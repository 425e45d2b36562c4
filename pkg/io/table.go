package io

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"campaignlens/pkg/model"
)

// RecordTable is the immutable, column-oriented contact table consumed by the pipeline. It owns
// an arrow record and must be released by its owner.
type RecordTable struct {
	record arrow.Record
}

func NewRecordTable(record arrow.Record) *RecordTable {
	record.Retain()
	return &RecordTable{record: record}
}

func (t *RecordTable) Release() {
	t.record.Release()
}

func (t *RecordTable) NumRows() int {
	return int(t.record.NumRows())
}

// Columns returns the column names in schema order
func (t *RecordTable) Columns() []string {
	fields := t.record.Schema().Fields()
	result := make([]string, len(fields))
	for i, f := range fields {
		result[i] = f.Name
	}
	return result
}

func (t *RecordTable) HasColumn(name string) bool {
	return len(t.record.Schema().FieldIndices(name)) > 0
}

func (t *RecordTable) columnType(name string) arrow.Type {
	indices := t.record.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return arrow.NULL
	}
	return t.record.Schema().Field(indices[0]).Type.ID()
}

func (t *RecordTable) column(op, name string) (arrow.Array, error) {
	indices := t.record.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, model.NewMissingColumnError(op, name)
	}
	return t.record.Column(indices[0]), nil
}

// Float64Column returns a copy of a numeric column.
func (t *RecordTable) Float64Column(name string) ([]float64, error) {
	col, err := t.column("Float64Column", name)
	if err != nil {
		return nil, err
	}
	values, ok := col.(*array.Float64)
	if !ok {
		return nil, &model.Error{Kind: model.MissingColumn, Op: "Float64Column", Column: name,
			Message: "column is " + col.DataType().Name() + ", not float64"}
	}
	return append([]float64(nil), values.Float64Values()...), nil
}

func (t *RecordTable) StringColumn(name string) ([]string, error) {
	col, err := t.column("StringColumn", name)
	if err != nil {
		return nil, err
	}
	values, ok := col.(*array.String)
	if !ok {
		return nil, &model.Error{Kind: model.MissingColumn, Op: "StringColumn", Column: name,
			Message: "column is " + col.DataType().Name() + ", not string"}
	}
	result := make([]string, values.Len())
	for i := range result {
		result[i] = values.Value(i)
	}
	return result, nil
}

type pendingColumn struct {
	field   arrow.Field
	floats  []float64
	strings []string
}

// TableBuilder collects typed columns and assembles them into a RecordTable.
type TableBuilder struct {
	mem     memory.Allocator
	columns []pendingColumn
}

func NewTableBuilder(mem memory.Allocator) *TableBuilder {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &TableBuilder{mem: mem}
}

func (b *TableBuilder) AddFloat64(name string, values []float64) *TableBuilder {
	b.columns = append(b.columns, pendingColumn{
		field:  arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64},
		floats: values,
	})
	return b
}

func (b *TableBuilder) AddString(name string, values []string) *TableBuilder {
	b.columns = append(b.columns, pendingColumn{
		field:   arrow.Field{Name: name, Type: arrow.BinaryTypes.String},
		strings: values,
	})
	return b
}

// Build fails with a ShapeMismatch error when the columns differ in length.
func (b *TableBuilder) Build() (*RecordTable, error) {
	rows := -1
	fields := make([]arrow.Field, len(b.columns))
	arrays := make([]arrow.Array, len(b.columns))
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	for i, c := range b.columns {
		n := len(c.floats)
		if c.field.Type.ID() == arrow.STRING {
			n = len(c.strings)
		}
		if rows >= 0 && n != rows {
			return nil, &model.Error{Kind: model.ShapeMismatch, Op: "TableBuilder.Build", Column: c.field.Name,
				Message: "column length differs from the first column"}
		}
		rows = n
		fields[i] = c.field

		switch c.field.Type.ID() {
		case arrow.STRING:
			builder := array.NewStringBuilder(b.mem)
			builder.AppendValues(c.strings, nil)
			arrays[i] = builder.NewArray()
			builder.Release()
		default:
			builder := array.NewFloat64Builder(b.mem)
			builder.AppendValues(c.floats, nil)
			arrays[i] = builder.NewArray()
			builder.Release()
		}
	}
	if rows < 0 {
		rows = 0
	}

	record := array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(rows))
	defer record.Release()
	return NewRecordTable(record), nil
}
