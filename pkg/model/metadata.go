package model

import "sort"

// NameMap implements a bidirectional mapping between a category value and its integer code
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

// NewSortedNameMap assigns codes to the distinct values in lexical order.
func NewSortedNameMap(values []string) NameMap {
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		distinct[v] = struct{}{}
	}
	sorted := make([]string, 0, len(distinct))
	for v := range distinct {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	m := NewNameMap()
	for i, v := range sorted {
		m.Set(v, i)
	}
	return m
}

// LabelMapping maps a categorical column name to its value encoding. It is fit once on the full
// table and never refit per split.
type LabelMapping map[string]NameMap

// Columns returns the mapped column names in sorted order
func (l LabelMapping) Columns() []string {
	result := make([]string, 0, len(l))
	for col := range l {
		result = append(result, col)
	}
	sort.Strings(result)
	return result
}

func (l LabelMapping) Encode(column, value string) (int, error) {
	m, ok := l[column]
	if !ok {
		return 0, NewMissingColumnError("Encode", column)
	}
	code, ok := m.ContainsName(value)
	if !ok {
		return 0, NewDataQualityError("Encode", column, "unknown category value '"+value+"'")
	}
	return code, nil
}

// Categories lists every mapped column's values in code order.
func (l LabelMapping) Categories() map[string][]string {
	result := make(map[string][]string, len(l))
	for _, col := range l.Columns() {
		m := l[col]
		values := make([]string, m.Size())
		for i := range values {
			values[i] = m.IndexToName[i]
		}
		result[col] = values
	}
	return result
}
