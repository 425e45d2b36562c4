package model

import (
	"fmt"
)

type ErrorKind int

const (
	MissingColumn ErrorKind = iota + 1
	ShapeMismatch
	DataQuality
)

func (k ErrorKind) String() string {
	switch k {
	case MissingColumn:
		return "MissingColumn"
	case ShapeMismatch:
		return "ShapeMismatch"
	case DataQuality:
		return "DataQualityError"
	default:
		return "UnknownError"
	}
}

// Error is returned for structural (MissingColumn, ShapeMismatch) and degenerate-distribution
// (DataQuality) failures. Structural errors are fatal, DataQuality errors can be recovered by the
// caller with a reduced configuration.
type Error struct {
	Kind    ErrorKind
	Op      string
	Column  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: %s failed on column '%s': %s", e.Kind, e.Op, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind only, so errors.Is(err, ErrDataQuality) holds for every DataQuality error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingColumn = &Error{Kind: MissingColumn}
	ErrShapeMismatch = &Error{Kind: ShapeMismatch}
	ErrDataQuality   = &Error{Kind: DataQuality}
)

func NewMissingColumnError(op, column string) *Error {
	return &Error{
		Kind:    MissingColumn,
		Op:      op,
		Column:  column,
		Message: "column does not exist",
	}
}

func NewShapeMismatchError(op string, expected, actual int, what string) *Error {
	return &Error{
		Kind:    ShapeMismatch,
		Op:      op,
		Message: fmt.Sprintf("expected %d %s, got %d", expected, what, actual),
	}
}

func NewDataQualityError(op, column, message string) *Error {
	return &Error{
		Kind:    DataQuality,
		Op:      op,
		Column:  column,
		Message: message,
	}
}
