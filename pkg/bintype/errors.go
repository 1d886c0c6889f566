package bintype

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/twinfer/bintype/pkg/expression"
)

// SemanticError is a compile-time problem at a definition position.
type SemanticError struct {
	Pos expression.Pos
	Msg string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// CompileError holds every SemanticError found while compiling a definition.
type CompileError struct {
	Errors []*SemanticError
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		msgs[i] = se.Error()
	}
	return fmt.Sprintf("compiling definition: %d error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual errors to errors.As.
func (e *CompileError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, se := range e.Errors {
		errs[i] = se
	}
	return errs
}

// UnresolvedReferenceError is raised when an expression reads a name that has
// no value at evaluation time.
type UnresolvedReferenceError struct {
	Field  string
	Offset int64
	Ref    string
	Err    error
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("field %s at offset %d: unresolved reference %q", e.Field, e.Offset, e.Ref)
}

func (e *UnresolvedReferenceError) Unwrap() error { return e.Err }

// TruncatedStreamError is raised when the stream ends inside a read that
// must be satisfied.
type TruncatedStreamError struct {
	Field  string
	Offset int64
	Want   int
	Got    int
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("field %s at offset %d: stream truncated: wanted %d byte(s), got %d", e.Field, e.Offset, e.Want, e.Got)
}

func (e *TruncatedStreamError) Unwrap() error { return io.ErrUnexpectedEOF }

// EncodingRangeError is raised by store when a value cannot be represented by
// its field type: a scalar outside its width, or an array whose element count
// disagrees with the count the layout demands.
type EncodingRangeError struct {
	Field  string
	Offset int64
	Value  any
	Type   string
	Reason string
}

func (e *EncodingRangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("field %s at offset %d: %s", e.Field, e.Offset, e.Reason)
	}
	return fmt.Sprintf("field %s at offset %d: value %v does not fit %s", e.Field, e.Offset, e.Value, e.Type)
}

// MissingValueError is raised by store when a present field was never set.
type MissingValueError struct {
	Field  string
	Offset int64
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("field %s at offset %d: no value to store", e.Field, e.Offset)
}

// EvaluationError wraps a non-reference failure of a length, condition or
// predicate expression.
type EvaluationError struct {
	Field  string
	Offset int64
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("field %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// exprError classifies an evaluator failure into the codec taxonomy.
func exprError(field string, offset int64, err error) error {
	var refErr *expression.ReferenceError
	if errors.As(err, &refErr) {
		return &UnresolvedReferenceError{Field: field, Offset: offset, Ref: refErr.Name, Err: err}
	}
	return &EvaluationError{Field: field, Offset: offset, Err: err}
}
