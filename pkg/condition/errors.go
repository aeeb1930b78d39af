package condition

import (
	"errors"
	"fmt"
)

// Sentinel kinds for CompileError; match with errors.Is.
var (
	// ErrEmptyCondition indicates an empty or whitespace-only condition.
	ErrEmptyCondition = errors.New("empty condition")

	// ErrAggregationUnsupported indicates a "| ..." aggregation segment.
	ErrAggregationUnsupported = errors.New("aggregation conditions are not supported")

	// ErrSyntax indicates the grammar could not match at a position.
	ErrSyntax = errors.New("syntax error")

	// ErrTrailingInput indicates a successful parse that left input unconsumed.
	ErrTrailingInput = errors.New("trailing input")

	// ErrUnresolvedReference indicates a name or pattern matching no declared search identifier.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrMissingFact indicates a facts map without an entry for a referenced identifier.
	ErrMissingFact = errors.New("missing fact")
)

// CompileError is returned by Compile. Kind is one of the sentinel errors
// above. Position is a byte offset into the original condition string and is
// -1 when it does not apply.
type CompileError struct {
	Kind     error
	Position int
	Reason   string
	// Fragment is the unconsumed input for ErrTrailingInput and the name or
	// pattern for ErrUnresolvedReference.
	Fragment string
}

func (e *CompileError) Error() string {
	switch e.Kind {
	case ErrSyntax:
		return fmt.Sprintf("%v at position %d: %s", e.Kind, e.Position, e.Reason)
	case ErrTrailingInput:
		return fmt.Sprintf("%v at position %d: %q", e.Kind, e.Position, e.Fragment)
	case ErrUnresolvedReference:
		return fmt.Sprintf("%v: %q matches no search identifier", e.Kind, e.Fragment)
	default:
		return e.Kind.Error()
	}
}

func (e *CompileError) Unwrap() error { return e.Kind }

// MissingFactError is returned by Evaluate when facts lack a referenced identifier.
type MissingFactError struct {
	Identifier string
}

func (e *MissingFactError) Error() string {
	return fmt.Sprintf("%v for search identifier %q", ErrMissingFact, e.Identifier)
}

func (e *MissingFactError) Unwrap() error { return ErrMissingFact }

// syntaxError is the parser-internal failure; Compile converts it.
type syntaxError struct {
	pos    int
	reason string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("position %d: %s", e.pos, e.reason)
}

func failAt(c cursor, format string, args ...any) error {
	return &syntaxError{pos: c.pos, reason: fmt.Sprintf(format, args...)}
}

// KindName is a short snake_case label for the error kind carried by err,
// or "" when err wraps none of the sentinels.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCondition):
		return "empty_condition"
	case errors.Is(err, ErrAggregationUnsupported):
		return "aggregation"
	case errors.Is(err, ErrSyntax):
		return "syntax"
	case errors.Is(err, ErrTrailingInput):
		return "trailing_input"
	case errors.Is(err, ErrUnresolvedReference):
		return "unresolved_reference"
	case errors.Is(err, ErrMissingFact):
		return "missing_fact"
	}
	return ""
}
