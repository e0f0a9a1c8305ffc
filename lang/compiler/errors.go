package compiler

import (
	"fmt"
	"strings"
)

// An Error is a single compile error at a source position.
type Error struct {
	Line int
	// Where qualifies the position in the message: " at '<lexeme>'",
	// " at end", or empty for scanner (ILLEGAL) errors, whose lexeme is the
	// diagnostic itself.
	Where string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[line %d] Error%s: %s", e.Line, e.Where, e.Msg)
}

// An ErrorList is a list of compile errors, one per line when rendered.
type ErrorList []*Error

func (el ErrorList) Error() string {
	msgs := make([]string, len(el))
	for i, e := range el {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap returns the individual errors so callers can use errors.As to
// reach a specific *Error.
func (el ErrorList) Unwrap() []error {
	errs := make([]error, len(el))
	for i, e := range el {
		errs[i] = e
	}
	return errs
}

// Err returns the list as an error, or nil if it is empty.
func (el ErrorList) Err() error {
	if len(el) == 0 {
		return nil
	}
	return el
}
