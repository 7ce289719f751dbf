package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNoExport is returned when evaluated source produces no
	// recognizable export table.
	ErrNoExport = errors.New("source produced no study export")

	// ErrNotCallable is returned when a lifecycle field exists but is
	// not a function.
	ErrNotCallable = errors.New("export field is not callable")
)

// EvaluationError wraps any syntax or runtime failure while evaluating
// study source. The loader is the only component expected to catch it.
type EvaluationError struct {
	ID  string
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate study %q: %v", e.ID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
