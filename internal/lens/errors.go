package lens

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is the root of every contract violation reported by this package.
	ErrPrecondition = errors.New("precondition violated")
	// ErrInvalidLookupTable is returned for tables that are too short or contain non-finite values.
	ErrInvalidLookupTable = fmt.Errorf("invalid lookup table: %w", ErrPrecondition)
	// ErrInvalidImage is returned for nil images or buffers that disagree with their dimensions.
	ErrInvalidImage = fmt.Errorf("invalid image: %w", ErrPrecondition)
	// ErrInvalidCenter is returned for a distortion center with NaN or infinite coordinates.
	ErrInvalidCenter = fmt.Errorf("invalid center: %w", ErrPrecondition)
)

// PreconditionError records the operation whose input contract was not met.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("lens %s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

func precondition(op string, base error, format string, args ...any) error {
	return &PreconditionError{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{base}, args...)...)}
}
