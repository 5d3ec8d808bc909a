package conversation

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrValidation is matched by every *ValidationError through errors.Is.
var ErrValidation = errors.New("validation error")

// ValidationError reports malformed input to the log: an empty replacement,
// a message with a missing field or unknown role, or an empty log handed to
// ModifySystemPrompt.
type ValidationError struct {
	// Index of the offending message, -1 when the error is not about a single element.
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index >= 0 && e.Field != "":
		return fmt.Sprintf("validation error: message %d: %s: %s", e.Index, e.Field, e.Reason)
	case e.Index >= 0:
		return fmt.Sprintf("validation error: message %d: %s", e.Index, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
