package generation

import (
	"errors"
	"fmt"
)

// ErrGeneration matches every failure of the generation client.
var ErrGeneration = errors.New("generation failed")

// GenerationError carries the operator facing reason of a failed call.
// Reason may quote the provider and must never reach a customer.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return "generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGeneration) hold for any *GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

func fail(reason string, err error) error {
	return &GenerationError{Reason: reason, Err: err}
}
