package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// LoadError wraps a failure to load an engine: an invalid model path, an
// incompatible model, an unreachable backend.
type LoadError struct {
	Backend string
	Model   string
	Err     error
}

func NewLoadError(backend, model string, err error) *LoadError {
	return &LoadError{Backend: backend, Model: model, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load %s engine for model %q: %v", e.Backend, e.Model, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RuntimeError wraps a failure returned by Generate or yielded by
// GenerateStream, including failures in the middle of a stream.
type RuntimeError struct {
	Backend string
	Err     error
}

func NewRuntimeError(backend string, err error) *RuntimeError {
	return &RuntimeError{Backend: backend, Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s engine: %v", e.Backend, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
