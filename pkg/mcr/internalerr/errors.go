package internalerr

import "errors"

// Sentinel errors for common cases
var (
	// ErrNotFound marks a missing session or strategy. Callers may react by
	// creating the resource rather than retrying.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig marks a malformed strategy graph or service
	// configuration. Fatal, never retried.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownStepKind marks a strategy step whose action kind has no
	// registered handler.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrInvalidOutputShape marks a strategy run whose terminal artifact does
	// not match the graph's declared output type.
	ErrInvalidOutputShape = errors.New("invalid output shape")

	// ErrValidation marks generated formal text the reasoner rejected.
	// Recoverable: the refinement loop retries on it.
	ErrValidation = errors.New("validation failed")

	// ErrBackend marks a failed or timed-out generative, reasoner, or
	// embedding call.
	ErrBackend = errors.New("backend failure")
)
