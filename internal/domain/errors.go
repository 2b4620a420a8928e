package domain

import "errors"

// ErrorKind is the stable per-image error tag surfaced in FailureResult.
type ErrorKind string

const (
	// ErrorKindDecode means the input was not a readable image.
	ErrorKindDecode ErrorKind = "DecodeError"

	// ErrorKindIO means a filesystem operation failed during resize or cleanup.
	ErrorKindIO ErrorKind = "IOError"

	// ErrorKindGeneration means the AI backend rejected or errored.
	ErrorKindGeneration ErrorKind = "GenerationError"

	// ErrorKindTimeout means the AI backend did not respond in time.
	ErrorKindTimeout ErrorKind = "TimeoutError"

	// ErrorKindInsufficientTokens means the user's balance could not cover the image.
	ErrorKindInsufficientTokens ErrorKind = "InsufficientTokens"
)

// Exporter-level errors, surfaced to the caller as non-fatal responses.
var (
	ErrBatchNotFound      = errors.New("batch not found")
	ErrNoSuccessfulImages = errors.New("batch has no successful images")
)

// PipelineError wraps an underlying error with its ErrorKind tag so a single
// image job can classify every failure mode without losing the cause.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WrapError tags err with the given kind. Returns nil if err is nil.
func WrapError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrorKindGeneration
// for untagged errors from the generation boundary.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindGeneration
}
