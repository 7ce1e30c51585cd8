package loader

import (
	"errors"
	"fmt"

	"github.com/poiesic/tonerag/core"
)

var (
	// ErrNoUtterances indicates a corpus file has no "utterances" array.
	ErrNoUtterances = errors.New("missing utterances array")

	// ErrMissingText indicates an utterance has no string "text" field.
	ErrMissingText = errors.New("utterance has no text")

	// ErrInvalidWorkers indicates a worker count below one.
	ErrInvalidWorkers = errors.New("workers must be at least 1")
)

// LoadError reports a file that could not be parsed. It matches core.ErrLoad.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{core.ErrLoad, e.Err}
}
