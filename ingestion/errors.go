package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/tonerag/core"
)

var (
	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrLedgerRequired is returned when a ledger is not provided.
	ErrLedgerRequired = errors.New("ledger required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrCorpusDirRequired is returned when no corpus directory is configured.
	ErrCorpusDirRequired = errors.New("corpus directory required")

	// ErrInvalidBatchSize is returned for a batch size below one.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

// BatchError describes a batch that was given up on. Start and End are
// zero-based positions in the run's accepted document sequence, End exclusive.
type BatchError struct {
	Start int
	End   int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d-%d: %v", e.Start+1, e.End, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{core.ErrBatchFailed, e.Err}
}
