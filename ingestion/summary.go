package ingestion

import (
	"log/slog"
	"time"
)

// BatchRange identifies a failed batch by its zero-based, end-exclusive
// position in the run's accepted documents.
type BatchRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	// SuccessFiles counts files that parsed, whether or not they held new documents.
	SuccessFiles int `json:"success_files"`

	// FailedFiles counts files that could not be parsed. They are not marked.
	FailedFiles int `json:"error_files"`

	// SkippedFiles counts files already recorded in the ledger.
	SkippedFiles int `json:"skipped_files"`

	// NewDocuments counts documents written to the index by this run.
	NewDocuments int `json:"new_documents"`

	// ExistingDocuments is the number of known unit ids when the run ended.
	ExistingDocuments int `json:"existing_documents"`

	FailedBatches []BatchRange `json:"failed_batches"`

	// IncompleteFiles lists parsed files left unmarked because a batch
	// holding one of their documents failed. The next run retries them.
	IncompleteFiles []string `json:"incomplete_files"`

	Duration time.Duration `json:"duration"`
}

// HasFailures reports whether any file or batch failed.
func (s *Summary) HasFailures() bool {
	return s.FailedFiles > 0 || len(s.FailedBatches) > 0
}

func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("success_files", s.SuccessFiles),
		slog.Int("failed_files", s.FailedFiles),
		slog.Int("skipped_files", s.SkippedFiles),
		slog.Int("new_documents", s.NewDocuments),
		slog.Int("existing_documents", s.ExistingDocuments),
		slog.Int("failed_batches", len(s.FailedBatches)),
		slog.Int("incomplete_files", len(s.IncompleteFiles)),
		slog.Duration("duration", s.Duration),
	)
}
