package storage

import (
	"context"

	"github.com/poiesic/tonerag/core"
)

// Ledger records which corpus files have been ingested.
type Ledger interface {
	// IsFileProcessed reports whether path has a ledger entry.
	IsFileProcessed(ctx context.Context, path string) (bool, error)

	// MarkFileProcessed records path. Marking an already recorded path is a no-op,
	// enforced by a uniqueness constraint rather than a prior read.
	MarkFileProcessed(ctx context.Context, path string) error

	// FilePaths returns every recorded path in insertion order.
	FilePaths(ctx context.Context) ([]string, error)

	// GetFile returns the ledger entry for path.
	// Returns ErrNotFound if the path was never recorded.
	GetFile(ctx context.Context, path string) (*core.IngestedFile, error)

	// RemoveFile deletes the ledger entry for path. Only administrative
	// tooling calls this; ingestion and reconciliation never delete.
	// Returns ErrNotFound if the path was never recorded.
	RemoveFile(ctx context.Context, path string) error

	// CountFiles returns the number of recorded paths.
	CountFiles(ctx context.Context) (int, error)

	Close() error
}

// ChatLogRepository persists one row per answered rephrasing request.
type ChatLogRepository interface {
	// AddChatLog inserts entry, assigning ID and timestamps.
	// Returns the stored entry.
	AddChatLog(ctx context.Context, entry *core.ChatLogEntry) (*core.ChatLogEntry, error)

	// GetChatLog retrieves an entry by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	GetChatLog(ctx context.Context, id int64) (*core.ChatLogEntry, error)

	// ChatLogsByUser returns up to limit entries for userID, newest first.
	ChatLogsByUser(ctx context.Context, userID string, limit int) ([]*core.ChatLogEntry, error)

	// CountChatLogs returns the number of stored entries.
	CountChatLogs(ctx context.Context) (int, error)

	Close() error
}

// VectorIndex is a named collection of embedded documents supporting
// nearest-neighbour search.
type VectorIndex interface {
	// Add upserts documents keyed by their ID. Every document must carry a vector.
	Add(ctx context.Context, docs []core.IndexedDocument) error

	// Query returns up to k documents nearest to vector, best first.
	Query(ctx context.Context, vector []float32, k int) ([]*core.SearchResult, error)

	// AllMetadata returns the stored metadata of every document.
	AllMetadata(ctx context.Context) ([]map[string]any, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	Close() error
}
