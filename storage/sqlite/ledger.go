package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
)

// Ledger records which source files have been fully ingested.
type Ledger struct {
	db *DB
}

var _ storage.Ledger = (*Ledger)(nil)

// NewLedger returns a ledger backed by db. Closing the ledger closes db.
func NewLedger(db *DB) (storage.Ledger, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) IsFileProcessed(ctx context.Context, path string) (bool, error) {
	if err := l.db.checkOpen(ctx); err != nil {
		return false, err
	}
	var exists int
	err := l.db.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM json_files WHERE file_path = ?)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking ledger for %s: %w", path, err)
	}
	return exists == 1, nil
}

func (l *Ledger) MarkFileProcessed(ctx context.Context, path string) error {
	if err := l.db.checkOpen(ctx); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: file path is empty", core.ErrValidation)
	}
	now := time.Now().UnixMicro()
	_, err := l.db.db.ExecContext(ctx,
		`INSERT INTO json_files (file_path, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(file_path) DO NOTHING`, path, now, now)
	if err != nil {
		return fmt.Errorf("marking %s processed: %w", path, err)
	}
	return nil
}

func (l *Ledger) FilePaths(ctx context.Context) ([]string, error) {
	if err := l.db.checkOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := l.db.db.QueryContext(ctx, `SELECT file_path FROM json_files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (l *Ledger) GetFile(ctx context.Context, path string) (*core.IngestedFile, error) {
	if err := l.db.checkOpen(ctx); err != nil {
		return nil, err
	}
	var (
		file             core.IngestedFile
		created, updated int64
	)
	err := l.db.db.QueryRowContext(ctx,
		`SELECT id, file_path, created_at, updated_at FROM json_files WHERE file_path = ?`, path).
		Scan(&file.ID, &file.FilePath, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger entry %s: %w", path, err)
	}
	file.CreatedAt = time.UnixMicro(created)
	file.UpdatedAt = time.UnixMicro(updated)
	return &file, nil
}

func (l *Ledger) RemoveFile(ctx context.Context, path string) error {
	if err := l.db.checkOpen(ctx); err != nil {
		return err
	}
	result, err := l.db.db.ExecContext(ctx, `DELETE FROM json_files WHERE file_path = ?`, path)
	if err != nil {
		return fmt.Errorf("removing ledger entry %s: %w", path, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing ledger entry %s: %w", path, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	l.db.logger.Info("ledger entry removed", "path", path)
	return nil
}

func (l *Ledger) CountFiles(ctx context.Context) (int, error) {
	if err := l.db.checkOpen(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := l.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM json_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ledger entries: %w", err)
	}
	return n, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
