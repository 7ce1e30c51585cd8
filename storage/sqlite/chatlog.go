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

// ChatLog stores one immutable row per answered query.
type ChatLog struct {
	db *DB
}

var _ storage.ChatLogRepository = (*ChatLog)(nil)

// NewChatLogRepository returns a chat log backed by db. Closing it closes db.
func NewChatLogRepository(db *DB) (storage.ChatLogRepository, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	return &ChatLog{db: db}, nil
}

func (c *ChatLog) AddChatLog(ctx context.Context, entry *core.ChatLogEntry) (*core.ChatLogEntry, error) {
	if err := c.db.checkOpen(ctx); err != nil {
		return nil, err
	}
	if err := core.ValidateChatLogEntry(entry); err != nil {
		return nil, err
	}

	now := time.Now()
	stored := *entry
	stored.CreatedAt = time.UnixMicro(now.UnixMicro())
	stored.UpdatedAt = stored.CreatedAt

	result, err := c.db.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, input_content, output_content, translated_content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		stored.UserID, stored.InputContent, stored.OutputContent, stored.TranslatedContent,
		stored.CreatedAt.UnixMicro(), stored.UpdatedAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("inserting chat log: %w", err)
	}
	stored.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading chat log id: %w", err)
	}
	return &stored, nil
}

func (c *ChatLog) GetChatLog(ctx context.Context, id int64) (*core.ChatLogEntry, error) {
	if err := c.db.checkOpen(ctx); err != nil {
		return nil, err
	}
	row := c.db.db.QueryRowContext(ctx,
		`SELECT id, user_id, input_content, output_content, translated_content, created_at, updated_at
		 FROM messages WHERE id = ?`, id)
	entry, err := scanChatLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading chat log %d: %w", id, err)
	}
	return entry, nil
}

func (c *ChatLog) ChatLogsByUser(ctx context.Context, userID string, limit int) ([]*core.ChatLogEntry, error) {
	if err := c.db.checkOpen(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	rows, err := c.db.db.QueryContext(ctx,
		`SELECT id, user_id, input_content, output_content, translated_content, created_at, updated_at
		 FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chat logs for %s: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]*core.ChatLogEntry, 0)
	for rows.Next() {
		entry, err := scanChatLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat log row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (c *ChatLog) CountChatLogs(ctx context.Context) (int, error) {
	if err := c.db.checkOpen(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := c.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chat logs: %w", err)
	}
	return n, nil
}

func (c *ChatLog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChatLog(s scanner) (*core.ChatLogEntry, error) {
	var (
		entry            core.ChatLogEntry
		created, updated int64
	)
	err := s.Scan(&entry.ID, &entry.UserID, &entry.InputContent, &entry.OutputContent,
		&entry.TranslatedContent, &created, &updated)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = time.UnixMicro(created)
	entry.UpdatedAt = time.UnixMicro(updated)
	return &entry, nil
}
