// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/poiesic/tonerag/storage"
	_ "modernc.org/sqlite" // SQLite driver
)

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS json_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	input_content TEXT NOT NULL,
	output_content TEXT NOT NULL,
	translated_content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
`

// DB owns the relational store shared by the ledger and the chat log.
type DB struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
// An empty path or ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	logger := slog.Default().With("component", "sqlite")

	dsn := path
	inMemory := path == "" || path == memoryPath
	if inMemory {
		path = memoryPath
		dsn = memoryPath
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to ":memory:" is a distinct database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Debug("database opened", "path", path)
	return &DB{db: db, path: path, logger: logger}, nil
}

// OpenMemory opens a fresh in-memory database.
func OpenMemory() (*DB, error) {
	return Open(memoryPath)
}

func (d *DB) Path() string {
	return d.path
}

// Close closes the database. Safe to call more than once.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

func (d *DB) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}
