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


// Package reconcile repairs the ingestion ledger from the vector index.
//
// The index is authoritative for which files are searchable. A file whose
// documents are in the index but whose ledger row is missing (for example
// after the ledger database was replaced) is recorded so the next ingestion
// run skips it. Ledger rows are never removed and the index is never
// modified.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
)

// Result reports one reconciliation pass.
type Result struct {
	// TotalInIndex is the number of distinct source files in the index.
	TotalInIndex int `json:"total_files_in_index"`

	// AlreadyTracked is the number of ledger rows before the pass.
	AlreadyTracked int `json:"existing_files_in_ledger"`

	NewlyAdded int      `json:"newly_added_files"`
	NewFiles   []string `json:"new_files"`
}

type Reconciler struct {
	index  storage.VectorIndex
	ledger storage.Ledger
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

func NewReconciler(index storage.VectorIndex, ledger storage.Ledger, opts ...Option) (*Reconciler, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}

	r := &Reconciler{
		index:  index,
		ledger: ledger,
		logger: slog.Default().With("component", "reconcile"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Reconcile records every index-resident source file that the ledger is
// missing. Running it twice in a row adds nothing the second time.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	indexed, err := storage.LoadIndexedSourceFiles(ctx, r.index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFatalSetup, err)
	}
	r.logger.Info("read index metadata", "source_files", len(indexed))

	tracked, err := r.ledger.FilePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ledger files: %w", err)
	}

	known := make(map[string]struct{}, len(tracked))
	for _, path := range tracked {
		known[path] = struct{}{}
	}

	missing := make([]string, 0)
	for path := range indexed {
		if _, ok := known[path]; !ok {
			missing = append(missing, path)
		}
	}
	slices.Sort(missing)

	for _, path := range missing {
		if err := r.ledger.MarkFileProcessed(ctx, path); err != nil {
			return nil, fmt.Errorf("recording %s: %w", path, err)
		}
		r.logger.Debug("recorded indexed file", "path", path)
	}

	result := &Result{
		TotalInIndex:   len(indexed),
		AlreadyTracked: len(tracked),
		NewlyAdded:     len(missing),
		NewFiles:       missing,
	}
	r.logger.Info("reconciliation complete",
		"total_in_index", result.TotalInIndex,
		"already_tracked", result.AlreadyTracked,
		"newly_added", result.NewlyAdded)
	return result, nil
}
