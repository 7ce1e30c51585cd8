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


package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/tonerag/core"
)

// CorpusPattern matches corpus files relative to the corpus root.
const CorpusPattern = "**/*.json"

// Result is the outcome of loading one file.
type Result struct {
	Path      string
	Documents []core.Document
	Err       error
}

// Loader parses corpus files concurrently on a bounded worker pool.
type Loader struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader) error

// WithWorkers sets the number of files parsed at once. n must be at least 1.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) Option {
	return func(l *Loader) error {
		if n < 1 {
			return fmt.Errorf("%w, got %d", ErrInvalidWorkers, n)
		}
		if l.pool != nil {
			l.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		l.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

func NewLoader(opts ...Option) (*Loader, error) {
	pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
	if err != nil {
		return nil, err
	}
	l := &Loader{
		pool:   pool,
		logger: slog.Default().With("component", "loader"),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			l.Release()
			return nil, err
		}
	}
	return l, nil
}

// Release stops the worker pool. The loader must not be used afterwards.
func (l *Loader) Release() {
	if l.pool != nil {
		l.pool.Release()
	}
}

// Discover lists every corpus file under root in lexical order. A missing or
// unreadable root is core.ErrFatalSetup.
func Discover(ctx context.Context, root string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: corpus directory %s: %w", core.ErrFatalSetup, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: corpus path %s is not a directory", core.ErrFatalSetup, root)
	}

	matches, err := doublestar.Glob(os.DirFS(root), CorpusPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %w", core.ErrFatalSetup, root, err)
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.Join(root, filepath.FromSlash(m))
	}
	slices.Sort(paths)
	return paths, nil
}

// LoadAll parses paths on the worker pool. Results are returned in the order
// of paths regardless of completion order. A file that fails to parse has its
// Err set; LoadAll itself fails only on cancellation.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	var wg sync.WaitGroup

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := l.pool.Submit(func() {
			defer wg.Done()
			results[i] = l.load(ctx, path)
		})
		if err != nil {
			wg.Done()
			results[i] = Result{Path: path, Err: fmt.Errorf("scheduling %s: %w", path, err)}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (l *Loader) load(ctx context.Context, path string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Path: path, Err: err}
	}
	docs, err := LoadFile(path)
	if err != nil {
		l.logger.Warn("failed to load file", "path", path, "err", err)
		return Result{Path: path, Err: err}
	}
	l.logger.Debug("loaded file", "path", path, "documents", len(docs))
	return Result{Path: path, Documents: docs}
}
