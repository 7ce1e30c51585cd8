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


package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
)

// scanText is embedded when the collection's vector size is not yet known.
const scanText = "scan"

var ErrEmbedderRequired = errors.New("chromem index requires an embedder")

// Index is a storage.VectorIndex over a single chromem-go collection.
type Index struct {
	db          *chromem.DB
	collection  *chromem.Collection
	name        string
	path        string
	policy      *retry.Policy
	concurrency int
	compress    bool
	dimensions  atomic.Int64
	closed      atomic.Bool
	mu          sync.Mutex
	logger      *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

type Option func(*Index) error

// WithDimensions fixes the expected vector size. Without it the size is learned
// from the first stored or queried vector.
func WithDimensions(n int) Option {
	return func(i *Index) error {
		if n < 0 {
			return fmt.Errorf("dimensions must be non-negative, got %d", n)
		}
		i.dimensions.Store(int64(n))
		return nil
	}
}

// WithCompression gzips persisted documents.
func WithCompression(compress bool) Option {
	return func(i *Index) error {
		i.compress = compress
		return nil
	}
}

// WithConcurrency sets how many documents chromem stores in parallel per Add.
func WithConcurrency(n int) Option {
	return func(i *Index) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be at least 1, got %d", n)
		}
		i.concurrency = n
		return nil
	}
}

// WithRetryPolicy sets the policy for the embedding a metadata scan
// needs when the vector size is unknown.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(i *Index) error {
		if policy == nil {
			return errors.New("retry policy is nil")
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		i.policy = policy
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		i.logger = logger
		return nil
	}
}

// NewIndex opens the named collection. An empty path keeps everything in
// memory; otherwise documents persist as gob files under path. The embedder
// backs chromem's text queries and is never called for stored documents.
func NewIndex(path, name string, embedder ai.Embedder, opts ...Option) (storage.VectorIndex, error) {
	if err := core.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	logger := slog.Default().With("component", "chromem-index")
	policy, err := retry.NewPolicy(
		retry.WithRetryable(ai.IsTransient),
		retry.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		name:        name,
		path:        path,
		policy:      policy,
		concurrency: max(runtime.NumCPU(), 1),
		logger:      logger,
	}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}

	if path == "" {
		idx.db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", path, err)
		}
		db, err := chromem.NewPersistentDB(path, idx.compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
		idx.db = db
		if err := idx.loadDimensions(); err != nil {
			return nil, err
		}
	}

	collection, err := idx.db.GetOrCreateCollection(name, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", name, err)
	}
	idx.collection = collection

	idx.logger.Info("chromem index opened",
		"path", path,
		"collection", name,
		"documents", collection.Count())
	return idx, nil
}

func embeddingFunc(embedder ai.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedText(ctx, text)
	}
}

func (i *Index) Add(ctx context.Context, docs []core.IndexedDocument) error {
	if i.closed.Load() {
		return storage.ErrStorageClosed
	}
	if len(docs) == 0 {
		return nil
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for n := range docs {
		doc := &docs[n]
		if err := core.ValidateIndexedDocument(doc); err != nil {
			return err
		}
		if err := i.checkDimensions(len(doc.Vector)); err != nil {
			return err
		}
		chromemDocs[n] = chromem.Document{
			ID:        doc.ID.String(),
			Content:   doc.Content,
			Metadata:  storage.StringMetadata(doc.Metadata),
			Embedding: doc.Vector,
		}
	}

	// chromem persists per document, so serialize writers to keep
	// AddDocuments failures confined to one batch.
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.collection.AddDocuments(ctx, chromemDocs, i.concurrency); err != nil {
		return fmt.Errorf("adding %d documents to %s: %w", len(docs), i.name, err)
	}
	i.logger.Debug("added documents", "count", len(docs))
	return nil
}

func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]*core.SearchResult, error) {
	if i.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidQuery)
	}
	if err := i.checkDimensions(len(vector)); err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	count := i.collection.Count()
	if count == 0 {
		return []*core.SearchResult{}, nil
	}
	k = min(k, count)

	results, err := i.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", i.name, err)
	}
	return toSearchResults(results), nil
}

// AllMetadata returns the metadata of every stored document. chromem has no
// scan API, so this runs a nearest-neighbour query sized to the whole collection.
// Only a collection written before its vector size was recorded needs a query
// embedding, and that call runs under the retry policy.
func (i *Index) AllMetadata(ctx context.Context) ([]map[string]any, error) {
	if i.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	count := i.collection.Count()
	if count == 0 {
		return []map[string]any{}, nil
	}

	var (
		results []chromem.Result
		err     error
	)
	if dims := int(i.dimensions.Load()); dims > 0 {
		anchor := make([]float32, dims)
		anchor[0] = 1
		results, err = i.collection.QueryEmbedding(ctx, anchor, count, nil, nil)
	} else {
		err = i.policy.Do(ctx, func(ctx context.Context) error {
			var queryErr error
			results, queryErr = i.collection.Query(ctx, scanText, count, nil, nil)
			return queryErr
		})
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", i.name, err)
	}

	all := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if len(r.Embedding) > 0 && i.dimensions.Load() == 0 {
			if err := i.checkDimensions(len(r.Embedding)); err != nil {
				return nil, err
			}
		}
		all = append(all, storage.AnyMetadata(r.Metadata))
	}
	return all, nil
}

func (i *Index) Count(_ context.Context) (int, error) {
	if i.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	return i.collection.Count(), nil
}

// Close marks the index closed. chromem writes each document as it is added,
// so there is nothing to flush.
func (i *Index) Close() error {
	if i.closed.CompareAndSwap(false, true) {
		i.logger.Info("chromem index closed", "collection", i.name)
	}
	return nil
}

func (i *Index) checkDimensions(n int) error {
	if i.dimensions.CompareAndSwap(0, int64(n)) {
		return i.saveDimensions(n)
	}
	if want := int(i.dimensions.Load()); want != n {
		return fmt.Errorf("%w: expected %d, got %d", storage.ErrDimensionMismatch, want, n)
	}
	return nil
}

func toSearchResults(results []chromem.Result) []*core.SearchResult {
	out := make([]*core.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, &core.SearchResult{
			Content:  r.Content,
			Metadata: storage.AnyMetadata(r.Metadata),
			Score:    r.Similarity,
		})
	}
	return out
}

// dimensionFile sits beside chromem's collection directories, which it skips
// when loading because it is not a directory.
func (i *Index) dimensionFile() string {
	return filepath.Join(i.path, core.IDFromContent(i.name).String()+".dims")
}

func (i *Index) loadDimensions() error {
	data, err := os.ReadFile(i.dimensionFile())
	if errors.Is(err, os.ErrNotExist) {
		if n := int(i.dimensions.Load()); n > 0 {
			return i.saveDimensions(n)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading vector size of %s: %w", i.name, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 1 {
		return fmt.Errorf("%w: corrupt dimension record for %s", storage.ErrSerializationFailed, i.name)
	}
	if want := int(i.dimensions.Load()); want > 0 && want != n {
		return fmt.Errorf("%w: configured %d, stored %d", storage.ErrDimensionMismatch, want, n)
	}
	i.dimensions.Store(int64(n))
	return nil
}

func (i *Index) saveDimensions(n int) error {
	if i.path == "" {
		return nil
	}
	if err := os.WriteFile(i.dimensionFile(), []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return fmt.Errorf("recording vector size of %s: %w", i.name, err)
	}
	return nil
}
