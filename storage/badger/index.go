package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
)

// Index implements storage.VectorIndex as an exhaustive cosine scan over one
// collection's documents in BadgerDB.
type Index struct {
	backend    *Backend
	collection string
	ownBackend bool
	logger     *slog.Logger

	mu         sync.Mutex // serializes writers for the dimension check
	dimensions int
}

var _ storage.VectorIndex = (*Index)(nil)

// NewIndex creates an index for collection on backend. The caller keeps
// ownership of backend.
func NewIndex(backend *Backend, collection string) (storage.VectorIndex, error) {
	return newIndex(backend, collection, false)
}

// OpenIndex opens a BadgerDB at path and returns an index that closes the
// database when it is closed.
func OpenIndex(path, collection string) (storage.VectorIndex, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	idx, err := newIndex(backend, collection, true)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return idx, nil
}

func newIndex(backend *Backend, collection string, own bool) (*Index, error) {
	if err := core.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if strings.Contains(collection, ":") {
		return nil, fmt.Errorf("%w: collection name %q must not contain ':'", core.ErrValidation, collection)
	}
	if backend == nil || backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	idx := &Index{
		backend:    backend,
		collection: collection,
		ownBackend: own,
		logger:     backend.logger.With("collection", collection),
	}
	if err := idx.loadDimensions(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) loadDimensions() error {
	return i.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDimensionKey(i.collection))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("%w: corrupt dimension record", storage.ErrSerializationFailed)
			}
			i.dimensions = int(binary.BigEndian.Uint64(val))
			return nil
		})
	}, false)
}

func (i *Index) Add(ctx context.Context, docs []core.IndexedDocument) error {
	if i.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if len(docs) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	dims := i.dimensions
	values := make([][]byte, len(docs))
	for n := range docs {
		doc := &docs[n]
		if err := core.ValidateIndexedDocument(doc); err != nil {
			return err
		}
		if dims == 0 {
			dims = len(doc.Vector)
		}
		if len(doc.Vector) != dims {
			return fmt.Errorf("%w: expected %d, got %d", storage.ErrDimensionMismatch, dims, len(doc.Vector))
		}
		value, err := storage.MarshalIndexedDocument(doc)
		if err != nil {
			return err
		}
		values[n] = value
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := i.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		if i.dimensions == 0 {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(dims))
			if err := wb.Set(makeDimensionKey(i.collection), buf); err != nil {
				return err
			}
		}
		for n := range docs {
			if err := wb.Set(makeDocumentKey(i.collection, docs[n].ID), values[n]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %d documents: %w", len(docs), err)
	}
	i.dimensions = dims
	i.logger.Debug("added documents", "count", len(docs))
	return nil
}

func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]*core.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidQuery)
	}
	i.mu.Lock()
	dims := i.dimensions
	i.mu.Unlock()
	if dims > 0 && len(vector) != dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", storage.ErrDimensionMismatch, dims, len(vector))
	}

	results := make([]*core.SearchResult, 0)
	err := i.scan(ctx, true, func(doc *core.IndexedDocument) {
		results = append(results, &core.SearchResult{
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Score:    cosine(vector, doc.Vector),
		})
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortStableFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (i *Index) AllMetadata(ctx context.Context) ([]map[string]any, error) {
	all := make([]map[string]any, 0)
	err := i.scan(ctx, true, func(doc *core.IndexedDocument) {
		all = append(all, doc.Metadata)
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	n := 0
	err := i.scan(ctx, false, func(*core.IndexedDocument) { n++ })
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the database if this index opened it.
func (i *Index) Close() error {
	if !i.ownBackend || i.backend.IsClosed() {
		return nil
	}
	return i.backend.Close()
}

// scan visits every document in the collection. With decode false the
// callback receives nil and values are never read.
func (i *Index) scan(ctx context.Context, decode bool, fn func(doc *core.IndexedDocument)) error {
	if i.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return i.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeDocumentPrefix(i.collection)
		opts.PrefetchValues = decode
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !decode {
				fn(nil)
				continue
			}
			var doc *core.IndexedDocument
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalIndexedDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			fn(doc)
		}
		return nil
	}, false)
}
