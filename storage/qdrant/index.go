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


package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
	"github.com/qdrant/go-client/qdrant"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 6334

	scrollPageSize = 256
)

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dimensions creates the collection eagerly when set. Otherwise it is
	// created on the first Add with the size of the first vector.
	Dimensions int
}

func (c *Config) Normalize() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
}

func (c *Config) Validate() error {
	if err := core.ValidateCollectionName(c.Collection); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("qdrant config: port %d out of range", c.Port)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("qdrant config: dimensions must be non-negative, got %d", c.Dimensions)
	}
	return nil
}

// Index is a storage.VectorIndex backed by a Qdrant collection over gRPC.
type Index struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu     sync.Mutex
	exists bool
	closed atomic.Bool
}

var _ storage.VectorIndex = (*Index)(nil)

func NewIndex(ctx context.Context, cfg Config) (storage.VectorIndex, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	idx := &Index{
		client:     client,
		collection: cfg.Collection,
		logger: slog.Default().With("component", "qdrant-index",
			"collection", cfg.Collection),
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("checking collection %s: %w", cfg.Collection, classify(err))
	}
	idx.exists = exists
	if !exists && cfg.Dimensions > 0 {
		if err := idx.ensureCollection(ctx, cfg.Dimensions); err != nil {
			client.Close()
			return nil, err
		}
	}

	idx.logger.Info("qdrant index opened", "host", cfg.Host, "port", cfg.Port, "exists", idx.exists)
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context, dims int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.exists {
		return nil
	}
	err := i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", i.collection, classify(err))
	}
	i.exists = true
	i.logger.Info("created collection", "dimensions", dims)
	return nil
}

func (i *Index) hasCollection() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exists
}

func (i *Index) Add(ctx context.Context, docs []core.IndexedDocument) error {
	if i.closed.Load() {
		return storage.ErrStorageClosed
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for n := range docs {
		doc := &docs[n]
		if err := core.ValidateIndexedDocument(doc); err != nil {
			return err
		}
		if len(doc.Vector) != len(docs[0].Vector) {
			return fmt.Errorf("%w: expected %d, got %d",
				storage.ErrDimensionMismatch, len(docs[0].Vector), len(doc.Vector))
		}
		payload, err := toPayload(doc)
		if err != nil {
			return err
		}
		points[n] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		}
	}

	if err := i.ensureCollection(ctx, len(docs[0].Vector)); err != nil {
		return err
	}

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), classify(err))
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
	if !i.hasCollection() {
		return []*core.SearchResult{}, nil
	}

	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", i.collection, classify(err))
	}

	results := make([]*core.SearchResult, 0, len(points))
	for _, p := range points {
		content, metadata := fromPayload(p.GetPayload())
		results = append(results, &core.SearchResult{
			Content:  content,
			Metadata: metadata,
			Score:    p.GetScore(),
		})
	}
	return results, nil
}

func (i *Index) AllMetadata(ctx context.Context) ([]map[string]any, error) {
	if i.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	all := make([]map[string]any, 0)
	if !i.hasCollection() {
		return all, nil
	}

	var offset *qdrant.PointId
	for {
		points, next, err := i.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: i.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", i.collection, classify(err))
		}
		for _, p := range points {
			_, metadata := fromPayload(p.GetPayload())
			all = append(all, metadata)
		}
		if next == nil || len(points) == 0 {
			return all, nil
		}
		offset = next
	}
}

func (i *Index) Count(ctx context.Context) (int, error) {
	if i.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	if !i.hasCollection() {
		return 0, nil
	}
	n, err := i.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: i.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", i.collection, classify(err))
	}
	return int(n), nil
}

func (i *Index) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.client.Close()
}
