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


// Package tonerag wires the ledger, vector index and AI provider into the
// ingestion, rephrasing and reconciliation components.
package tonerag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/ai/openai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/ingestion"
	"github.com/poiesic/tonerag/reconcile"
	"github.com/poiesic/tonerag/respond"
	"github.com/poiesic/tonerag/storage"
	"github.com/poiesic/tonerag/storage/badger"
	"github.com/poiesic/tonerag/storage/chromem"
	"github.com/poiesic/tonerag/storage/qdrant"
	"github.com/poiesic/tonerag/storage/sqlite"
)

// IndexBackend names a vector index implementation.
type IndexBackend string

const (
	BackendChromem IndexBackend = "chromem"
	BackendBadger  IndexBackend = "badger"
	BackendQdrant  IndexBackend = "qdrant"
)

// ErrUnknownBackend is returned for an IndexBackend this package cannot open.
var ErrUnknownBackend = errors.New("unknown index backend")

// Config selects where the ledger and vector index live.
type Config struct {
	// LedgerPath is the sqlite database file. Empty or ":memory:" keeps it in memory.
	LedgerPath string

	// IndexPath is the on-disk location for the chromem and badger backends.
	// Empty keeps the index in memory.
	IndexPath string

	IndexBackend IndexBackend

	// CollectionName names the vector index collection. Required.
	CollectionName string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool

	// EmbeddingDimensions fixes the vector size up front. Zero learns it from
	// the first write.
	EmbeddingDimensions int

	AI *ai.Config
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

func WithLedgerPath(path string) ConfigOption {
	return func(c *Config) {
		c.LedgerPath = path
	}
}

func WithIndexPath(path string) ConfigOption {
	return func(c *Config) {
		c.IndexPath = path
	}
}

func WithIndexBackend(backend IndexBackend) ConfigOption {
	return func(c *Config) {
		c.IndexBackend = backend
	}
}

func WithCollectionName(name string) ConfigOption {
	return func(c *Config) {
		c.CollectionName = name
	}
}

// WithQdrant points the qdrant backend at a server.
func WithQdrant(host string, port int, apiKey string, useTLS bool) ConfigOption {
	return func(c *Config) {
		c.QdrantHost = host
		c.QdrantPort = port
		c.QdrantAPIKey = apiKey
		c.QdrantTLS = useTLS
	}
}

func WithEmbeddingDimensions(n int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimensions = n
	}
}

func WithAIConfig(cfg *ai.Config) ConfigOption {
	return func(c *Config) {
		c.AI = cfg
	}
}

// DefaultConfig returns a chromem-backed configuration with no collection
// name. Callers must set one.
func DefaultConfig() *Config {
	return &Config{
		LedgerPath:   "tonerag.sqlite3",
		IndexPath:    "vector_db",
		IndexBackend: BackendChromem,
		QdrantHost:   "localhost",
		QdrantPort:   6334,
		AI:           ai.DefaultConfig(),
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *Config) Validate() error {
	if err := core.ValidateCollectionName(c.CollectionName); err != nil {
		return err
	}
	switch c.IndexBackend {
	case BackendChromem, BackendBadger, BackendQdrant:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.IndexBackend)
	}
	if c.EmbeddingDimensions < 0 {
		return errors.New("config: EmbeddingDimensions cannot be negative")
	}
	if c.AI == nil {
		c.AI = ai.DefaultConfig()
	}
	return nil
}

// System owns the stores and provider shared by every component.
type System struct {
	config   *Config
	db       *sqlite.DB
	ledger   storage.Ledger
	chatLog  storage.ChatLogRepository
	index    storage.VectorIndex
	provider ai.AIProvider
	logger   *slog.Logger
}

// SystemOption configures a System.
type SystemOption func(*systemOptions)

type systemOptions struct {
	provider ai.AIProvider
}

// WithProvider supplies the AI provider instead of building an OpenAI one
// from Config.AI. The System closes it on Close.
func WithProvider(provider ai.AIProvider) SystemOption {
	return func(o *systemOptions) {
		o.provider = provider
	}
}

// NewSystem opens the ledger and vector index described by cfg.
func NewSystem(ctx context.Context, cfg *Config, opts ...SystemOption) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &systemOptions{}
	for _, opt := range opts {
		opt(options)
	}

	provider := options.provider
	if provider == nil {
		p, err := openai.NewProvider(cfg.AI)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	db, err := sqlite.Open(cfg.LedgerPath)
	if err != nil {
		provider.Close()
		return nil, err
	}

	// Both repositories share db; closing either closes it.
	ledger, err := sqlite.NewLedger(db)
	if err != nil {
		db.Close()
		provider.Close()
		return nil, err
	}
	chatLog, err := sqlite.NewChatLogRepository(db)
	if err != nil {
		db.Close()
		provider.Close()
		return nil, err
	}

	index, err := openIndex(ctx, cfg, provider)
	if err != nil {
		db.Close()
		provider.Close()
		return nil, fmt.Errorf("%w: opening %s index: %w", core.ErrFatalSetup, cfg.IndexBackend, err)
	}

	return &System{
		config:   cfg,
		db:       db,
		ledger:   ledger,
		chatLog:  chatLog,
		index:    index,
		provider: provider,
		logger:   slog.Default().With("component", "tonerag"),
	}, nil
}

func openIndex(ctx context.Context, cfg *Config, provider ai.AIProvider) (storage.VectorIndex, error) {
	switch cfg.IndexBackend {
	case BackendBadger:
		if cfg.IndexPath == "" {
			return badger.NewMemoryIndex(cfg.CollectionName)
		}
		return badger.OpenIndex(cfg.IndexPath, cfg.CollectionName)
	case BackendQdrant:
		return qdrant.NewIndex(ctx, qdrant.Config{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.CollectionName,
			Dimensions: cfg.EmbeddingDimensions,
		})
	default:
		return chromem.NewIndex(cfg.IndexPath, cfg.CollectionName, provider.Embedder(),
			chromem.WithDimensions(cfg.EmbeddingDimensions))
	}
}

func (s *System) Close() error {
	if err := s.provider.Close(); err != nil {
		s.logger.Error("error closing AI provider", "err", err)
	}

	var errs []error
	if err := s.index.Close(); err != nil {
		s.logger.Error("error closing vector index", "err", err)
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing ledger database", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *System) Config() *Config {
	return s.config
}

func (s *System) Ledger() storage.Ledger {
	return s.ledger
}

func (s *System) ChatLog() storage.ChatLogRepository {
	return s.chatLog
}

func (s *System) Index() storage.VectorIndex {
	return s.index
}

func (s *System) Provider() ai.AIProvider {
	return s.provider
}

func (s *System) NewPipeline(corpusDir string, opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(corpusDir, s.index, s.ledger, s.provider, opts...)
}

func (s *System) NewResponder(opts ...respond.Option) (*respond.Responder, error) {
	return respond.NewResponder(s.index, s.chatLog, s.provider, opts...)
}

func (s *System) NewReconciler(opts ...reconcile.Option) (*reconcile.Reconciler, error) {
	return reconcile.NewReconciler(s.index, s.ledger, opts...)
}

// Stats is a point-in-time count of stored records.
type Stats struct {
	IndexedDocuments int `json:"indexed_documents"`
	LedgerFiles      int `json:"ledger_files"`
	ChatLogs         int `json:"chat_logs"`
}

func (s *System) Stats(ctx context.Context) (*Stats, error) {
	docs, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting index documents: %w", err)
	}
	files, err := s.ledger.CountFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting ledger files: %w", err)
	}
	logs, err := s.chatLog.CountChatLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chat logs: %w", err)
	}
	return &Stats{IndexedDocuments: docs, LedgerFiles: files, ChatLogs: logs}, nil
}
