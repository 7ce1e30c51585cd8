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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/loader"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of documents embedded per provider call.
const DefaultBatchSize = 500

// Pipeline loads new corpus files, embeds their unseen documents in batches
// and records fully indexed files in the ledger.
type Pipeline struct {
	corpusDir        string
	index            storage.VectorIndex
	ledger           storage.Ledger
	embedder         ai.Embedder
	loader           *loader.Loader
	ownLoader        bool
	policy           *retry.Policy
	limiter          *rate.Limiter
	batchSize        int
	progress         io.Writer
	progressInterval int
	logger           *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithBatchSize sets how many documents go into one embedding call.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetryPolicy replaces the default policy (five attempts, 2s to 30s
// backoff, transient provider errors only).
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy == nil {
			return errors.New("retry policy is nil")
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		p.policy = policy
		return nil
	}
}

// WithRateLimit paces batch attempts to at most perSecond, including retries.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pipeline) error {
		if perSecond <= 0 {
			p.limiter = nil
			return nil
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// WithLoader supplies a shared loader. The pipeline will not release it.
func WithLoader(l *loader.Loader) Option {
	return func(p *Pipeline) error {
		if l == nil {
			return errors.New("loader is nil")
		}
		if p.ownLoader && p.loader != nil {
			p.loader.Release()
		}
		p.loader = l
		p.ownLoader = false
		return nil
	}
}

// WithPoolSize sets the number of files parsed concurrently. size must be at least 1.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		l, err := loader.NewLoader(loader.WithWorkers(size), loader.WithLogger(p.logger))
		if err != nil {
			return err
		}
		if p.ownLoader && p.loader != nil {
			p.loader.Release()
		}
		p.loader = l
		p.ownLoader = true
		return nil
	}
}

// WithProgress writes a progress line to w every interval documents.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progress = w
		p.progressInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a pipeline that ingests the JSON corpus under corpusDir.
func NewPipeline(
	corpusDir string,
	index storage.VectorIndex,
	ledger storage.Ledger,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if corpusDir == "" {
		return nil, ErrCorpusDirRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	logger := slog.Default().With("component", "ingestion")

	policy, err := retry.NewPolicy(
		retry.WithRetryable(ai.IsTransient),
		retry.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		corpusDir:        corpusDir,
		index:            index,
		ledger:           ledger,
		embedder:         provider.Embedder(),
		policy:           policy,
		batchSize:        DefaultBatchSize,
		progressInterval: DefaultBatchSize,
		logger:           logger,
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	if p.loader == nil {
		l, err := loader.NewLoader(loader.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		p.loader = l
		p.ownLoader = true
	}

	if p.limiter != nil {
		paced := *p.policy
		paced.Limiter = p.limiter
		p.policy = &paced
	}

	return p, nil
}

// Release releases the pipeline's own loader pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.ownLoader && p.loader != nil {
		p.loader.Release()
	}
}

// fileTally tracks how many of a file's accepted documents are still waiting
// on a batch.
type fileTally struct {
	path      string
	remaining int
	failed    bool
}

type pendingDoc struct {
	doc  core.Document
	file *fileTally
}

// Run performs one ingestion pass. Per-file and per-batch failures are
// reported in the Summary; only setup failures, cancellation and ledger
// errors are returned as errors.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		FailedBatches:   []BatchRange{},
		IncompleteFiles: []string{},
	}

	known, err := storage.LoadKnownUnitIDs(ctx, p.index)
	if err != nil {
		return nil, fmt.Errorf("%w: loading indexed unit ids: %w", core.ErrFatalSetup, err)
	}
	p.logger.Info("loaded known units", "count", len(known))

	paths, err := loader.Discover(ctx, p.corpusDir)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, path := range paths {
		done, err := p.ledger.IsFileProcessed(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("checking ledger: %w", err)
		}
		if done {
			p.logger.Debug("skipping processed file", "path", path)
			summary.SkippedFiles++
			continue
		}
		candidates = append(candidates, path)
	}

	results, err := p.loader.LoadAll(ctx, candidates)
	if err != nil {
		return nil, err
	}

	accepted, err := p.accept(ctx, results, known, summary)
	if err != nil {
		return nil, err
	}

	if len(accepted) == 0 {
		p.logger.Info("no new documents to ingest")
		summary.ExistingDocuments = len(known)
		summary.Duration = time.Since(start)
		return summary, nil
	}

	p.logger.Info("ingesting documents",
		"documents", len(accepted),
		"files", summary.SuccessFiles,
		"batch_size", p.batchSize)

	if err := p.runBatches(ctx, accepted, summary); err != nil {
		return nil, err
	}

	summary.ExistingDocuments = len(known)
	summary.Duration = time.Since(start)
	p.logger.Info("ingestion complete", "summary", summary)
	return summary, nil
}

// accept sanitizes and dedups loaded documents in load order. Files that
// parse but contribute nothing new are marked immediately.
func (p *Pipeline) accept(ctx context.Context, results []loader.Result, known map[string]struct{}, summary *Summary) ([]pendingDoc, error) {
	var accepted []pendingDoc
	for _, r := range results {
		if r.Err != nil {
			summary.FailedFiles++
			continue
		}
		summary.SuccessFiles++

		tally := &fileTally{path: r.Path}
		for _, doc := range r.Documents {
			doc.Metadata = core.SanitizeMetadata(doc.Metadata)
			unitID := doc.UnitID()
			if unitID == "" || unitID == core.NoneValue {
				continue
			}
			if _, seen := known[unitID]; seen {
				continue
			}
			known[unitID] = struct{}{}
			accepted = append(accepted, pendingDoc{doc: doc, file: tally})
			tally.remaining++
		}

		if tally.remaining == 0 {
			if err := p.ledger.MarkFileProcessed(ctx, r.Path); err != nil {
				return nil, fmt.Errorf("marking %s: %w", r.Path, err)
			}
			p.logger.Debug("file has no new documents", "path", r.Path)
		}
	}
	return accepted, nil
}

func (p *Pipeline) runBatches(ctx context.Context, accepted []pendingDoc, summary *Summary) error {
	indexer := &batchIndexer{
		index:    p.index,
		embedder: p.embedder,
		policy:   p.policy,
		logger:   p.logger,
	}

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(accepted), p.progressInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	for start := 0; start < len(accepted); start += p.batchSize {
		end := min(start+p.batchSize, len(accepted))
		batch := accepted[start:end]

		docs := make([]core.Document, len(batch))
		for i := range batch {
			docs[i] = batch[i].doc
		}

		p.logger.Info("processing batch", "start", start+1, "end", end, "total", len(accepted))
		err := indexer.process(ctx, docs)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			batchErr := &BatchError{Start: start, End: end, Err: err}
			p.logger.Error("batch failed", "err", batchErr)
			summary.FailedBatches = append(summary.FailedBatches, BatchRange{Start: start, End: end})
			if tracker != nil {
				tracker.Failed(len(batch))
			}
		} else {
			summary.NewDocuments += len(batch)
			if tracker != nil {
				tracker.Succeeded(len(batch))
			}
		}

		if markErr := p.settle(ctx, batch, err != nil, summary); markErr != nil {
			return markErr
		}
	}
	return nil
}

// settle releases the batch's hold on each file and marks files whose last
// outstanding batch just finished without any failure.
func (p *Pipeline) settle(ctx context.Context, batch []pendingDoc, failed bool, summary *Summary) error {
	for _, pd := range batch {
		tally := pd.file
		if failed {
			tally.failed = true
		}
		tally.remaining--
		if tally.remaining > 0 {
			continue
		}
		if tally.failed {
			summary.IncompleteFiles = append(summary.IncompleteFiles, tally.path)
			continue
		}
		if err := p.ledger.MarkFileProcessed(ctx, tally.path); err != nil {
			return fmt.Errorf("marking %s: %w", tally.path, err)
		}
	}
	return nil
}
