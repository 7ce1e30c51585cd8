package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/ai/mock"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/loader"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
	"github.com/poiesic/tonerag/storage/badger"
	"github.com/poiesic/tonerag/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir      string
	index    storage.VectorIndex
	ledger   storage.Ledger
	provider *mock.MockProvider
	embedder *mock.MockEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	index, err := badger.NewMemoryIndex("test")
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	ledger, err := sqlite.NewLedger(db)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 8

	return &fixture{
		dir:      t.TempDir(),
		index:    index,
		ledger:   ledger,
		provider: mock.NewMockProviderWithServices(embedder, mock.NewMockCompleter()),
		embedder: embedder,
	}
}

// writeCorpus writes a corpus file whose utterances carry the given ids.
func (f *fixture) writeCorpus(t *testing.T, name string, ids ...string) string {
	t.Helper()
	utterances := make([]string, len(ids))
	for i, id := range ids {
		utterances[i] = fmt.Sprintf(`{"utterance_id": %q, "persona_id": "p1", "text": "text of %s", "terminate": false}`, id, id)
	}
	body := fmt.Sprintf(`{"info": {"id": 1, "name": %q, "category": "daily", "topic": "weather"}, "utterances": [%s]}`,
		name, strings.Join(utterances, ","))
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fastPolicy(t *testing.T, attempts int) *retry.Policy {
	t.Helper()
	policy, err := retry.NewPolicy(
		retry.WithMaxAttempts(attempts),
		retry.WithBaseDelay(0),
		retry.WithMaxDelay(0),
		retry.WithRetryable(ai.IsTransient),
	)
	require.NoError(t, err)
	return policy
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastPolicy(t, 3)), WithPoolSize(2)}, opts...)
	p, err := NewPipeline(f.dir, f.index, f.ledger, f.provider, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func (f *fixture) processed(t *testing.T, path string) bool {
	t.Helper()
	done, err := f.ledger.IsFileProcessed(context.Background(), path)
	require.NoError(t, err)
	return done
}

func TestNewPipeline_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewPipeline("", f.index, f.ledger, f.provider)
	assert.ErrorIs(t, err, ErrCorpusDirRequired)

	_, err = NewPipeline(f.dir, nil, f.ledger, f.provider)
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewPipeline(f.dir, f.index, nil, f.provider)
	assert.ErrorIs(t, err, ErrLedgerRequired)

	_, err = NewPipeline(f.dir, f.index, f.ledger, nil)
	assert.ErrorIs(t, err, ErrAIProviderRequired)

	_, err = NewPipeline(f.dir, f.index, f.ledger, f.provider, WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = NewPipeline(f.dir, f.index, f.ledger, f.provider, WithRetryPolicy(nil))
	assert.Error(t, err)

	_, err = NewPipeline(f.dir, f.index, f.ledger, f.provider, WithPoolSize(0))
	assert.ErrorIs(t, err, loader.ErrInvalidWorkers)

	p, err := NewPipeline(f.dir, f.index, f.ledger, f.provider, WithPoolSize(1))
	require.NoError(t, err)
	p.Release()
}

func TestPipeline_FirstRunIndexesEverything(t *testing.T) {
	f := newFixture(t)
	a := f.writeCorpus(t, "a.json", "a1", "a2", "a3", "a4")
	b := f.writeCorpus(t, "nested/b.json", "b1", "b2", "b3")
	c := f.writeCorpus(t, "c.json", "c1", "c2", "c3")

	p := f.pipeline(t, WithBatchSize(4))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.SuccessFiles)
	assert.Equal(t, 0, summary.FailedFiles)
	assert.Equal(t, 0, summary.SkippedFiles)
	assert.Equal(t, 10, summary.NewDocuments)
	assert.Equal(t, 10, summary.ExistingDocuments)
	assert.Empty(t, summary.FailedBatches)
	assert.Empty(t, summary.IncompleteFiles)
	assert.False(t, summary.HasFailures())

	// 10 documents in batches of 4
	assert.Equal(t, 3, f.embedder.CallCount())

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	for _, path := range []string{a, b, c} {
		assert.True(t, f.processed(t, path), path)
	}

	sources, err := storage.LoadIndexedSourceFiles(context.Background(), f.index)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
	assert.Contains(t, sources, b)
}

func TestPipeline_RerunSkipsProcessedFiles(t *testing.T) {
	f := newFixture(t)
	f.writeCorpus(t, "a.json", "a1", "a2", "a3", "a4")
	f.writeCorpus(t, "b.json", "b1", "b2", "b3")
	f.writeCorpus(t, "c.json", "c1", "c2", "c3")

	p := f.pipeline(t, WithBatchSize(4))
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	f.embedder.Reset()

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NewDocuments)
	assert.Equal(t, 3, summary.SkippedFiles)
	assert.Equal(t, 0, summary.SuccessFiles)
	assert.Equal(t, 10, summary.ExistingDocuments)
	assert.Zero(t, f.embedder.CallCount())

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestPipeline_DedupsAcrossFiles(t *testing.T) {
	f := newFixture(t)
	a := f.writeCorpus(t, "a.json", "shared", "a2")
	b := f.writeCorpus(t, "b.json", "shared", "b2")
	dup := f.writeCorpus(t, "c.json", "a2", "b2")

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.NewDocuments)
	assert.Equal(t, 3, summary.SuccessFiles)

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// c.json contributes nothing new but still parses, so it is recorded.
	for _, path := range []string{a, b, dup} {
		assert.True(t, f.processed(t, path), path)
	}
}

func TestPipeline_DedupsAgainstIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := core.Document{
		Content:  "already here",
		Metadata: map[string]any{core.MetaUtteranceID: "a1", core.MetaSourceFile: "elsewhere.json"},
	}
	require.NoError(t, f.index.Add(ctx, []core.IndexedDocument{
		core.NewIndexedDocument(existing, mock.DeterministicVector(existing.Content, 8)),
	}))

	f.writeCorpus(t, "a.json", "a1", "a2")

	p := f.pipeline(t)
	summary, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewDocuments)
	assert.Equal(t, 2, summary.ExistingDocuments)

	results, err := f.index.Query(ctx, mock.DeterministicVector(existing.Content, 8), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "already here", results[0].Content)
}

func TestPipeline_SkipsDocumentsWithoutID(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"utterances": [
		{"utterance_id": "u1", "text": "kept"},
		{"text": "no id"},
		{"utterance_id": null, "text": "null id"}
	]}`), 0o644))

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewDocuments)
	assert.True(t, f.processed(t, path))
}

func TestPipeline_FailedBatchLeavesFilesUnmarked(t *testing.T) {
	f := newFixture(t)
	a := f.writeCorpus(t, "a.json", "a1", "a2", "a3", "a4")
	b := f.writeCorpus(t, "b.json", "b1", "b2", "b3")
	c := f.writeCorpus(t, "c.json", "c1", "c2", "c3")

	calls := 0
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("invalid request")
		}
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = mock.DeterministicVector(text, 8)
		}
		return vectors, nil
	}

	p := f.pipeline(t, WithBatchSize(4))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	// Batch 2 holds b1..b3 and c1; a permanent error is not retried.
	assert.Equal(t, 3, calls)
	assert.Equal(t, []BatchRange{{Start: 4, End: 8}}, summary.FailedBatches)
	assert.Equal(t, 6, summary.NewDocuments)
	assert.Equal(t, 3, summary.SuccessFiles)
	assert.ElementsMatch(t, []string{b, c}, summary.IncompleteFiles)
	assert.True(t, summary.HasFailures())

	assert.True(t, f.processed(t, a))
	assert.False(t, f.processed(t, b))
	assert.False(t, f.processed(t, c))

	// The next run picks up only what is missing.
	f.embedder.Reset()
	summary, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedFiles)
	assert.Equal(t, 2, summary.SuccessFiles)
	assert.Equal(t, 4, summary.NewDocuments)
	assert.Empty(t, summary.FailedBatches)
	assert.True(t, f.processed(t, b))
	assert.True(t, f.processed(t, c))

	count, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestPipeline_RetryIsBounded(t *testing.T) {
	f := newFixture(t)
	path := f.writeCorpus(t, "a.json", "a1", "a2")

	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: 429 too many requests", core.ErrTransient)
	}

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, f.embedder.CallCount())
	assert.Equal(t, []BatchRange{{Start: 0, End: 2}}, summary.FailedBatches)
	assert.Equal(t, 0, summary.NewDocuments)
	assert.Equal(t, []string{path}, summary.IncompleteFiles)
	assert.False(t, f.processed(t, path))
}

func TestPipeline_RetryRecovers(t *testing.T) {
	f := newFixture(t)
	path := f.writeCorpus(t, "a.json", "a1", "a2")

	calls := 0
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls < 3 {
			return nil, core.ErrTransient
		}
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = mock.DeterministicVector(text, 8)
		}
		return vectors, nil
	}

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, summary.NewDocuments)
	assert.Empty(t, summary.FailedBatches)
	assert.True(t, f.processed(t, path))
}

func TestPipeline_EmbeddingCountMismatch(t *testing.T) {
	f := newFixture(t)
	f.writeCorpus(t, "a.json", "a1", "a2")

	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{mock.DeterministicVector("x", 8)}, nil
	}

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.FailedBatches, 1)
	assert.Equal(t, 1, f.embedder.CallCount())
}

func TestPipeline_ParseFailureIsNotMarked(t *testing.T) {
	f := newFixture(t)
	good := f.writeCorpus(t, "a.json", "a1")
	bad := filepath.Join(f.dir, "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"utterances": [`), 0o644))
	noUtterances := filepath.Join(f.dir, "empty.json")
	require.NoError(t, os.WriteFile(noUtterances, []byte(`{"info": {}}`), 0o644))

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessFiles)
	assert.Equal(t, 2, summary.FailedFiles)
	assert.Equal(t, 1, summary.NewDocuments)
	assert.True(t, summary.HasFailures())

	assert.True(t, f.processed(t, good))
	assert.False(t, f.processed(t, bad))
	assert.False(t, f.processed(t, noUtterances))
}

func TestPipeline_MissingCorpusDir(t *testing.T) {
	f := newFixture(t)
	p, err := NewPipeline(filepath.Join(f.dir, "missing"), f.index, f.ledger, f.provider)
	require.NoError(t, err)
	defer p.Release()

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrFatalSetup)
}

func TestPipeline_EmptyCorpus(t *testing.T) {
	f := newFixture(t)

	p := f.pipeline(t)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.SuccessFiles)
	assert.Zero(t, summary.NewDocuments)
	assert.NotNil(t, summary.FailedBatches)
	assert.Zero(t, f.embedder.CallCount())
}

func TestPipeline_CancelDuringBatch(t *testing.T) {
	f := newFixture(t)
	path := f.writeCorpus(t, "a.json", "a1", "a2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		cancel()
		return nil, ctx.Err()
	}

	p := f.pipeline(t)
	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.processed(t, path))
}

func TestPipeline_Progress(t *testing.T) {
	f := newFixture(t)
	f.writeCorpus(t, "a.json", "a1", "a2", "a3")

	var buf bytes.Buffer
	p := f.pipeline(t, WithBatchSize(2), WithProgress(&buf, 1))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Indexed: 3/3")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestPipeline_RateLimit(t *testing.T) {
	f := newFixture(t)
	f.writeCorpus(t, "a.json", "a1", "a2")

	p := f.pipeline(t, WithRateLimit(1000, 10))
	require.NotNil(t, p.policy.Limiter)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NewDocuments)
}
