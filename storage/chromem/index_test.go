package chromem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/ai/mock"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 16

func newTestEmbedder() *mock.MockEmbedder {
	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = testDims
	return embedder
}

func testDocs(n int, sourceFile string) []core.IndexedDocument {
	docs := make([]core.IndexedDocument, n)
	for i := range docs {
		unitID := fmt.Sprintf("%s-u%d", sourceFile, i)
		content := fmt.Sprintf("utterance %d from %s", i, sourceFile)
		docs[i] = core.NewIndexedDocument(core.Document{
			Content: content,
			Metadata: map[string]any{
				core.MetaUtteranceID: unitID,
				core.MetaSourceFile:  sourceFile,
				core.MetaTerminate:   false,
			},
		}, mock.DeterministicVector(content, testDims))
	}
	return docs
}

func TestNewIndex_Validation(t *testing.T) {
	_, err := NewIndex("", "", newTestEmbedder())
	assert.ErrorIs(t, err, core.ErrCollectionRequired)

	_, err = NewIndex("", "persona_chat", nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewIndex("", "persona_chat", newTestEmbedder(), WithConcurrency(0))
	assert.Error(t, err)
}

func TestIndex_AddQueryCount(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := idx.Query(ctx, mock.DeterministicVector("anything", testDims), 4)
	require.NoError(t, err)
	assert.Empty(t, results)

	docs := testDocs(6, "a.json")
	require.NoError(t, idx.Add(ctx, docs))

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	results, err = idx.Query(ctx, docs[2].Vector, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, docs[2].Content, results[0].Content)
	assert.Equal(t, "a.json-u2", results[0].Metadata[core.MetaUtteranceID])
	assert.Equal(t, "false", results[0].Metadata[core.MetaTerminate])
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// k larger than the collection is capped.
	results, err = idx.Query(ctx, docs[0].Vector, 50)
	require.NoError(t, err)
	assert.Len(t, results, 6)
}

func TestIndex_AddIsUpsert(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)

	docs := testDocs(3, "a.json")
	require.NoError(t, idx.Add(ctx, docs))
	require.NoError(t, idx.Add(ctx, docs))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndex_AddEmptyIsNoop(t *testing.T) {
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)
	assert.NoError(t, idx.Add(context.Background(), nil))
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("", "persona_chat", newTestEmbedder(), WithDimensions(testDims))
	require.NoError(t, err)

	doc := testDocs(1, "a.json")[0]
	doc.Vector = []float32{1, 0, 0}
	assert.ErrorIs(t, idx.Add(ctx, []core.IndexedDocument{doc}), storage.ErrDimensionMismatch)

	_, err = idx.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestIndex_QueryValidation(t *testing.T) {
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), []float32{1}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = idx.Query(context.Background(), nil, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestIndex_AllMetadataAndUnitScan(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, testDocs(3, "a.json")))
	require.NoError(t, idx.Add(ctx, testDocs(2, "b.json")))

	all, err := idx.AllMetadata(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	units, err := storage.LoadKnownUnitIDs(ctx, idx)
	require.NoError(t, err)
	assert.Len(t, units, 5)
	assert.Contains(t, units, "b.json-u1")

	files, err := storage.LoadIndexedSourceFiles(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a.json": {}, "b.json": {}}, files)
}

func TestIndex_PersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	embedder := newTestEmbedder()

	idx, err := NewIndex(dir, "persona_chat", embedder)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, testDocs(4, "a.json")))
	require.NoError(t, idx.Close())

	// Scanning a reopened index must not reach the provider.
	embedder.Reset()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("%w: rate limited", core.ErrTransient)
	}
	idx, err = NewIndex(dir, "persona_chat", embedder)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	units, err := storage.LoadKnownUnitIDs(ctx, idx)
	require.NoError(t, err)
	assert.Len(t, units, 4)
	assert.Zero(t, embedder.CallCount())

	err = idx.Add(ctx, []core.IndexedDocument{core.NewIndexedDocument(core.Document{
		Content:  "short vector",
		Metadata: map[string]any{core.MetaUtteranceID: "x"},
	}, []float32{1, 2, 3})})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestIndex_ReopenWithoutDimensionRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	embedder := newTestEmbedder()

	idx, err := NewIndex(dir, "persona_chat", embedder)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, testDocs(3, "a.json")))
	require.NoError(t, idx.Close())

	records, err := filepath.Glob(filepath.Join(dir, "*.dims"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, os.Remove(records[0]))

	policy, err := retry.NewPolicy(
		retry.WithMaxAttempts(3),
		retry.WithBaseDelay(0),
		retry.WithMaxDelay(0),
		retry.WithRetryable(ai.IsTransient),
	)
	require.NoError(t, err)

	embedder.Reset()
	failures := 1
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if failures > 0 {
			failures--
			return nil, fmt.Errorf("%w: rate limited", core.ErrTransient)
		}
		return mock.DeterministicVector(text, testDims), nil
	}
	idx, err = NewIndex(dir, "persona_chat", embedder, WithRetryPolicy(policy))
	require.NoError(t, err)

	units, err := storage.LoadKnownUnitIDs(ctx, idx)
	require.NoError(t, err)
	assert.Len(t, units, 3)
	assert.Equal(t, 2, embedder.CallCount())
	require.NoError(t, idx.Close())

	// The scan recorded the vector size again.
	_, err = os.Stat(records[0])
	assert.NoError(t, err)
}

func TestIndex_DimensionRecordConflicts(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(dir, "persona_chat", newTestEmbedder(), WithDimensions(testDims))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = NewIndex(dir, "persona_chat", newTestEmbedder(), WithDimensions(testDims*2))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	records, err := filepath.Glob(filepath.Join(dir, "*.dims"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, os.WriteFile(records[0], []byte("wide"), 0o644))

	_, err = NewIndex(dir, "persona_chat", newTestEmbedder())
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}

func TestIndex_Closed(t *testing.T) {
	idx, err := NewIndex("", "persona_chat", newTestEmbedder())
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, idx.Add(context.Background(), testDocs(1, "a.json")), storage.ErrStorageClosed)
}
