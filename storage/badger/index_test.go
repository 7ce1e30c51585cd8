package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/tonerag/ai/mock"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

func testDocs(n int, sourceFile string) []core.IndexedDocument {
	docs := make([]core.IndexedDocument, n)
	for i := range docs {
		content := fmt.Sprintf("utterance %d from %s", i, sourceFile)
		docs[i] = core.NewIndexedDocument(core.Document{
			Content: content,
			Metadata: map[string]any{
				core.MetaUtteranceID: fmt.Sprintf("%s-u%d", sourceFile, i),
				core.MetaSourceFile:  sourceFile,
			},
		}, mock.DeterministicVector(content, testDims))
	}
	return docs
}

func setupIndex(t *testing.T) storage.VectorIndex {
	t.Helper()
	idx, err := NewMemoryIndex("persona_chat")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestNewIndex_Validation(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	_, err = NewIndex(backend, "")
	assert.ErrorIs(t, err, core.ErrCollectionRequired)

	_, err = NewIndex(backend, "a:b")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewIndex(nil, "persona_chat")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestIndex_AddQueryCount(t *testing.T) {
	ctx := context.Background()
	idx := setupIndex(t)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	docs := testDocs(5, "a.json")
	require.NoError(t, idx.Add(ctx, docs))

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	results, err := idx.Query(ctx, docs[3].Vector, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, docs[3].Content, results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "a.json", results[0].Metadata[core.MetaSourceFile])
}

func TestIndex_AddIsUpsert(t *testing.T) {
	ctx := context.Background()
	idx := setupIndex(t)

	docs := testDocs(3, "a.json")
	require.NoError(t, idx.Add(ctx, docs))
	require.NoError(t, idx.Add(ctx, docs[:1]))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := setupIndex(t)

	require.NoError(t, idx.Add(ctx, testDocs(1, "a.json")))

	doc := testDocs(1, "b.json")[0]
	doc.Vector = []float32{1, 0}
	assert.ErrorIs(t, idx.Add(ctx, []core.IndexedDocument{doc}), storage.ErrDimensionMismatch)

	_, err := idx.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestIndex_RejectsInvalidDocuments(t *testing.T) {
	doc := testDocs(1, "a.json")[0]
	doc.Vector = nil
	err := setupIndex(t).Add(context.Background(), []core.IndexedDocument{doc})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestIndex_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	first, err := NewIndex(backend, "first")
	require.NoError(t, err)
	second, err := NewIndex(backend, "second")
	require.NoError(t, err)

	require.NoError(t, first.Add(ctx, testDocs(2, "a.json")))

	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Closing an index on a shared backend leaves the backend open.
	require.NoError(t, first.Close())
	assert.False(t, backend.IsClosed())
}

func TestIndex_AllMetadata(t *testing.T) {
	ctx := context.Background()
	idx := setupIndex(t)

	require.NoError(t, idx.Add(ctx, testDocs(2, "a.json")))
	require.NoError(t, idx.Add(ctx, testDocs(3, "b.json")))

	units, err := storage.LoadKnownUnitIDs(ctx, idx)
	require.NoError(t, err)
	assert.Len(t, units, 5)

	files, err := storage.LoadIndexedSourceFiles(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a.json": {}, "b.json": {}}, files)
}

func TestOpenIndex_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := OpenIndex(dir, "persona_chat")
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, testDocs(4, "a.json")))
	require.NoError(t, idx.Close())

	idx, err = OpenIndex(dir, "persona_chat")
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// The stored vector size survives the reopen.
	_, err = idx.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestIndex_Closed(t *testing.T) {
	idx, err := NewMemoryIndex("persona_chat")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
