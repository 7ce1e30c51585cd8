package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/retry"
	"github.com/poiesic/tonerag/storage"
)

// batchIndexer embeds a batch of documents and writes them to the index.
type batchIndexer struct {
	index    storage.VectorIndex
	embedder ai.Embedder
	policy   *retry.Policy
	logger   *slog.Logger
}

// process runs embed and add as one retried unit, so a transient index write
// failure re-embeds the batch rather than leaving it half written.
func (b *batchIndexer) process(ctx context.Context, docs []core.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].Content
	}

	return b.policy.Do(ctx, func(ctx context.Context) error {
		vectors, err := b.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding %d documents: %w", len(texts), err)
		}
		if len(vectors) != len(docs) {
			return fmt.Errorf("%w: got %d, want %d", ai.ErrEmbeddingCount, len(vectors), len(docs))
		}

		indexed := make([]core.IndexedDocument, len(docs))
		for i := range docs {
			indexed[i] = core.NewIndexedDocument(docs[i], vectors[i])
		}

		b.logger.Debug("writing batch to index", "documents", len(indexed))
		if err := b.index.Add(ctx, indexed); err != nil {
			return fmt.Errorf("adding %d documents to index: %w", len(indexed), err)
		}
		return nil
	})
}
