package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tonerag/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []openai.Option{
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIToken),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	}
	if config.Dimensions > 0 {
		opts = append(opts, openai.WithEmbeddingDimensions(config.Dimensions))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	// Wrap in langchaingo embedder
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, classify(err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d, want 1", ai.ErrEmbeddingCount, len(vectors))
	}

	return vectors[0], nil
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, classify(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ai.ErrEmbeddingCount, len(vectors), len(texts))
	}

	return vectors, nil
}
