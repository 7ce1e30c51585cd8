package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple texts in one call.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer sends a fully rendered prompt to a language model and returns its text.
// Implementations must be thread-safe for concurrent use.
type Completer interface {
	// Complete returns the model's reply. An empty reply is reported as
	// ErrEmptyCompletion rather than an empty string.
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Completer returns the chat completion service.
	Completer() Completer

	// Close releases resources held by the provider and its services.
	Close() error
}
