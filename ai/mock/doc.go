// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Completer,
// and ai.AIProvider for use in unit tests. The mocks run without external AI
// services and behave deterministically.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vec, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	completer := mock.NewMockCompleter()
//	completer.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
//	    return `"hi" : "안녕, 반가워, 좋아"`, nil
//	}
//
//	count := completer.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: unit-length vectors derived from a hash of the text
//   - MockCompleter: echoes the question line of the prompt in the response format
//   - MockProvider: aggregates both
package mock
