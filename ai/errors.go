package ai

import (
	"context"
	"errors"
	"net"

	"github.com/poiesic/tonerag/core"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrEmptyCompletion is returned when a model answers with no text.
	ErrEmptyCompletion = errors.New("model returned an empty completion")

	// ErrEmbeddingCount is returned when a provider returns a different
	// number of vectors than texts submitted.
	ErrEmbeddingCount = errors.New("embedding count does not match input count")
)

// IsTransient reports whether err is worth retrying: rate limits, provider
// outages, and timeouts. Cancellation and malformed requests are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, core.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var llmErr *llms.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case llms.ErrCodeRateLimit, llms.ErrCodeTimeout, llms.ErrCodeProviderUnavailable:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
