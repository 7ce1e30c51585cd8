package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/core"
	"github.com/tmc/langchaingo/llms/openai"
)

// classify maps a raw client error onto langchaingo's standard error codes
// and marks retryable ones with core.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	mapped := openai.MapError(err)
	if ai.IsTransient(mapped) {
		return fmt.Errorf("%w: %w", core.ErrTransient, mapped)
	}
	return mapped
}
