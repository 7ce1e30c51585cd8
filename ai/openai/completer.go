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


package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/tonerag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer implements ai.Completer using OpenAI-compatible chat APIs.
type Completer struct {
	client      llms.Model
	temperature float64
	logger      *slog.Logger
}

// newCompleter is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newCompleter(config *ai.Config) (*Completer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.ChatModel),
	)
	if err != nil {
		return nil, err
	}

	return &Completer{
		client:      client,
		temperature: config.Temperature,
		logger:      slog.Default().With("component", "openai-completer"),
	}, nil
}

// NewCompleter creates a chat completer using the provided configuration.
//
// Returns ai.Completer interface to enforce abstraction.
func NewCompleter(config *ai.Config) (ai.Completer, error) {
	return newCompleter(config)
}

// Complete sends prompt as a single human message.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug("requesting completion", "promptLength", len(prompt))

	text, err := llms.GenerateFromSinglePrompt(ctx, c.client, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		if errors.Is(err, openai.ErrEmptyResponse) {
			return "", ai.ErrEmptyCompletion
		}
		c.logger.Error("completion failed", "err", err)
		return "", classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ai.ErrEmptyCompletion
	}
	return text, nil
}
