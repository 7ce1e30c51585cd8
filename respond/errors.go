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


package respond

import (
	"errors"
	"fmt"

	"github.com/poiesic/tonerag/core"
)

var (
	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrChatLogRequired is returned when a chat log repository is not provided.
	ErrChatLogRequired = errors.New("chat log repository required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrInvalidOption is returned for out-of-range responder settings.
	ErrInvalidOption = errors.New("invalid responder option")
)

// ValidationError reports a required request field that was left empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return core.ErrValidation
}
