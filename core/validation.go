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


package core

import (
	"fmt"
	"strings"
)

func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrValidation)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
	}
	if doc.UnitID() == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingUnitID)
	}
	return nil
}

func ValidateIndexedDocument(doc *IndexedDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: indexed document is nil", ErrValidation)
	}
	if doc.Content == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
	}
	if len(doc.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyVector)
	}
	return nil
}

// ValidateChatLogEntry checks the fields a caller must supply before an
// entry is persisted.
func ValidateChatLogEntry(entry *ChatLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: chat log entry is nil", ErrValidation)
	}
	if entry.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if entry.InputContent == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
	}
	return nil
}

// ValidateCollectionName fails fast on an unset collection name.
func ValidateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrCollectionRequired
	}
	return nil
}
