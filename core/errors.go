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

import "errors"

var (
	// ErrValidation indicates missing or malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrNotReady indicates the vector index holds no documents yet.
	ErrNotReady = errors.New("vector index is empty; run ingestion first")

	// ErrTransient marks provider failures that may succeed on retry
	// (rate limits, temporary unavailability, timeouts).
	ErrTransient = errors.New("transient provider error")

	// ErrLoad indicates a source file could not be parsed.
	ErrLoad = errors.New("load failed")

	// ErrBatchFailed indicates a batch exhausted its retry budget or hit a permanent error.
	ErrBatchFailed = errors.New("batch failed")

	// ErrFatalSetup indicates the run cannot proceed at all (missing corpus, unreachable index).
	ErrFatalSetup = errors.New("fatal setup error")

	// ErrCollectionRequired indicates no vector index collection name was configured.
	ErrCollectionRequired = errors.New("collection name is required")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrMissingUnitID indicates a document carries no utterance id.
	ErrMissingUnitID = errors.New("document has no unit id")

	// ErrEmptyVector indicates an indexed document has no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")
)
