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


// Package storage provides the storage abstraction layer for tonerag.
//
// Two independently mutable stores back the system:
//
//   - Ledger and ChatLogRepository: relational bookkeeping (storage/sqlite)
//   - VectorIndex: the searchable document collection (storage/chromem,
//     storage/badger, storage/qdrant)
//
// The vector index is treated as the source of truth for what is
// searchable. LoadKnownUnitIDs and LoadIndexedSourceFiles read it directly so
// ingestion dedup and reconciliation never trust the ledger alone.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return interface types:
//
//	ledger, err := sqlite.NewLedger(db)          // storage.Ledger
//	index, err := chromem.NewIndex(path, name, embedder)   // storage.VectorIndex
//
// Internal helpers may return concrete types since they're only used within
// the implementation package.
//
// # Metadata
//
// Backends differ in which attribute types they accept. Sanitized metadata
// is flattened with StringMetadata before it reaches a string-only backend,
// so values read back through AllMetadata and Query are strings.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. Ingestion assumes a
// single writer per index and ledger pair; queries may run concurrently.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
