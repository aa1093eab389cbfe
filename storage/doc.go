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

// Package storage provides the storage abstraction layer for blueprint.
//
// This package defines the store interfaces used by the pipeline and the
// binary and JSON encodings shared by its backends:
//
//   - VectorStore: chunk embeddings and similarity search
//   - JobStore: job event logs, projections and staged step results
//   - EntityStore: extracted entities and their review state
//   - DocumentStore: source documents and page text
//   - DeadLetterStore: permanently failed jobs
//
// Two backends exist. storage/badger implements every interface on an
// embedded BadgerDB and is the default. storage/postgres implements
// VectorStore on PostgreSQL with pgvector.
//
// # Usage
//
//	stores, err := badger.Open("/var/lib/blueprint", badger.WithDimension(768))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stores.Close()
//
// Use in tests with in-memory storage:
//
//	stores, err := badger.NewMemoryStores(8)
//
// # Thread Safety
//
// All store implementations are safe for concurrent use. JobStore
// serializes appends per job so progress updates are never lost.
package storage
