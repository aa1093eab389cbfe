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

// Package postgres implements storage.VectorStore on PostgreSQL with the
// pgvector extension.
//
// Chunks live in the document_embeddings table with an ivfflat cosine index
// and equality indexes on project_id and document_id. A document's chunk set
// is replaced by a delete and a bulk copy inside one transaction, so MVCC
// readers see either the old set or the new one.
package postgres
