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

package ingestion

import "errors"

var (
	// ErrJobStoreRequired is returned when a job store is not provided.
	ErrJobStoreRequired = errors.New("job store required")

	// ErrDocumentStoreRequired is returned when a document store is not provided.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrEntityStoreRequired is returned when an entity store is not provided.
	ErrEntityStoreRequired = errors.New("entity store required")

	// ErrDeadLetterStoreRequired is returned when a dead-letter store is not provided.
	ErrDeadLetterStoreRequired = errors.New("dead-letter store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEngineRequired is returned when an extraction engine is not provided.
	ErrEngineRequired = errors.New("extraction engine required")

	// ErrInvalidOption is returned for out-of-range options.
	ErrInvalidOption = errors.New("invalid ingestion option")

	// ErrJobActive is returned when a job already has a run loop in this process.
	ErrJobActive = errors.New("job is active")

	// ErrAlreadyProcessed is returned when requeueing a dead letter twice.
	ErrAlreadyProcessed = errors.New("dead letter already processed")

	// ErrShutdown is returned once the orchestrator is shutting down.
	ErrShutdown = errors.New("orchestrator is shutting down")
)
