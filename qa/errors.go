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

package qa

import "errors"

var (
	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrGeneratorRequired is returned when no answer generator is provided.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrVectorStoreRequired is returned when no vector store is provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrInvalidOption is returned for out-of-range options.
	ErrInvalidOption = errors.New("invalid qa option")

	// ErrProjectRequired is returned when a question names no project.
	ErrProjectRequired = errors.New("project id required")

	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")
)
