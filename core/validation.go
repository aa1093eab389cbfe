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
	"math"
	"strings"
)

// ValidateDocument validates a Document before it is submitted.
//
// Validation rules:
//   - ID and ProjectID must not be empty
//   - Page numbers must be positive and strictly ascending
//
// Pages may be empty; such documents are processed with skipped steps.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidDocument)
	}
	last := 0
	for _, p := range doc.Pages {
		if p.Number <= last {
			return fmt.Errorf("%w: page numbers must be positive and ascending (got %d after %d)", ErrInvalidDocument, p.Number, last)
		}
		last = p.Number
	}
	return nil
}

// ValidateChunk validates a DocumentChunk for storage in a store of the given
// dimension. A dimension mismatch is a consistency error, never truncated.
func ValidateChunk(chunk *DocumentChunk, dimension int) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if chunk.DocumentID == "" || chunk.ProjectID == "" {
		return fmt.Errorf("%w: document and project ids are required", ErrInvalidChunk)
	}
	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index", ErrInvalidChunk)
	}
	if len(chunk.Embedding) != dimension {
		return fmt.Errorf("%w: chunk %d has dimension %d, store requires %d",
			ErrConsistency, chunk.ChunkIndex, len(chunk.Embedding), dimension)
	}
	for _, v := range chunk.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: chunk %d embedding is not finite", ErrConsistency, chunk.ChunkIndex)
		}
	}
	return nil
}

// ValidateEntity validates the shared metadata of an extracted entity.
func ValidateEntity(e Entity) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidEntity)
	}
	m := e.Meta()
	if _, err := ParseEntityKind(string(m.Kind)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	if m.ID == "" || m.ProjectID == "" {
		return fmt.Errorf("%w: id and project id are required", ErrInvalidEntity)
	}
	if m.Confidence < 0 || m.Confidence > 1 || math.IsNaN(m.Confidence) {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrConfidenceRange)
	}
	if strings.TrimSpace(e.Identity()) == "" || strings.TrimSpace(e.Identity()) == "|" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidEntity, m.Kind)
	}
	return m.Review.Validate()
}

// ClampConfidence maps a model-reported confidence into [0,1].
// Zero values and NaN fall back to def.
func ClampConfidence(c, def float64) float64 {
	if math.IsNaN(c) || c == 0 {
		return def
	}
	return math.Max(0, math.Min(1, c))
}
