package storage

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/blueprint/core"
)

// ValidateChunkSet checks a document's replacement chunk set before any
// write. Every failure is a core.ErrConsistency error.
func ValidateChunkSet(documentID string, chunks []*core.DocumentChunk, dimension int) error {
	indexes := make([]int, 0, len(chunks))
	projectID := ""
	for _, c := range chunks {
		if err := core.ValidateChunk(c, dimension); err != nil {
			if errors.Is(err, core.ErrConsistency) {
				return err
			}
			return fmt.Errorf("%w: %w", core.ErrConsistency, err)
		}
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d belongs to document %s, not %s",
				core.ErrConsistency, c.ChunkIndex, c.DocumentID, documentID)
		}
		if projectID == "" {
			projectID = c.ProjectID
		} else if c.ProjectID != projectID {
			return fmt.Errorf("%w: chunks of document %s span projects", core.ErrConsistency, documentID)
		}
		if strings.ContainsRune(c.ProjectID, 0) || strings.ContainsRune(c.DocumentID, 0) {
			return fmt.Errorf("%w: ids may not contain NUL", core.ErrConsistency)
		}
		indexes = append(indexes, c.ChunkIndex)
	}
	slices.Sort(indexes)
	for i, idx := range indexes {
		if idx != i {
			return fmt.Errorf("%w: chunk indexes of document %s are not contiguous from 0", core.ErrConsistency, documentID)
		}
	}
	return nil
}

// PrepareChunks fills derived ids and creation times of a validated set.
func PrepareChunks(chunks []*core.DocumentChunk, now time.Time) {
	for _, c := range chunks {
		if c.ID == 0 {
			c.ID = core.ChunkID(c.DocumentID, c.ChunkIndex, c.Content)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}
}
