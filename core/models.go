// Package core defines the domain model for the blueprint pipeline.
package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID identifies a stored chunk. IDs are derived from content so that
// re-chunking identical input reproduces identical identifiers.
type ID uint64

// IDFromContent hashes text into a 64-bit ID using BLAKE2b.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the ID of a chunk from its document, position and content.
func ChunkID(documentID string, chunkIndex int, content string) ID {
	var b strings.Builder
	b.Grow(len(documentID) + len(content) + 16)
	b.WriteString(documentID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(chunkIndex))
	b.WriteByte(0)
	b.WriteString(content)
	return IDFromContent(b.String())
}

// Page is one page of extracted document text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is the unit submitted for processing. Content and project scoping
// come from the surrounding document service.
type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Pages     []Page    `json:"pages"`
	CreatedAt time.Time `json:"created_at"`
}

// HasText reports whether any page carries non-whitespace text.
func (d *Document) HasText() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Chunk is a bounded text segment produced by the chunker.
type Chunk struct {
	Content     string `json:"content"`
	PageNumber  int    `json:"page_number"`
	Index       int    `json:"chunk_index"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// ChunkMetadata is the tagged metadata stored with each chunk.
type ChunkMetadata struct {
	Strategy    string `json:"strategy,omitempty"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	JobID       string `json:"job_id,omitempty"`
	// Debug holds an opaque provider payload.
	Debug []byte `json:"debug,omitempty"`
}

// DocumentChunk is a chunk with its embedding and denormalized filter fields.
// Chunks are immutable once written.
type DocumentChunk struct {
	ID         ID
	Content    string
	Embedding  []float32
	Metadata   ChunkMetadata
	ProjectID  string
	DocumentID string
	PageNumber int
	ChunkIndex int
	Source     string
	CreatedAt  time.Time
}

// SearchFilter restricts a vector search. Empty fields do not filter.
type SearchFilter struct {
	ProjectID  string
	DocumentID string
}

// Matches reports whether chunk satisfies the filter.
func (f SearchFilter) Matches(chunk *DocumentChunk) bool {
	if f.ProjectID != "" && chunk.ProjectID != f.ProjectID {
		return false
	}
	if f.DocumentID != "" && chunk.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// ChunkMatch is a search hit.
type ChunkMatch struct {
	Chunk *DocumentChunk
	Score float32
}
