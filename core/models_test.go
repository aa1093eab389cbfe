package core

import "testing"

func TestIDFromContent_Deterministic(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "simple", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "Provide 5/8 in. type X gypsum board at all corridor walls, full height to deck"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestChunkID_DependsOnPosition(t *testing.T) {
	a := ChunkID("doc-1", 0, "same text")
	b := ChunkID("doc-1", 1, "same text")
	c := ChunkID("doc-2", 0, "same text")

	if a == b || a == c || b == c {
		t.Errorf("ChunkID() collided across positions/documents: %d %d %d", a, b, c)
	}
	if a != ChunkID("doc-1", 0, "same text") {
		t.Errorf("ChunkID() is not deterministic")
	}
}

func TestDocument_HasText(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: "  \n\t"}}}
	if doc.HasText() {
		t.Errorf("whitespace-only document reported text")
	}
	doc.Pages = append(doc.Pages, Page{Number: 2, Text: "A-101 FLOOR PLAN"})
	if !doc.HasText() {
		t.Errorf("document with text reported none")
	}
}

func TestSearchFilter_Matches(t *testing.T) {
	chunk := &DocumentChunk{ProjectID: "p1", DocumentID: "d1"}
	tests := []struct {
		name   string
		filter SearchFilter
		want   bool
	}{
		{name: "empty filter", filter: SearchFilter{}, want: true},
		{name: "project match", filter: SearchFilter{ProjectID: "p1"}, want: true},
		{name: "project mismatch", filter: SearchFilter{ProjectID: "p2"}, want: false},
		{name: "document mismatch", filter: SearchFilter{ProjectID: "p1", DocumentID: "d2"}, want: false},
		{name: "both match", filter: SearchFilter{ProjectID: "p1", DocumentID: "d1"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(chunk); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
