package qa

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
)

// SchemaAnswer is the gateway task name of answer generation.
const SchemaAnswer = "answer"

const sourceSeparator = "\n\n---\n\n"

const answerInstructions = `You are an expert construction document analyst answering questions about project documents.

Answer based only on the provided sources. If they do not contain enough information, say so clearly. Cite the sources you used by their labels exactly as shown, for example "S2". Show your reasoning for numerical answers and present every interpretation when more than one is possible.

Report a confidence between 0 and 1 and suggest follow-up questions that would help clarify the answer.`

var answerSchema = gateway.Schema{
	Name:         SchemaAnswer,
	Instructions: answerInstructions,
	Temperature:  0.2,
	MaxTokens:    4096,
	Definition: map[string]any{
		"type":     "object",
		"required": []any{"answer"},
		"properties": map[string]any{
			"answer":     map[string]any{"type": "string"},
			"citations":  map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}},
			"confidence": map[string]any{"type": []any{"number", "null"}},
			"followups":  map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}},
		},
	},
}

func label(i int) string {
	return "S" + strconv.Itoa(i+1)
}

// buildContext renders matches as labelled sources, cut to limit bytes.
// shown is the number of leading sources whose label line survived the cut.
func buildContext(matches []core.ChunkMatch, limit int) (context string, shown int) {
	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString(sourceSeparator)
		}
		header := fmt.Sprintf("[%s] Page %d, Chunk %d\n", label(i), m.Chunk.PageNumber, m.Chunk.ChunkIndex)
		if b.Len()+len(header) <= limit {
			shown = i + 1
		}
		b.WriteString(header)
		b.WriteString(m.Chunk.Content)
	}
	return truncate(b.String(), limit), shown
}

func buildPrompt(question, context string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSources:\n\n")
	b.WriteString(context)
	return b.String()
}

var sourceRef = regexp.MustCompile(`(?i)\bS(\d+)\b`)

// sourceIndexes resolves citation strings to match positions. References
// outside [0,n) are dropped and each source is reported once.
func sourceIndexes(citations []string, n int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range citations {
		for _, m := range sourceRef.FindAllStringSubmatch(c, -1) {
			i, err := strconv.Atoi(m[1])
			if err != nil || i < 1 || i > n || seen[i-1] {
				continue
			}
			seen[i-1] = true
			out = append(out, i-1)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
