package ai

import "context"

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple texts in one request.
	// The returned slice is in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationRequest describes a single structured generation call.
type GenerationRequest struct {
	// Task names the kind of output requested (e.g. "materials", "answer").
	// Providers use it for logging; test doubles route on it.
	Task string

	// System is the system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	Temperature float64
	MaxTokens   int
}

// Generator produces JSON documents from chat models.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// GenerateJSON returns the model's raw JSON text for the request.
	// Markdown fences are stripped; the result is not validated.
	GenerateJSON(ctx context.Context, req GenerationRequest) (string, error)
}

// Provider aggregates AI services for convenient initialization and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the structured generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	Close() error
}
