package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/storage"
)

// Defaults for retrieval.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.35
	DefaultContextLimit  = 40000
)

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces schema-conforming JSON. *gateway.Gateway implements it.
type Generator interface {
	Extract(ctx context.Context, content string, schema gateway.Schema) (json.RawMessage, error)
}

// Request is one question.
type Request struct {
	ProjectID string
	// DocumentID restricts retrieval to one document when set.
	DocumentID string
	Question   string
	// TopK overrides the service default when positive.
	TopK int
}

// Citation is a retrieved source the answer relies on.
type Citation struct {
	Label      string  `json:"label"`
	ChunkID    core.ID `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Answer is the result of a question. When NoRelevantContext is set no
// answer was generated and the other fields are empty.
type Answer struct {
	Answer            string     `json:"answer,omitempty"`
	Citations         []Citation `json:"citations,omitempty"`
	Confidence        float64    `json:"confidence"`
	Followups         []string   `json:"followups,omitempty"`
	NoRelevantContext bool       `json:"no_relevant_context"`
	// TopScore is the similarity of the best retrieved chunk, 0 when none.
	TopScore float32 `json:"top_score"`
}

// Service answers questions from stored document chunks.
type Service struct {
	embedder      Embedder
	generator     Generator
	vectors       storage.VectorStore
	topK          int
	minSimilarity float32
	contextLimit  int
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithTopK sets the number of chunks retrieved per question.
func WithTopK(k int) Option {
	return func(s *Service) error {
		if k <= 0 {
			return fmt.Errorf("%w: top k must be positive", ErrInvalidOption)
		}
		s.topK = k
		return nil
	}
}

// WithMinSimilarity sets the score the best match must reach for an answer
// to be attempted.
func WithMinSimilarity(v float32) Option {
	return func(s *Service) error {
		if v < -1 || v > 1 {
			return fmt.Errorf("%w: similarity must be between -1 and 1", ErrInvalidOption)
		}
		s.minSimilarity = v
		return nil
	}
}

// WithContextLimit caps the size of the source context in bytes.
func WithContextLimit(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return fmt.Errorf("%w: context limit must be positive", ErrInvalidOption)
		}
		s.contextLimit = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a question answering service.
func New(embedder Embedder, generator Generator, vectors storage.VectorStore, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	s := &Service{
		embedder:      embedder,
		generator:     generator,
		vectors:       vectors,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		contextLimit:  DefaultContextLimit,
		logger:        slog.Default().With("component", "qa"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ask answers a question.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	return s.AskWithMonitor(ctx, req, nil)
}

type answerWire struct {
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations"`
	Confidence *float64 `json:"confidence"`
	Followups  []string `json:"followups"`
}

// AskWithMonitor answers a question, reporting each stage to monitor.
func (s *Service) AskWithMonitor(ctx context.Context, req Request, monitor Monitor) (*Answer, error) {
	if monitor == nil {
		monitor = noopMonitor{}
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.ProjectID == "" {
		return nil, ErrProjectRequired
	}
	if req.Question == "" {
		return nil, ErrEmptyQuestion
	}
	k := s.topK
	if req.TopK > 0 {
		k = req.TopK
	}
	monitor.Start(req)

	vector, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		s.logger.Error("error embedding question", "project", req.ProjectID, "err", err)
		return nil, err
	}

	matches, err := s.vectors.Search(ctx, vector, core.SearchFilter{
		ProjectID:  req.ProjectID,
		DocumentID: req.DocumentID,
	}, k)
	if err != nil {
		s.logger.Error("error searching chunks", "project", req.ProjectID, "err", err)
		return nil, err
	}
	monitor.AfterRetrieval(matches)

	var top float32
	if len(matches) > 0 {
		top = matches[0].Score
	}
	relevant := make([]core.ChunkMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= s.minSimilarity {
			relevant = append(relevant, m)
		}
	}
	s.logger.Debug("chunks retrieved",
		"project", req.ProjectID,
		"document", req.DocumentID,
		"count", len(matches),
		"relevant", len(relevant),
		"topScore", top)

	if len(relevant) == 0 {
		answer := &Answer{NoRelevantContext: true, TopScore: top}
		monitor.Finish(answer)
		return answer, nil
	}

	sources, shown := buildContext(relevant, s.contextLimit)
	monitor.BeforeGeneration(sources)

	raw, err := s.generator.Extract(ctx, buildPrompt(req.Question, sources), answerSchema)
	if err != nil {
		s.logger.Error("error generating answer", "project", req.ProjectID, "err", err)
		return nil, err
	}
	var out answerWire
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode answer: %w", core.ErrFatalInput, err)
	}

	answer := &Answer{
		Answer:    strings.TrimSpace(out.Answer),
		Followups: nonEmpty(out.Followups),
		TopScore:  top,
	}
	if out.Confidence != nil {
		answer.Confidence = min(max(*out.Confidence, 0), 1)
	}
	for _, i := range sourceIndexes(out.Citations, shown) {
		m := relevant[i]
		answer.Citations = append(answer.Citations, Citation{
			Label:      label(i),
			ChunkID:    m.Chunk.ID,
			DocumentID: m.Chunk.DocumentID,
			PageNumber: m.Chunk.PageNumber,
			ChunkIndex: m.Chunk.ChunkIndex,
			Score:      m.Score,
		})
	}
	if dropped := len(out.Citations) - len(answer.Citations); dropped > 0 {
		s.logger.Debug("ignored citations outside the prompt sources", "count", dropped)
	}

	monitor.Finish(answer)
	return answer, nil
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
