package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/blueprint/chunker"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/extraction"
	"github.com/poiesic/blueprint/storage"
)

// Embedder produces fixed-dimension text embeddings.
// *gateway.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// stepDeps are the collaborators shared by every step.
type stepDeps struct {
	jobs        storage.JobStore
	docs        storage.DocumentStore
	vectors     storage.VectorStore
	embedder    Embedder
	engine      *extraction.Engine
	chunker     *chunker.Chunker
	windowSize  int
	minPageText int
}

func (d *stepDeps) document(ctx context.Context, sc *stepContext) (*core.Document, error) {
	if sc.doc != nil {
		return sc.doc, nil
	}
	doc, err := d.docs.Get(ctx, sc.job.DocumentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: document %s: %w", core.ErrFatalInput, sc.job.DocumentID, err)
		}
		return nil, err
	}
	sc.doc = doc
	return doc, nil
}

// stagedChunks returns the chunk list written by the chunk step.
func (d *stepDeps) stagedChunks(ctx context.Context, jobID string) ([]core.Chunk, error) {
	items, err := d.jobs.StagedItems(ctx, jobID, core.StepChunk)
	if err != nil {
		return nil, err
	}
	data, ok := items[0]
	if !ok {
		return nil, nil
	}
	chunks, err := storage.UnmarshalRecord[[]core.Chunk](data)
	if err != nil {
		return nil, err
	}
	return *chunks, nil
}

func newStepWork(d *stepDeps) map[core.StepKey]stepWork {
	return map[core.StepKey]stepWork{
		core.StepChunk:              &chunkWork{d},
		core.StepEmbed:              &embedWork{d},
		core.StepExtractMaterials:   &extractWork{stepDeps: d, kind: core.KindMaterial},
		core.StepExtractRooms:       &extractWork{stepDeps: d, kind: core.KindRoom},
		core.StepExtractTradeScopes: &extractWork{stepDeps: d, kind: core.KindTradeScope},
		core.StepSuggestMilestones:  &extractWork{stepDeps: d, kind: core.KindMilestone},
	}
}

// chunkWork splits the document into one staged chunk list.
type chunkWork struct{ *stepDeps }

func (w *chunkWork) prepare(ctx context.Context, sc *stepContext) (int, string, error) {
	doc, err := w.document(ctx, sc)
	if err != nil {
		return 0, "", err
	}
	if !doc.HasText() {
		return 0, core.SkipReasonNoText, nil
	}
	return 1, "", nil
}

func (w *chunkWork) item(ctx context.Context, sc *stepContext, _ int) ([]byte, error) {
	return storage.MarshalRecord(w.chunker.Chunk(sc.doc.Pages))
}

func (w *chunkWork) finish(ctx context.Context, sc *stepContext, staged map[int][]byte) (*core.StepDetails, string, error) {
	chunks, err := storage.UnmarshalRecord[[]core.Chunk](staged[0])
	if err != nil {
		return nil, "", err
	}
	cfg := w.chunker.Config()
	details := &core.StepDetails{Chunking: &core.ChunkStepDetails{
		Chunks:   len(*chunks),
		Strategy: string(cfg.Strategy),
		Size:     cfg.Size,
		Overlap:  cfg.Overlap,
	}}
	return details, fmt.Sprintf("%d chunks", len(*chunks)), nil
}

// embedWork embeds each staged chunk, then replaces the document's chunk
// set in the vector store.
type embedWork struct{ *stepDeps }

func (w *embedWork) prepare(ctx context.Context, sc *stepContext) (int, string, error) {
	if _, err := w.document(ctx, sc); err != nil {
		return 0, "", err
	}
	chunks, err := w.stagedChunks(ctx, sc.jobID)
	if err != nil {
		return 0, "", err
	}
	if len(chunks) == 0 {
		return 0, core.SkipReasonNoChunks, nil
	}
	sc.state = chunks
	return len(chunks), "", nil
}

func (w *embedWork) item(ctx context.Context, sc *stepContext, index int) ([]byte, error) {
	chunks := sc.state.([]core.Chunk)
	vec, err := w.embedder.Embed(ctx, chunks[index].Content)
	if err != nil {
		return nil, err
	}
	return storage.MarshalVector(vec), nil
}

func (w *embedWork) finish(ctx context.Context, sc *stepContext, staged map[int][]byte) (*core.StepDetails, string, error) {
	chunks := sc.state.([]core.Chunk)
	doc := sc.doc
	out := make([]*core.DocumentChunk, len(chunks))
	for i, c := range chunks {
		vec, err := storage.UnmarshalVector(staged[i])
		if err != nil {
			return nil, "", err
		}
		out[i] = &core.DocumentChunk{
			Content:   c.Content,
			Embedding: vec,
			Metadata: core.ChunkMetadata{
				Strategy:    string(w.chunker.Config().Strategy),
				StartOffset: c.StartOffset,
				EndOffset:   c.EndOffset,
				JobID:       sc.jobID,
			},
			ProjectID:  doc.ProjectID,
			DocumentID: doc.ID,
			PageNumber: c.PageNumber,
			ChunkIndex: c.Index,
			Source:     doc.Source,
		}
	}
	if err := w.vectors.UpsertChunks(ctx, doc.ID, out); err != nil {
		return nil, "", err
	}
	details := &core.StepDetails{Embedding: &core.EmbedStepDetails{
		Embedded:  len(out),
		Dimension: w.embedder.Dimension(),
	}}
	return details, fmt.Sprintf("%d chunks indexed", len(out)), nil
}

// extractWork extracts one entity kind window by window, then merges the
// windows and supersedes the document's entities of that kind.
type extractWork struct {
	*stepDeps
	kind core.EntityKind
}

type extractState struct {
	windows []extraction.Window
	trades  []string
}

func (w *extractWork) prepare(ctx context.Context, sc *stepContext) (int, string, error) {
	doc, err := w.document(ctx, sc)
	if err != nil {
		return 0, "", err
	}
	if !doc.HasText() {
		return 0, core.SkipReasonNoText, nil
	}
	state := &extractState{windows: extraction.Windows(doc.Pages, w.windowSize, w.minPageText)}
	if len(state.windows) == 0 {
		return 0, core.SkipReasonNoText, nil
	}
	if w.kind == core.KindMilestone {
		if state.trades, err = w.engine.TradesForDocument(ctx, doc.ID); err != nil {
			return 0, "", err
		}
	}
	sc.state = state
	return len(state.windows), "", nil
}

func (w *extractWork) item(ctx context.Context, sc *stepContext, index int) ([]byte, error) {
	state := sc.state.(*extractState)
	entities, err := w.engine.ExtractKind(ctx, w.kind, state.windows[index].Content, state.trades)
	if err != nil {
		return nil, err
	}
	return storage.MarshalEntities(entities)
}

func (w *extractWork) finish(ctx context.Context, sc *stepContext, staged map[int][]byte) (*core.StepDetails, string, error) {
	var all []core.Entity
	for _, data := range orderedPayloads(staged) {
		entities, err := storage.UnmarshalEntities(data)
		if err != nil {
			return nil, "", err
		}
		all = append(all, entities...)
	}
	merged := extraction.Merge(all)
	src := extraction.Source{ProjectID: sc.doc.ProjectID, DocumentID: sc.doc.ID, JobID: sc.jobID}
	if err := w.engine.Supersede(ctx, w.kind, src, merged); err != nil {
		return nil, "", err
	}
	low := extraction.LowConfidence(merged)
	details := &core.StepDetails{Extraction: &core.ExtractStepDetails{
		Kind:          w.kind,
		Entities:      len(merged),
		LowConfidence: low,
		Windows:       len(staged),
	}}
	return details, fmt.Sprintf("%d %s entities, %d for priority review", len(merged), w.kind, low), nil
}
