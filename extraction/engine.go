package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/storage"
)

// DefaultConfidenceFloor marks entities below it for priority review.
const DefaultConfidenceFloor = 0.6

// Extractor performs one schema-constrained extraction.
// *gateway.Gateway satisfies it.
type Extractor interface {
	Extract(ctx context.Context, content string, schema gateway.Schema) (json.RawMessage, error)
}

// Source identifies the document and job an extraction belongs to.
type Source struct {
	ProjectID  string
	DocumentID string
	JobID      string
}

// Engine extracts, merges and stores construction entities.
type Engine struct {
	extractor Extractor
	store     storage.EntityStore
	floor     float64
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine) error

// WithConfidenceFloor sets the priority review threshold.
func WithConfidenceFloor(f float64) Option {
	return func(e *Engine) error {
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: confidence floor %v outside [0,1]", ErrInvalidOption, f)
		}
		e.floor = f
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// New creates an Engine.
func New(extractor Extractor, store storage.EntityStore, opts ...Option) (*Engine, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	e := &Engine{
		extractor: extractor,
		store:     store,
		floor:     DefaultConfidenceFloor,
		logger:    slog.Default().With("component", "extraction"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ConfidenceFloor returns the priority review threshold.
func (e *Engine) ConfidenceFloor() float64 {
	return e.floor
}

func prompt(kind core.EntityKind, content string, trades []string) (string, error) {
	switch kind {
	case core.KindMaterial:
		return materialsPrompt(content), nil
	case core.KindRoom:
		return roomsPrompt(content), nil
	case core.KindTradeScope:
		return tradeScopesPrompt(content), nil
	case core.KindMilestone:
		return milestonesPrompt(content, trades), nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownEntityKind, kind)
}

// ExtractKind extracts entities of kind from content. trades is only used
// for milestones. Entities come back merged by identity, without ids.
func (e *Engine) ExtractKind(ctx context.Context, kind core.EntityKind, content string, trades []string) ([]core.Entity, error) {
	schema, err := SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	text, err := prompt(kind, content, trades)
	if err != nil {
		return nil, err
	}
	raw, err := e.extractor.Extract(ctx, text, schema)
	if err != nil {
		return nil, err
	}
	entities, err := e.decode(kind, raw)
	if err != nil {
		return nil, err
	}
	entities = Merge(entities)
	e.logger.Debug("extracted entities", "kind", kind, "count", len(entities), "chars", len(content))
	return entities, nil
}

// ExtractMaterials extracts building materials from content.
func (e *Engine) ExtractMaterials(ctx context.Context, content string) ([]core.Entity, error) {
	return e.ExtractKind(ctx, core.KindMaterial, content, nil)
}

// ExtractRooms extracts rooms and spaces from content.
func (e *Engine) ExtractRooms(ctx context.Context, content string) ([]core.Entity, error) {
	return e.ExtractKind(ctx, core.KindRoom, content, nil)
}

// ExtractTradeScopes extracts trade scopes of work from content.
func (e *Engine) ExtractTradeScopes(ctx context.Context, content string) ([]core.Entity, error) {
	return e.ExtractKind(ctx, core.KindTradeScope, content, nil)
}

// SuggestMilestones proposes schedule milestones, informed by the trades
// already identified for the document.
func (e *Engine) SuggestMilestones(ctx context.Context, content string, trades []string) ([]core.Entity, error) {
	return e.ExtractKind(ctx, core.KindMilestone, content, trades)
}

// Supersede replaces every entity of kind tied to src.DocumentID with
// entities in one transaction.
func (e *Engine) Supersede(ctx context.Context, kind core.EntityKind, src Source, entities []core.Entity) error {
	for _, ent := range entities {
		m := ent.Meta()
		m.ProjectID = src.ProjectID
		m.DocumentID = src.DocumentID
		m.JobID = src.JobID
		m.PriorityReview = m.Confidence < e.floor
	}
	if err := e.store.ReplaceForDocument(ctx, kind, src.DocumentID, entities); err != nil {
		return fmt.Errorf("supersede %s for %s: %w", kind, src.DocumentID, err)
	}
	e.logger.Info("stored entities", "kind", kind, "document", src.DocumentID, "job", src.JobID, "count", len(entities))
	return nil
}

// LowConfidence counts entities flagged for priority review.
func LowConfidence(entities []core.Entity) int {
	n := 0
	for _, ent := range entities {
		if ent.Meta().PriorityReview {
			n++
		}
	}
	return n
}

// List returns stored entities, priority review first.
func (e *Engine) List(ctx context.Context, q storage.EntityQuery) ([]core.Entity, error) {
	return e.store.List(ctx, q)
}

// Get returns one stored entity.
func (e *Engine) Get(ctx context.Context, kind core.EntityKind, id string) (core.Entity, error) {
	return e.store.Get(ctx, kind, id)
}

// Verify marks a pending entity verified by a reviewer.
func (e *Engine) Verify(ctx context.Context, kind core.EntityKind, id, by string) (core.Entity, error) {
	return e.store.UpdateReview(ctx, kind, id, func(r *core.Review) error {
		return r.Verify(by, e.now())
	})
}

// Reject marks a pending entity rejected, with an optional reason.
func (e *Engine) Reject(ctx context.Context, kind core.EntityKind, id, by, reason string) (core.Entity, error) {
	return e.store.UpdateReview(ctx, kind, id, func(r *core.Review) error {
		return r.Reject(by, reason, e.now())
	})
}

// Reopen returns a verified or rejected entity to pending review.
func (e *Engine) Reopen(ctx context.Context, kind core.EntityKind, id string) (core.Entity, error) {
	return e.store.UpdateReview(ctx, kind, id, func(r *core.Review) error {
		return r.Reopen()
	})
}

// Summary counts a project's entities per kind.
func (e *Engine) Summary(ctx context.Context, projectID string) (*core.ExtractionSummary, error) {
	entities, err := e.store.List(ctx, storage.EntityQuery{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	s := &core.ExtractionSummary{
		ProjectID: projectID,
		Counts:    make(map[core.EntityKind]int),
		Verified:  make(map[core.EntityKind]int),
		Priority:  make(map[core.EntityKind]int),
	}
	for _, kind := range core.EntityKinds() {
		s.Counts[kind] = 0
		s.Verified[kind] = 0
		s.Priority[kind] = 0
	}
	for _, ent := range entities {
		m := ent.Meta()
		s.Counts[m.Kind]++
		if m.Review.IsVerified() {
			s.Verified[m.Kind]++
		}
		if m.PriorityReview {
			s.Priority[m.Kind]++
		}
	}
	return s, nil
}

// TradesForDocument returns the display names of the trade scopes stored
// for a document.
func (e *Engine) TradesForDocument(ctx context.Context, documentID string) ([]string, error) {
	entities, err := e.store.List(ctx, storage.EntityQuery{DocumentID: documentID, Kind: core.KindTradeScope})
	if err != nil {
		return nil, err
	}
	var trades []string
	for _, ent := range entities {
		t, ok := ent.(*core.TradeScope)
		if !ok {
			continue
		}
		name := t.DisplayName
		if name == "" {
			name = t.Trade
		}
		trades = append(trades, name)
	}
	return union(trades, nil), nil
}
