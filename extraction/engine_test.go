package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/ai/mock"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/storage"
	"github.com/poiesic/blueprint/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const materialsResponse = `{
  "materials": [
    {"name": "Gypsum Board", "room": "101", "confidence": 0.9},
    {"name": "gypsum  board", "room": "101", "description": "5/8 in. Type X", "confidence": 0.4},
    {"name": "Paint", "unit": "SF", "quantity": 1200, "confidence": 1.7},
    {"name": "Sealant", "source_page": 2}
  ]
}`

type fixture struct {
	engine *Engine
	gen    *mock.MockGenerator
	stores *badger.Stores
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	provider := mock.NewMockProvider(8)
	gw, err := gateway.New(provider, gateway.WithDimension(8), gateway.WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	stores, err := badger.NewMemoryStores(8)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	opts = append(opts, withClock(func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	engine, err := New(gw, stores.Entities, opts...)
	require.NoError(t, err)
	return &fixture{engine: engine, gen: provider.GetMockGenerator(), stores: stores}
}

func TestNew_Validation(t *testing.T) {
	stores, err := badger.NewMemoryStores(8)
	require.NoError(t, err)
	defer stores.Close()
	gw, err := gateway.New(mock.NewMockProvider(8), gateway.WithDimension(8))
	require.NoError(t, err)

	_, err = New(nil, stores.Entities)
	assert.ErrorIs(t, err, ErrExtractorRequired)
	_, err = New(gw, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = New(gw, stores.Entities, WithConfidenceFloor(1.5))
	assert.ErrorIs(t, err, ErrInvalidOption)

	e, err := New(gw, stores.Entities)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidenceFloor, e.ConfidenceFloor())
}

func TestExtractMaterials_ConfidenceAndMerge(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaMaterials, materialsResponse)

	entities, err := f.engine.ExtractMaterials(context.Background(), "Sheet A-601 finish notes")
	require.NoError(t, err)
	require.Len(t, entities, 3)

	board := entities[0].(*core.Material)
	assert.Equal(t, "Gypsum Board", board.Name)
	assert.Equal(t, "5/8 in. Type X", board.Description, "empty fields are filled from the merged duplicate")
	assert.InDelta(t, 0.9, board.Confidence, 1e-9)
	assert.False(t, board.PriorityReview)

	paint := entities[1].(*core.Material)
	assert.Equal(t, 1.0, paint.Confidence)
	require.NotNil(t, paint.Quantity)
	assert.Equal(t, 1200.0, *paint.Quantity)

	sealant := entities[2].(*core.Material)
	assert.Equal(t, DefaultConfidence, sealant.Confidence)
	assert.True(t, sealant.PriorityReview)
	require.NotNil(t, sealant.SourcePage)
	assert.Equal(t, 2, *sealant.SourcePage)

	reqs := f.gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, SchemaMaterials, reqs[0].Task)
	assert.Contains(t, reqs[0].Prompt, "Sheet A-601 finish notes")
	assert.Contains(t, reqs[0].System, "JSON Schema")
}

func TestExtract_DocumentConfidenceFallback(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaRooms, `{"rooms": [{"room_name": "Lobby", "room_number": "100"}, {"room_name": "", "room_number": ""}], "confidence": 0.8}`)

	entities, err := f.engine.ExtractRooms(context.Background(), "ROOM FINISH SCHEDULE")
	require.NoError(t, err)
	require.Len(t, entities, 1, "rooms without name or number are dropped")
	assert.InDelta(t, 0.8, entities[0].Meta().Confidence, 1e-9)
}

func TestExtract_InvalidOutputIsFatal(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaRooms, `{"rooms": "not a list"}`)

	_, err := f.engine.ExtractRooms(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFatalInput)
	assert.False(t, core.IsRetryable(err))
}

func TestExtract_ProviderErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.gen.WithGenerateFunc(func(ctx context.Context, req ai.GenerationRequest) (string, error) {
		return "", errors.New("status code: 503 service unavailable")
	})

	_, err := f.engine.ExtractTradeScopes(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
}

func TestTradeScopes_ScopeItemForms(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaTradeScopes, `{
	  "trades": [
	    {"trade": "Drywall & Framing", "inclusions": ["Metal studs", {"item": "Gypsum board", "details": "Level 4 finish"}], "confidence": 0.7},
	    {"trade": "drywall & framing", "inclusions": ["metal studs", "Shaft wall"], "exclusions": [{"item": "Painting"}], "confidence": 0.5}
	  ]
	}`)

	entities, err := f.engine.ExtractTradeScopes(context.Background(), "Division 09")
	require.NoError(t, err)
	require.Len(t, entities, 1)

	ts := entities[0].(*core.TradeScope)
	assert.Equal(t, "Drywall & Framing", ts.DisplayName)
	assert.Equal(t, []core.ScopeItem{
		{Item: "Metal studs"},
		{Item: "Gypsum board", Details: "Level 4 finish"},
		{Item: "Shaft wall"},
	}, ts.Inclusions)
	assert.Equal(t, []core.ScopeItem{{Item: "Painting"}}, ts.Exclusions)

	assert.Contains(t, f.gen.Requests()[0].Prompt, "Fire Protection", "standard trades are offered")
}

func TestSuggestMilestones_OrderedAndTradesPassed(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaMilestones, `{
	  "milestones": [
	    {"name": "Substantial Completion", "phase_order": 3},
	    {"name": "Rough-In Inspection", "phase_order": 2, "estimated_duration_days": 4.6},
	    {"name": "Foundation Pour", "phase_order": 1}
	  ]
	}`)

	entities, err := f.engine.SuggestMilestones(context.Background(), "schedule notes", []string{"Concrete", "Electrical"})
	require.NoError(t, err)
	require.Len(t, entities, 3)

	var names []string
	for _, e := range entities {
		names = append(names, e.(*core.Milestone).Name)
	}
	assert.Equal(t, []string{"Foundation Pour", "Rough-In Inspection", "Substantial Completion"}, names)

	rough := entities[1].(*core.Milestone)
	require.NotNil(t, rough.EstimatedDurationDays)
	assert.Equal(t, 5, *rough.EstimatedDurationDays)

	prompt := f.gen.Requests()[0].Prompt
	assert.Contains(t, prompt, "- Concrete\n- Electrical\n")
}

func TestSupersedeAndReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithConfidenceFloor(0.7))
	f.gen.WithResponse(SchemaMaterials, materialsResponse)
	src := Source{ProjectID: "proj-1", DocumentID: "doc-1", JobID: "job-1"}

	first, err := f.engine.ExtractMaterials(ctx, "content")
	require.NoError(t, err)
	require.NoError(t, f.engine.Supersede(ctx, core.KindMaterial, src, first))

	second, err := f.engine.ExtractMaterials(ctx, "content")
	require.NoError(t, err)
	require.NoError(t, f.engine.Supersede(ctx, core.KindMaterial, src, second[:1]))

	stored, err := f.engine.List(ctx, storage.EntityQuery{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, stored, 1, "prior entities of the document are superseded")
	m := stored[0].Meta()
	assert.Equal(t, "doc-1", m.DocumentID)
	assert.Equal(t, "job-1", m.JobID)
	assert.NotEmpty(t, m.ID)

	verified, err := f.engine.Verify(ctx, core.KindMaterial, m.ID, "pm@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.ReviewVerified, verified.Meta().Review.State)
	require.NotNil(t, verified.Meta().Review.VerifiedAt)
	assert.Equal(t, 2025, verified.Meta().Review.VerifiedAt.Year())

	_, err = f.engine.Reject(ctx, core.KindMaterial, m.ID, "pm@example.com", "duplicate")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	reopened, err := f.engine.Reopen(ctx, core.KindMaterial, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReviewPending, reopened.Meta().Review.State)

	rejected, err := f.engine.Reject(ctx, core.KindMaterial, m.ID, "pm@example.com", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, "duplicate", rejected.Meta().Review.RejectReason)
}

func TestSummaryAndTrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.WithResponse(SchemaMaterials, materialsResponse)
	f.gen.WithResponse(SchemaTradeScopes, `{"trades": [{"trade": "painting", "trade_display_name": "Painting", "confidence": 0.9}, {"trade": "flooring", "confidence": 0.3}]}`)
	src := Source{ProjectID: "proj-1", DocumentID: "doc-1", JobID: "job-1"}

	materials, err := f.engine.ExtractMaterials(ctx, "content")
	require.NoError(t, err)
	require.NoError(t, f.engine.Supersede(ctx, core.KindMaterial, src, materials))
	trades, err := f.engine.ExtractTradeScopes(ctx, "content")
	require.NoError(t, err)
	require.NoError(t, f.engine.Supersede(ctx, core.KindTradeScope, src, trades))

	_, err = f.engine.Verify(ctx, core.KindMaterial, materials[0].Meta().ID, "pm")
	require.NoError(t, err)

	summary, err := f.engine.Summary(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts[core.KindMaterial])
	assert.Equal(t, 2, summary.Counts[core.KindTradeScope])
	assert.Equal(t, 0, summary.Counts[core.KindRoom])
	assert.Equal(t, 1, summary.Verified[core.KindMaterial])
	assert.Equal(t, 1, summary.Priority[core.KindMaterial])
	assert.Equal(t, 1, summary.Priority[core.KindTradeScope])

	names, err := f.engine.TradesForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Painting", "flooring"}, names)
}

func TestExtract_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ExtractKind(context.Background(), core.EntityKind("hvac"), "content", nil)
	assert.ErrorIs(t, err, core.ErrUnknownEntityKind)
	assert.Zero(t, f.gen.CallCount("hvac"))
}

func TestPromptTruncation(t *testing.T) {
	long := strings.Repeat("x", tradeScopesTextLimit+100)
	p := tradeScopesPrompt(long)
	assert.Less(t, len(p), len(long))
	assert.True(t, strings.HasPrefix(p, "Trades to analyze:\n- General Conditions\n"))
}
