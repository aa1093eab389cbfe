package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/poiesic/blueprint/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planDocument() *core.Document {
	return &core.Document{
		ID:        "doc-1",
		ProjectID: "p1",
		Pages: []core.Page{
			{Number: 1, Text: "TENANT IMPROVEMENT, LEVEL 2. Steel frame with composite deck. 12,400 SF."},
			{Number: 2, Text: "Gypsum board partitions on metal studs. New VAV boxes and sprinkler heads."},
		},
	}
}

func TestSummarizePlan(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaPlanSummary, `{
	  "building_type": " Commercial ",
	  "project_name": "Level 2 TI",
	  "floors": 1.2,
	  "total_area_sqft": 12400,
	  "key_materials": ["gypsum board", " ", "metal studs"],
	  "major_systems": ["mechanical", "fire_protection"],
	  "structural_system": "steel frame, composite deck",
	  "risks": ["ceiling heights not dimensioned"],
	  "assumptions": null,
	  "confidence": 1.4
	}`)

	s, err := f.engine.SummarizePlan(context.Background(), planDocument(), "focus on interiors")
	require.NoError(t, err)
	assert.Equal(t, "p1", s.ProjectID)
	assert.Equal(t, "doc-1", s.DocumentID)
	assert.Equal(t, "commercial", s.BuildingType)
	assert.Equal(t, "Level 2 TI", s.ProjectName)
	require.NotNil(t, s.Floors)
	assert.Equal(t, 1, *s.Floors)
	assert.Equal(t, []string{"gypsum board", "metal studs"}, s.KeyMaterials)
	assert.Empty(t, s.Assumptions)
	assert.Equal(t, 1.0, s.Confidence)

	prompt := f.gen.Requests()[0].Prompt
	assert.True(t, strings.HasPrefix(prompt, "Additional instructions: focus on interiors\n\n"))
	assert.Contains(t, prompt, "--- Page 2 ---")
}

func TestSummarizePlan_Defaults(t *testing.T) {
	f := newFixture(t)
	f.gen.WithResponse(SchemaPlanSummary, `{"building_type": "warehouse-ish"}`)

	s, err := f.engine.SummarizePlan(context.Background(), planDocument(), "")
	require.NoError(t, err)
	assert.Equal(t, "other", s.BuildingType)
	assert.Nil(t, s.Floors)
	assert.Equal(t, DefaultConfidence, s.Confidence)
	assert.NotContains(t, f.gen.Requests()[0].Prompt, "Additional instructions")
}

func TestSummarizePlan_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := planDocument()
	doc.Pages = []core.Page{{Number: 1, Text: "   "}}
	_, err := f.engine.SummarizePlan(ctx, doc, "")
	assert.ErrorIs(t, err, core.ErrFatalInput)

	f.gen.WithResponse(SchemaPlanSummary, `{"floors": 2}`)
	_, err = f.engine.SummarizePlan(ctx, planDocument(), "")
	assert.ErrorIs(t, err, core.ErrFatalInput, "building_type is required")
}
