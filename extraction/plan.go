package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
)

// SchemaPlanSummary is the gateway task name of plan summaries.
const SchemaPlanSummary = "plan_summary"

const planSummaryTextLimit = 50000

// BuildingTypes are the categories a plan summary may report.
var BuildingTypes = []string{
	"residential", "commercial", "industrial", "institutional", "mixed_use", "infrastructure", "other",
}

// PlanSummary is an estimator's overview of one document. It is computed
// on demand and not stored.
type PlanSummary struct {
	ProjectID        string   `json:"project_id"`
	DocumentID       string   `json:"document_id"`
	BuildingType     string   `json:"building_type"`
	ProjectName      string   `json:"project_name,omitempty"`
	Floors           *int     `json:"floors,omitempty"`
	TotalAreaSqft    *float64 `json:"total_area_sqft,omitempty"`
	KeyMaterials     []string `json:"key_materials"`
	MajorSystems     []string `json:"major_systems"`
	StructuralSystem string   `json:"structural_system,omitempty"`
	Risks            []string `json:"risks"`
	Assumptions      []string `json:"assumptions"`
	Confidence       float64  `json:"confidence"`
}

const planSummaryInstructions = `You are a senior construction estimator and plan analyst. Summarize the construction project described by the document.

Only include information that can be inferred from the document; use null or empty lists when it is not available and never invent details. Classify building_type as one of residential, commercial, industrial, institutional, mixed_use, infrastructure or other. Name specific materials ("concrete masonry units", not "masonry") and list the building systems present (structural, mechanical, electrical, plumbing, fire_protection...). Risks cover scope gaps, ambiguities and conflicts; assumptions list what you had to assume because information was missing.

Report a confidence between 0 and 1 reflecting how complete the source information is.`

var planSummarySchema = map[string]any{
	"type":     "object",
	"required": []any{"building_type"},
	"properties": map[string]any{
		"building_type":     map[string]any{"type": "string"},
		"project_name":      nullable("string"),
		"floors":            nullable("number"),
		"total_area_sqft":   nullable("number"),
		"key_materials":     stringList(),
		"major_systems":     stringList(),
		"structural_system": nullable("string"),
		"risks":             stringList(),
		"assumptions":       stringList(),
		"confidence":        confidence,
	},
}

type planSummaryWire struct {
	BuildingType     string   `json:"building_type"`
	ProjectName      *string  `json:"project_name"`
	Floors           *float64 `json:"floors"`
	TotalAreaSqft    *float64 `json:"total_area_sqft"`
	KeyMaterials     []string `json:"key_materials"`
	MajorSystems     []string `json:"major_systems"`
	StructuralSystem *string  `json:"structural_system"`
	Risks            []string `json:"risks"`
	Assumptions      []string `json:"assumptions"`
	Confidence       *float64 `json:"confidence"`
}

func planSummaryPrompt(text, instructions string) string {
	var b strings.Builder
	if instructions = clean(instructions); instructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n\n", instructions)
	}
	b.WriteString(documentPrompt("Document content", text, planSummaryTextLimit))
	return b.String()
}

// SummarizePlan asks for a project overview of doc. instructions are
// optional guidance from the requester.
func (e *Engine) SummarizePlan(ctx context.Context, doc *core.Document, instructions string) (*PlanSummary, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	windows := Windows(doc.Pages, planSummaryTextLimit, 1)
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: document %s has no text", core.ErrFatalInput, doc.ID)
	}

	schema := gateway.Schema{
		Name:         SchemaPlanSummary,
		Instructions: planSummaryInstructions,
		Definition:   planSummarySchema,
		Temperature:  0.3,
		MaxTokens:    4096,
	}
	raw, err := e.extractor.Extract(ctx, planSummaryPrompt(windows[0].Content, instructions), schema)
	if err != nil {
		return nil, err
	}
	var out planSummaryWire
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w: plan summary: %w", core.ErrFatalInput, ErrDecode, err)
	}

	s := &PlanSummary{
		ProjectID:     doc.ProjectID,
		DocumentID:    doc.ID,
		BuildingType:  strings.ToLower(clean(out.BuildingType)),
		Floors:        intPtr(out.Floors),
		TotalAreaSqft: out.TotalAreaSqft,
		KeyMaterials:  cleanList(out.KeyMaterials),
		MajorSystems:  cleanList(out.MajorSystems),
		Risks:         cleanList(out.Risks),
		Assumptions:   cleanList(out.Assumptions),
		Confidence:    DefaultConfidence,
	}
	if !slices.Contains(BuildingTypes, s.BuildingType) {
		s.BuildingType = "other"
	}
	if out.ProjectName != nil {
		s.ProjectName = clean(*out.ProjectName)
	}
	if out.StructuralSystem != nil {
		s.StructuralSystem = clean(*out.StructuralSystem)
	}
	if out.Confidence != nil {
		s.Confidence = core.ClampConfidence(*out.Confidence, DefaultConfidence)
	}
	e.logger.Info("plan summarized", "document", doc.ID, "building_type", s.BuildingType, "confidence", s.Confidence)
	return s, nil
}
