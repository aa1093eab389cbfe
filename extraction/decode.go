package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/poiesic/blueprint/core"
)

// DefaultConfidence is assigned when the model reports none.
const DefaultConfidence = 0.5

type materialWire struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Quantity      *float64 `json:"quantity"`
	Unit          string   `json:"unit"`
	Location      string   `json:"location"`
	Room          string   `json:"room"`
	Specification string   `json:"specification"`
	TradeCategory string   `json:"trade_category"`
	CSIDivision   string   `json:"csi_division"`
	SourcePage    *float64 `json:"source_page"`
	Confidence    *float64 `json:"confidence"`
}

type finishesWire struct {
	Floor      string `json:"floor"`
	Walls      string `json:"walls"`
	Ceiling    string `json:"ceiling"`
	Base       string `json:"base"`
	PaintColor string `json:"paint_color"`
}

type roomWire struct {
	Name          string        `json:"room_name"`
	Number        string        `json:"room_number"`
	Type          string        `json:"room_type"`
	Floor         string        `json:"floor"`
	AreaSqft      *float64      `json:"area_sqft"`
	CeilingHeight *float64      `json:"ceiling_height"`
	PerimeterFt   *float64      `json:"perimeter_ft"`
	Finishes      *finishesWire `json:"finishes"`
	Fixtures      []string      `json:"fixtures"`
	Notes         string        `json:"notes"`
	SourcePage    *float64      `json:"source_page"`
	Confidence    *float64      `json:"confidence"`
}

// scopeItemWire accepts either "text" or {"item": ..., "details": ...}.
type scopeItemWire core.ScopeItem

func (s *scopeItemWire) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Item)
	}
	var obj struct {
		Item    string `json:"item"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Item, s.Details = obj.Item, obj.Details
	return nil
}

type tradeScopeWire struct {
	Trade          string          `json:"trade"`
	DisplayName    string          `json:"trade_display_name"`
	CSIDivision    string          `json:"csi_division"`
	Inclusions     []scopeItemWire `json:"inclusions"`
	Exclusions     []scopeItemWire `json:"exclusions"`
	RequiredSheets []string        `json:"required_sheets"`
	SpecSections   []string        `json:"spec_sections"`
	RFINeeded      []string        `json:"rfi_needed"`
	Assumptions    []string        `json:"assumptions"`
	Confidence     *float64        `json:"confidence"`
}

type milestoneWire struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Phase                 string   `json:"phase"`
	PhaseOrder            *float64 `json:"phase_order"`
	EstimatedDurationDays *float64 `json:"estimated_duration_days"`
	Dependencies          []string `json:"dependencies"`
	TradesInvolved        []string `json:"trades_involved"`
	Deliverables          []string `json:"deliverables"`
	Confidence            *float64 `json:"confidence"`
}

type output struct {
	Materials  []materialWire   `json:"materials"`
	Rooms      []roomWire       `json:"rooms"`
	Trades     []tradeScopeWire `json:"trades"`
	Milestones []milestoneWire  `json:"milestones"`
	Confidence *float64         `json:"confidence"`
}

func intPtr(f *float64) *int {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func clean(s string) string {
	return strings.TrimSpace(s)
}

func cleanList(items []string) []string {
	var out []string
	for _, it := range items {
		if it = clean(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func cleanScope(items []scopeItemWire) []core.ScopeItem {
	var out []core.ScopeItem
	for _, it := range items {
		if item := clean(it.Item); item != "" {
			out = append(out, core.ScopeItem{Item: item, Details: clean(it.Details)})
		}
	}
	return out
}

// meta builds the shared metadata from item and document confidences.
func (e *Engine) meta(kind core.EntityKind, item, doc *float64) core.EntityMeta {
	def := DefaultConfidence
	if doc != nil {
		def = core.ClampConfidence(*doc, DefaultConfidence)
	}
	c := def
	if item != nil {
		c = core.ClampConfidence(*item, def)
	}
	return core.EntityMeta{
		Kind:           kind,
		Confidence:     c,
		PriorityReview: c < e.floor,
		Review:         core.NewReview(),
	}
}

// decode converts validated model output into entities of kind.
// Entries without a usable name are dropped.
func (e *Engine) decode(kind core.EntityKind, raw json.RawMessage) ([]core.Entity, error) {
	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", core.ErrFatalInput, ErrDecode, kind, err)
	}

	var entities []core.Entity
	switch kind {
	case core.KindMaterial:
		for _, w := range out.Materials {
			m := &core.Material{
				EntityMeta:    e.meta(kind, w.Confidence, out.Confidence),
				Name:          clean(w.Name),
				Description:   clean(w.Description),
				Quantity:      w.Quantity,
				Unit:          clean(w.Unit),
				Location:      clean(w.Location),
				Room:          clean(w.Room),
				Specification: clean(w.Specification),
				TradeCategory: clean(w.TradeCategory),
				CSIDivision:   clean(w.CSIDivision),
				SourcePage:    intPtr(w.SourcePage),
			}
			if m.Name != "" {
				entities = append(entities, m)
			}
		}
	case core.KindRoom:
		for _, w := range out.Rooms {
			r := &core.Room{
				EntityMeta:    e.meta(kind, w.Confidence, out.Confidence),
				Name:          clean(w.Name),
				Number:        clean(w.Number),
				Type:          clean(w.Type),
				Floor:         clean(w.Floor),
				AreaSqft:      w.AreaSqft,
				CeilingHeight: w.CeilingHeight,
				PerimeterFt:   w.PerimeterFt,
				Fixtures:      cleanList(w.Fixtures),
				Notes:         clean(w.Notes),
				SourcePage:    intPtr(w.SourcePage),
			}
			if f := w.Finishes; f != nil {
				r.Finishes = core.RoomFinishes{
					Floor:      clean(f.Floor),
					Walls:      clean(f.Walls),
					Ceiling:    clean(f.Ceiling),
					Base:       clean(f.Base),
					PaintColor: clean(f.PaintColor),
				}
			}
			if r.Name != "" || r.Number != "" {
				entities = append(entities, r)
			}
		}
	case core.KindTradeScope:
		for _, w := range out.Trades {
			t := &core.TradeScope{
				EntityMeta:     e.meta(kind, w.Confidence, out.Confidence),
				Trade:          clean(w.Trade),
				DisplayName:    clean(w.DisplayName),
				CSIDivision:    clean(w.CSIDivision),
				Inclusions:     cleanScope(w.Inclusions),
				Exclusions:     cleanScope(w.Exclusions),
				RequiredSheets: cleanList(w.RequiredSheets),
				SpecSections:   cleanList(w.SpecSections),
				RFINeeded:      cleanList(w.RFINeeded),
				Assumptions:    cleanList(w.Assumptions),
			}
			if t.DisplayName == "" {
				t.DisplayName = t.Trade
			}
			if t.Trade != "" {
				entities = append(entities, t)
			}
		}
	case core.KindMilestone:
		for _, w := range out.Milestones {
			m := &core.Milestone{
				EntityMeta:            e.meta(kind, w.Confidence, out.Confidence),
				Name:                  clean(w.Name),
				Description:           clean(w.Description),
				Phase:                 clean(w.Phase),
				EstimatedDurationDays: intPtr(w.EstimatedDurationDays),
				Dependencies:          cleanList(w.Dependencies),
				TradesInvolved:        cleanList(w.TradesInvolved),
				Deliverables:          cleanList(w.Deliverables),
			}
			if p := intPtr(w.PhaseOrder); p != nil {
				m.PhaseOrder = *p
			}
			if m.Name != "" {
				entities = append(entities, m)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEntityKind, kind)
	}
	return entities, nil
}
