package core

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind names an extracted entity family.
type EntityKind string

const (
	KindMaterial   EntityKind = "material"
	KindRoom       EntityKind = "room"
	KindTradeScope EntityKind = "trade_scope"
	KindMilestone  EntityKind = "milestone"
)

// EntityKinds lists every kind in plan order.
func EntityKinds() []EntityKind {
	return []EntityKind{KindMaterial, KindRoom, KindTradeScope, KindMilestone}
}

// ParseEntityKind accepts the canonical names plus a few plural aliases.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "material", "materials":
		return KindMaterial, nil
	case "room", "rooms":
		return KindRoom, nil
	case "trade_scope", "trade_scopes", "trade-scope", "trade-scopes", "trade", "trades":
		return KindTradeScope, nil
	case "milestone", "milestones":
		return KindMilestone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityKind, s)
}

// EntityMeta is shared by every extracted entity. DocumentID and JobID are
// cleared when the source document is deleted.
type EntityMeta struct {
	ID             string     `json:"id"`
	Kind           EntityKind `json:"kind"`
	ProjectID      string     `json:"project_id"`
	DocumentID     string     `json:"document_id,omitempty"`
	JobID          string     `json:"job_id,omitempty"`
	Confidence     float64    `json:"confidence"`
	PriorityReview bool       `json:"priority_review"`
	Review         Review     `json:"review"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Meta returns the shared metadata.
func (m *EntityMeta) Meta() *EntityMeta { return m }

// Entity is implemented by every extracted entity type.
type Entity interface {
	Meta() *EntityMeta
	// Identity is the normalized key used to merge duplicates.
	Identity() string
}

// NewEntity returns an empty entity of the given kind for decoding.
func NewEntity(kind EntityKind) (Entity, error) {
	switch kind {
	case KindMaterial:
		return &Material{EntityMeta: EntityMeta{Kind: kind}}, nil
	case KindRoom:
		return &Room{EntityMeta: EntityMeta{Kind: kind}}, nil
	case KindTradeScope:
		return &TradeScope{EntityMeta: EntityMeta{Kind: kind}}, nil
	case KindMilestone:
		return &Milestone{EntityMeta: EntityMeta{Kind: kind}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntityKind, kind)
}

// Material is a material, product or assembly called out in a document.
type Material struct {
	EntityMeta
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Quantity      *float64 `json:"quantity,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Location      string   `json:"location,omitempty"`
	Room          string   `json:"room,omitempty"`
	Specification string   `json:"specification,omitempty"`
	TradeCategory string   `json:"trade_category,omitempty"`
	CSIDivision   string   `json:"csi_division,omitempty"`
	SourcePage    *int     `json:"source_page,omitempty"`
}

func (m *Material) Identity() string {
	return normalizeKey(m.Name) + "|" + normalizeKey(m.Room)
}

// RoomFinishes lists the finish schedule of a room.
type RoomFinishes struct {
	Floor      string `json:"floor,omitempty"`
	Walls      string `json:"walls,omitempty"`
	Ceiling    string `json:"ceiling,omitempty"`
	Base       string `json:"base,omitempty"`
	PaintColor string `json:"paint_color,omitempty"`
}

// Room is a room or space identified on the drawings.
type Room struct {
	EntityMeta
	Name          string       `json:"room_name"`
	Number        string       `json:"room_number,omitempty"`
	Type          string       `json:"room_type,omitempty"`
	Floor         string       `json:"floor,omitempty"`
	AreaSqft      *float64     `json:"area_sqft,omitempty"`
	CeilingHeight *float64     `json:"ceiling_height,omitempty"`
	PerimeterFt   *float64     `json:"perimeter_ft,omitempty"`
	Finishes      RoomFinishes `json:"finishes"`
	Fixtures      []string     `json:"fixtures,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	SourcePage    *int         `json:"source_page,omitempty"`
}

func (r *Room) Identity() string {
	if r.Number != "" {
		return "#" + normalizeKey(r.Number)
	}
	return normalizeKey(r.Name)
}

// ScopeItem is one inclusion or exclusion of a trade scope.
type ScopeItem struct {
	Item    string `json:"item"`
	Details string `json:"details,omitempty"`
}

// TradeScope is the scope of work for one trade.
type TradeScope struct {
	EntityMeta
	Trade          string      `json:"trade"`
	DisplayName    string      `json:"trade_display_name,omitempty"`
	CSIDivision    string      `json:"csi_division,omitempty"`
	Inclusions     []ScopeItem `json:"inclusions,omitempty"`
	Exclusions     []ScopeItem `json:"exclusions,omitempty"`
	RequiredSheets []string    `json:"required_sheets,omitempty"`
	SpecSections   []string    `json:"spec_sections,omitempty"`
	RFINeeded      []string    `json:"rfi_needed,omitempty"`
	Assumptions    []string    `json:"assumptions,omitempty"`
}

func (t *TradeScope) Identity() string {
	return normalizeKey(t.Trade)
}

// Milestone is a suggested project schedule milestone.
type Milestone struct {
	EntityMeta
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	Phase                 string   `json:"phase,omitempty"`
	PhaseOrder            int      `json:"phase_order"`
	EstimatedDurationDays *int     `json:"estimated_duration_days,omitempty"`
	Dependencies          []string `json:"dependencies,omitempty"`
	TradesInvolved        []string `json:"trades_involved,omitempty"`
	Deliverables          []string `json:"deliverables,omitempty"`
}

func (m *Milestone) Identity() string {
	return normalizeKey(m.Name)
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ExtractionSummary counts a project's entities per kind.
type ExtractionSummary struct {
	ProjectID string             `json:"project_id"`
	Counts    map[EntityKind]int `json:"counts"`
	Verified  map[EntityKind]int `json:"verified"`
	Priority  map[EntityKind]int `json:"priority_review"`
}
