package extraction

import (
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/gateway"
)

// Schema names double as gateway task names.
const (
	SchemaMaterials   = "materials"
	SchemaRooms       = "rooms"
	SchemaTradeScopes = "trade_scopes"
	SchemaMilestones  = "milestones"
)

const extractionTemperature = 0.1

func nullable(typ string) map[string]any {
	return map[string]any{"type": []any{typ, "null"}}
}

func stringList() map[string]any {
	return map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}}
}

// confidence is not range-checked here; out-of-range values are clamped
// when decoded.
var confidence = nullable("number")

// list wraps an item schema as {"<key>": [item...], "confidence": n}.
func list(key string, item map[string]any) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{key},
		"properties": map[string]any{
			key: map[string]any{"type": "array", "items": item},
			"extraction_notes": stringList(),
			"confidence":       confidence,
		},
	}
}

var materialsSchema = list("materials", map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name":           map[string]any{"type": "string", "minLength": 1},
		"description":    nullable("string"),
		"quantity":       nullable("number"),
		"unit":           nullable("string"),
		"location":       nullable("string"),
		"room":           nullable("string"),
		"specification":  nullable("string"),
		"trade_category": nullable("string"),
		"csi_division":   nullable("string"),
		"source_page":    nullable("number"),
		"confidence":     confidence,
	},
})

var roomsSchema = list("rooms", map[string]any{
	"type":     "object",
	"required": []any{"room_name"},
	"properties": map[string]any{
		"room_name":      map[string]any{"type": "string"},
		"room_number":    nullable("string"),
		"room_type":      nullable("string"),
		"floor":          nullable("string"),
		"area_sqft":      nullable("number"),
		"ceiling_height": nullable("number"),
		"perimeter_ft":   nullable("number"),
		"finishes": map[string]any{
			"type": []any{"object", "null"},
			"properties": map[string]any{
				"floor":       nullable("string"),
				"walls":       nullable("string"),
				"ceiling":     nullable("string"),
				"base":        nullable("string"),
				"paint_color": nullable("string"),
			},
		},
		"fixtures":    stringList(),
		"notes":       nullable("string"),
		"source_page": nullable("number"),
		"confidence":  confidence,
	},
})

// Scope items may be plain strings or {item, details} objects.
var scopeItems = map[string]any{
	"type": []any{"array", "null"},
	"items": map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type":     "object",
				"required": []any{"item"},
				"properties": map[string]any{
					"item":    map[string]any{"type": "string"},
					"details": nullable("string"),
				},
			},
		},
	},
}

var tradeScopesSchema = list("trades", map[string]any{
	"type":     "object",
	"required": []any{"trade"},
	"properties": map[string]any{
		"trade":              map[string]any{"type": "string", "minLength": 1},
		"trade_display_name": nullable("string"),
		"csi_division":       nullable("string"),
		"inclusions":         scopeItems,
		"exclusions":         scopeItems,
		"required_sheets":    stringList(),
		"spec_sections":      stringList(),
		"rfi_needed":         stringList(),
		"assumptions":        stringList(),
		"confidence":         confidence,
	},
})

var milestonesSchema = list("milestones", map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name":                    map[string]any{"type": "string", "minLength": 1},
		"description":             nullable("string"),
		"phase":                   nullable("string"),
		"phase_order":             nullable("number"),
		"estimated_duration_days": nullable("number"),
		"dependencies":            stringList(),
		"trades_involved":         stringList(),
		"deliverables":            stringList(),
		"confidence":              confidence,
	},
})

// SchemaFor returns the gateway schema used to extract kind.
func SchemaFor(kind core.EntityKind) (gateway.Schema, error) {
	s := gateway.Schema{Temperature: extractionTemperature}
	switch kind {
	case core.KindMaterial:
		s.Name, s.Instructions, s.Definition = SchemaMaterials, materialsInstructions, materialsSchema
	case core.KindRoom:
		s.Name, s.Instructions, s.Definition = SchemaRooms, roomsInstructions, roomsSchema
	case core.KindTradeScope:
		s.Name, s.Instructions, s.Definition = SchemaTradeScopes, tradeScopesInstructions, tradeScopesSchema
	case core.KindMilestone:
		s.Name, s.Instructions, s.Definition = SchemaMilestones, milestonesInstructions, milestonesSchema
	default:
		return gateway.Schema{}, core.ErrUnknownEntityKind
	}
	return s, nil
}
