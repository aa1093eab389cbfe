package extraction

import (
	"sort"
	"strings"

	"github.com/poiesic/blueprint/core"
)

// Merge folds entities sharing a normalized identity into one. The more
// confident entity keeps its attributes, empty ones are filled from the
// other and list fields are unioned. First-seen order is kept, except
// milestones which are ordered by phase_order then name.
func Merge(entities []core.Entity) []core.Entity {
	var out []core.Entity
	index := make(map[string]int)
	for _, e := range entities {
		if e == nil {
			continue
		}
		key := string(e.Meta().Kind) + "|" + e.Identity()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, e)
			continue
		}
		out[i] = mergeTwo(out[i], e)
	}
	sortMilestones(out)
	return out
}

func mergeTwo(a, b core.Entity) core.Entity {
	winner, loser := a, b
	if b.Meta().Confidence > a.Meta().Confidence {
		winner, loser = b, a
	}
	switch w := winner.(type) {
	case *core.Material:
		if l, ok := loser.(*core.Material); ok {
			fillString(&w.Description, l.Description)
			if w.Quantity == nil {
				w.Quantity = l.Quantity
			}
			fillString(&w.Unit, l.Unit)
			fillString(&w.Location, l.Location)
			fillString(&w.Specification, l.Specification)
			fillString(&w.TradeCategory, l.TradeCategory)
			fillString(&w.CSIDivision, l.CSIDivision)
			if w.SourcePage == nil {
				w.SourcePage = l.SourcePage
			}
		}
	case *core.Room:
		if l, ok := loser.(*core.Room); ok {
			fillString(&w.Name, l.Name)
			fillString(&w.Number, l.Number)
			fillString(&w.Type, l.Type)
			fillString(&w.Floor, l.Floor)
			fillFloat(&w.AreaSqft, l.AreaSqft)
			fillFloat(&w.CeilingHeight, l.CeilingHeight)
			fillFloat(&w.PerimeterFt, l.PerimeterFt)
			fillString(&w.Finishes.Floor, l.Finishes.Floor)
			fillString(&w.Finishes.Walls, l.Finishes.Walls)
			fillString(&w.Finishes.Ceiling, l.Finishes.Ceiling)
			fillString(&w.Finishes.Base, l.Finishes.Base)
			fillString(&w.Finishes.PaintColor, l.Finishes.PaintColor)
			w.Fixtures = union(w.Fixtures, l.Fixtures)
			fillString(&w.Notes, l.Notes)
			if w.SourcePage == nil {
				w.SourcePage = l.SourcePage
			}
		}
	case *core.TradeScope:
		if l, ok := loser.(*core.TradeScope); ok {
			fillString(&w.DisplayName, l.DisplayName)
			fillString(&w.CSIDivision, l.CSIDivision)
			w.Inclusions = unionScope(w.Inclusions, l.Inclusions)
			w.Exclusions = unionScope(w.Exclusions, l.Exclusions)
			w.RequiredSheets = union(w.RequiredSheets, l.RequiredSheets)
			w.SpecSections = union(w.SpecSections, l.SpecSections)
			w.RFINeeded = union(w.RFINeeded, l.RFINeeded)
			w.Assumptions = union(w.Assumptions, l.Assumptions)
		}
	case *core.Milestone:
		if l, ok := loser.(*core.Milestone); ok {
			fillString(&w.Description, l.Description)
			fillString(&w.Phase, l.Phase)
			if w.PhaseOrder == 0 {
				w.PhaseOrder = l.PhaseOrder
			}
			if w.EstimatedDurationDays == nil {
				w.EstimatedDurationDays = l.EstimatedDurationDays
			}
			w.Dependencies = union(w.Dependencies, l.Dependencies)
			w.TradesInvolved = union(w.TradesInvolved, l.TradesInvolved)
			w.Deliverables = union(w.Deliverables, l.Deliverables)
		}
	}
	return winner
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func fillFloat(dst **float64, src *float64) {
	if *dst == nil {
		*dst = src
	}
}

// union appends the items of b missing from a, compared case-insensitively.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			k := strings.ToLower(strings.TrimSpace(s))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unionScope(a, b []core.ScopeItem) []core.ScopeItem {
	seen := make(map[string]bool, len(a)+len(b))
	var out []core.ScopeItem
	for _, list := range [][]core.ScopeItem{a, b} {
		for _, it := range list {
			k := strings.ToLower(strings.TrimSpace(it.Item))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, it)
		}
	}
	return out
}

// sortMilestones orders milestone entries in place. Non-milestone
// entries are left where they are.
func sortMilestones(entities []core.Entity) {
	var pos []int
	var ms []*core.Milestone
	for i, e := range entities {
		if m, ok := e.(*core.Milestone); ok {
			pos = append(pos, i)
			ms = append(ms, m)
		}
	}
	if len(ms) < 2 {
		return
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].PhaseOrder != ms[j].PhaseOrder {
			return ms[i].PhaseOrder < ms[j].PhaseOrder
		}
		return ms[i].Identity() < ms[j].Identity()
	})
	for i, p := range pos {
		entities[p] = ms[i]
	}
}
