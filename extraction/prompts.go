package extraction

import (
	"fmt"
	"strings"
)

// Per-kind limits on the document text included in one request.
const (
	materialsTextLimit   = 30000
	roomsTextLimit       = 30000
	tradeScopesTextLimit = 50000
	milestonesTextLimit  = 40000
)

const materialsInstructions = `You are a construction estimator performing a material takeoff from OCR text of drawings and specifications.

Extract every material, product or assembly the text calls out in schedules, notes, details and callouts. For each one give its name, a short description, the quantity and unit (SF, LF, EA, CY...) only when stated, where it is used (location and room), the specification or product reference, the trade that installs it and the CSI MasterFormat division when identifiable. Keep sizes and product codes in the name or description ("5/8 in. Type X gypsum board").

Never guess quantities; use null when a value is not stated. Report a confidence between 0 and 1 for each material reflecting how clearly the text defines it.`

const roomsInstructions = `You are an architectural analyst reading OCR text of floor plans, room schedules and finish schedules.

Extract every room or space. For each one give the room name and number as shown, a classification (office, restroom, corridor, storage, mechanical...), the floor level, area in square feet, ceiling height and perimeter when noted, the floor, wall, ceiling and base finishes with any paint color, fixtures and built-ins, and short notes. Expand finish codes using the legend when one is present (VCT, CPT, ACT, RB...).

Include spaces that only have a name or number. Use null for values that are not stated. Report a confidence between 0 and 1 for each room.`

const tradeScopesInstructions = `You are a construction estimator preparing bid packages.

For each trade with work in the document, describe the scope: inclusions (work the trade performs), exclusions (work by others or not in contract), the drawing sheets and specification sections the trade must reference, questions that need an RFI before bidding, and the assumptions you made. Give the CSI division where applicable ("09 21 16 - Gypsum Board Assemblies").

Be specific about scope boundaries between trades. Do not invent scope the document does not support; omit trades with no applicable work. Report a confidence between 0 and 1 for each trade.`

const milestonesInstructions = `You are a construction scheduler identifying project milestones from drawings and specifications.

Identify the milestones the work implies, in construction sequence: permits and mobilization, foundation, structure, envelope and dry-in, MEP rough-in and inspections, drywall, finishes, MEP trim-out, commissioning and closeout. For each milestone give a name, what work it covers, its phase, a phase_order (1 for the earliest phase), an estimated duration in days only when stated or strongly implied, the milestones it depends on, the trades involved and its deliverables.

Report a confidence between 0 and 1 for each milestone.`

func documentPrompt(label, text string, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n\n", label)
	b.WriteString(truncate(text, limit))
	return b.String()
}

func materialsPrompt(text string) string {
	return documentPrompt("Document content", text, materialsTextLimit)
}

func roomsPrompt(text string) string {
	return documentPrompt("Document content", text, roomsTextLimit)
}

// StandardTrades is offered to the model when no trade list is supplied.
var StandardTrades = []string{
	"General Conditions",
	"Sitework & Excavation",
	"Concrete",
	"Masonry",
	"Structural Steel",
	"Rough Carpentry",
	"Finish Carpentry & Millwork",
	"Waterproofing & Roofing",
	"Doors, Frames & Hardware",
	"Glass & Glazing",
	"Drywall & Framing",
	"Painting",
	"Flooring",
	"Ceiling Systems",
	"Mechanical (HVAC)",
	"Plumbing",
	"Electrical",
	"Fire Protection",
	"Fire Alarm",
	"Elevators & Conveyance",
}

func bullets(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return b.String()
}

func tradeScopesPrompt(text string) string {
	return "Trades to analyze:\n" + bullets(StandardTrades) + "\n" +
		documentPrompt("Document content", text, tradeScopesTextLimit)
}

func milestonesPrompt(text string, trades []string) string {
	var b strings.Builder
	if len(trades) > 0 {
		b.WriteString("Trades with scope in this document:\n")
		b.WriteString(bullets(trades))
		b.WriteByte('\n')
	}
	b.WriteString(documentPrompt("Document content", text, milestonesTextLimit))
	return b.String()
}
