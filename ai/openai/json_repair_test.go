package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"leading prose", "Here is the JSON:\n{\"a\":1}\nThanks!", `{"a":1}`},
		{"missing key quote", `{"a":1, type":"room"}`, `{"a":1, "type":"room"}`},
		{"missing first key quote", `{name":"Lobby"}`, `{"name":"Lobby"}`},
		{"trailing comma", `{"items":[1,2,],}`, `{"items":[1,2]}`},
		{"comma inside string", `{"a":"x, }"}`, `{"a":"x, }"}`},
		{"escaped quote", `{"a":"say \"hi\", ok"}`, `{"a":"say \"hi\", ok"}`},
		{"literal after comma", `[1, true, null]`, `[1, true, null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestCleanJSON_ProducesParseableOutput(t *testing.T) {
	raw := "```json\n{\n  \"materials\": [\n    {name\": \"GWB\", \"confidence\": 0.9},\n  ]\n}\n```"

	var out map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(CleanJSON(raw)), &out))
	require.Len(t, out["materials"], 1)
	assert.Equal(t, "GWB", out["materials"][0]["name"])
}

func TestScrubString(t *testing.T) {
	assert.Equal(t, "ROOM 204 9'-0\" CLG", scrubString("  ROOM\t\t204   9'-0\" CLG\x00 "))
	assert.Equal(t, "line one\nline two", scrubString("line one\nline\x07 two"))
	assert.Equal(t, "", scrubString("\x00\x01  "))
}
