package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema describes one kind of structured output.
type Schema struct {
	// Name identifies the schema; compiled schemas are cached by name.
	Name string

	// Instructions is the system prompt for the task.
	Instructions string

	// Definition is a JSON Schema document.
	Definition map[string]any

	Temperature float64
	MaxTokens   int
}

func (g *Gateway) compile(s Schema) (*jsonschema.Schema, error) {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()

	if compiled, ok := g.schemas[s.Name]; ok {
		return compiled, nil
	}

	b, err := json.Marshal(s.Definition)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %w", ErrInvalidSchema, s.Name, err)
	}
	url := s.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("%w: add %s: %w", ErrInvalidSchema, s.Name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %w", ErrInvalidSchema, s.Name, err)
	}
	g.schemas[s.Name] = compiled
	return compiled, nil
}

// Extract asks the generator for JSON matching schema, given content.
// Output that fails to parse or validate is requested again up to the
// configured number of attempts, then reported as core.ErrFatalInput.
func (g *Gateway) Extract(ctx context.Context, content string, schema Schema) (json.RawMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrFatalInput, core.ErrEmptyContent)
	}
	compiled, err := g.compile(schema)
	if err != nil {
		return nil, err
	}

	definition, _ := json.MarshalIndent(schema.Definition, "", "  ")
	system := schema.Instructions +
		"\n\nRespond with a single JSON document that conforms to this JSON Schema:\n" +
		string(definition)

	prompt := content
	var lastErr error
	for attempt := 1; attempt <= g.extractAttempts; attempt++ {
		req := ai.GenerationRequest{
			Task:        schema.Name,
			System:      system,
			Prompt:      prompt,
			Temperature: schema.Temperature,
			MaxTokens:   schema.MaxTokens,
		}

		var raw string
		err := RetryWithBackoff(ctx, func() error {
			return g.call(ctx, schema.Name, func(cctx context.Context) error {
				out, err := g.generator.GenerateJSON(cctx, req)
				if err != nil {
					return err
				}
				raw = out
				return nil
			})
		}, g.retryAttempts, g.retryDelay)
		if err != nil {
			return nil, err
		}

		doc, verr := validate(compiled, raw)
		if verr == nil {
			return doc, nil
		}
		lastErr = verr
		g.logger.Warn("generated output failed validation",
			"schema", schema.Name,
			"attempt", attempt,
			"err", verr)
		prompt = content + "\n\nYour previous response was rejected: " + verr.Error() +
			"\nReturn only JSON that satisfies the schema."
	}

	return nil, fmt.Errorf("%w: %w: %s: %w", core.ErrFatalInput, ErrInvalidOutput, schema.Name, lastErr)
}

func validate(schema *jsonschema.Schema, raw string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	return json.RawMessage(raw), nil
}
