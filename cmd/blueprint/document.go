package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/poiesic/blueprint/core"
	"github.com/urfave/cli/v2"
)

// readDocument loads the --file document. JSON files hold a core.Document;
// anything else is text with one page per form-feed separated section.
func readDocument(c *cli.Context) (*core.Document, error) {
	path := c.String("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := parseDocument(path, data)
	if err != nil {
		return nil, err
	}
	if v := c.String("project"); v != "" {
		doc.ProjectID = v
	}
	if v := c.String("id"); v != "" {
		doc.ID = v
	}
	if v := c.String("title"); v != "" {
		doc.Title = v
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.ProjectID == "" {
		return nil, fmt.Errorf("project is required for %s", path)
	}
	return doc, nil
}

func parseDocument(path string, data []byte) (*core.Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var doc core.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return &doc, nil
	}

	doc := &core.Document{
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Source: filepath.Base(path),
	}
	for i, text := range strings.Split(string(data), "\f") {
		doc.Pages = append(doc.Pages, core.Page{Number: i + 1, Text: text})
	}
	return doc, nil
}
