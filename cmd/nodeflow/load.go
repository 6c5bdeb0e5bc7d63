package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rendis/nodeflow/pkg/schema"
)

// readDocument reads a YAML or JSON file ("-" for stdin) and re-encodes it
// as JSON so the schema types decode it with their JSON rules.
func readDocument(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return json.Marshal(doc)
}

func loadWorkflowFile(path string) (*schema.Workflow, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", path, err)
	}
	return &wf, nil
}

// loadToolsFile accepts a single tool definition, a list of them, or a
// document with a top-level "tools" list.
func loadToolsFile(path string) ([]*schema.ToolDefinition, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	var list []*schema.ToolDefinition
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Tools []*schema.ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tools != nil {
		return wrapped.Tools, nil
	}
	var single schema.ToolDefinition
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode tools %s: %w", path, err)
	}
	return []*schema.ToolDefinition{&single}, nil
}

// parseInput decodes a JSON or YAML object given inline or as @file.
func parseInput(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var data []byte
	if raw[0] == '@' {
		b, err := readDocument(raw[1:])
		if err != nil {
			return nil, err
		}
		data = b
	} else {
		var doc any
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		data = b
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input must be an object: %w", err)
	}
	return input, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
