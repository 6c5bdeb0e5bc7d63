// gen-diagrams renders the example workflows as Mermaid, ASCII and SVG for
// the documentation.
// Run: go run ./cmd/gen-diagrams [-in examples/workflows] [-out docs/diagrams]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/pkg/schema"
)

func main() {
	in := flag.String("in", filepath.Join("examples", "workflows"), "directory of workflow definitions")
	out := flag.String("out", filepath.Join("docs", "diagrams"), "output directory")
	flag.Parse()

	if err := run(context.Background(), *in, *out); err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in, out string) error {
	entries, err := os.ReadDir(in)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(in, e.Name()))
		}
	}
	sort.Strings(files)

	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, path := range files {
		wf, err := loadWorkflow(path)
		if err != nil {
			return err
		}
		model, err := diagram.Build(wf, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		base := filepath.Join(out, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

		mermaid := diagram.RenderMermaid(model)
		if err := os.WriteFile(base+".md", []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(base+".txt", []byte(diagram.RenderASCII(model)), 0o644); err != nil {
			return err
		}
		svg, err := diagram.RenderImage(ctx, model, diagram.ImageSVG)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: image: %v\n", path, err)
			continue
		}
		if err := os.WriteFile(base+".svg", svg, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s -> %s.{md,txt,svg}\n", path, base)
	}
	return nil
}

func loadWorkflow(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &wf, nil
}
