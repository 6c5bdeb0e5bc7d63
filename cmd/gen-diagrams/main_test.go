package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RendersExamples(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, run(context.Background(), filepath.Join("..", "..", "examples", "workflows"), out))

	md, err := os.ReadFile(filepath.Join(out, "greeting.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "```mermaid\ngraph TD")

	txt, err := os.ReadFile(filepath.Join(out, "doubling.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "--- edges ---")

	svg, err := os.ReadFile(filepath.Join(out, "doubling.svg"))
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestRun_MissingDir(t *testing.T) {
	assert.Error(t, run(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir()))
}
