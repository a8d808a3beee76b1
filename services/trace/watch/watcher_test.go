// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

func startWatcher(t *testing.T, root string, discover graph.DiscoverOptions) <-chan Batch {
	t.Helper()
	batches := make(chan Batch, 16)
	w, err := New(root, graph.NewAnalyzer(graph.AnalyzerOptions{}), discover,
		func(_ context.Context, b Batch) error {
			batches <- b
			return nil
		},
		WithDebounce(50*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return batches
}

func nextBatch(t *testing.T, batches <-chan Batch) Batch {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_RebuildsChangedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "lib.rs"), "pub fn a() {}\n")
	batches := startWatcher(t, root, graph.DiscoverOptions{})

	writeFile(t, filepath.Join(root, "src", "lib.rs"), "pub fn b() {}\n")

	b := nextBatch(t, batches)
	require.Len(t, b.Built, 1)
	assert.Equal(t, "src/lib.rs", b.Built[0].Path)
	require.NoError(t, b.Built[0].Err)
	_, ok := b.Built[0].Result.Graph.FindFunction("b")
	assert.True(t, ok)
	assert.Empty(t, b.Removed)
}

func TestWatcher_NewDirectoryAndRemoval(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.rs"), "fn old() {}\n")
	batches := startWatcher(t, root, graph.DiscoverOptions{})

	require.NoError(t, os.Mkdir(filepath.Join(root, "net"), 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "net", "mod.rs"), "pub struct Conn;\n")
	require.NoError(t, os.Remove(filepath.Join(root, "old.rs")))

	seenBuilt, seenRemoved := false, false
	deadline := time.After(5 * time.Second)
	for !(seenBuilt && seenRemoved) {
		select {
		case b := <-batches:
			for _, fr := range b.Built {
				if fr.Path == "net/mod.rs" {
					seenBuilt = true
				}
			}
			for _, p := range b.Removed {
				if p == "old.rs" {
					seenRemoved = true
				}
			}
		case <-deadline:
			t.Fatalf("built=%v removed=%v", seenBuilt, seenRemoved)
		}
	}
}

func TestWatcher_IgnoresFilteredPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "target", "gen.rs"), "fn g() {}\n")
	batches := startWatcher(t, root, graph.DiscoverOptions{Exclude: []string{"target/**"}})

	writeFile(t, filepath.Join(root, "target", "gen.rs"), "fn g2() {}\n")
	writeFile(t, filepath.Join(root, "notes.md"), "# notes\n")
	writeFile(t, filepath.Join(root, "lib.rs"), "fn l() {}\n")

	b := nextBatch(t, batches)
	require.Len(t, b.Built, 1)
	assert.Equal(t, "lib.rs", b.Built[0].Path)
}

func TestNew_Errors(t *testing.T) {
	a := graph.NewAnalyzer(graph.AnalyzerOptions{})
	noop := func(context.Context, Batch) error { return nil }

	_, err := New(t.TempDir(), nil, graph.DiscoverOptions{}, noop)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, file, "fn a() {}")
	_, err = New(file, a, graph.DiscoverOptions{}, noop)
	assert.ErrorIs(t, err, graph.ErrNotDirectory)
}
