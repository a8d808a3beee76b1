// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

func buildGraph(t *testing.T, path, src string) *graph.CodeGraph {
	t.Helper()
	file, err := ast.NewRustParser().Parse(context.Background(), []byte(src), path)
	require.NoError(t, err)
	result, err := graph.NewBuilder().Build(context.Background(), file)
	require.NoError(t, err)
	return result.Graph
}

const libSource = `
pub mod http {
    pub struct HttpHeader { pub name: String }
    pub fn parse_header(line: &str) -> HttpHeader { todo!() }
    fn parse_internal() {}
}
pub fn parse(input: &str) {}
pub trait Parser { fn parse_all(&self); }
pub const PARSE_LIMIT: usize = 10;
`

func newLibIndex(t *testing.T) *SymbolIndex {
	t.Helper()
	idx := NewSymbolIndex()
	n, err := idx.IndexGraph("src/lib.rs", buildGraph(t, "src/lib.rs", libSource))
	require.NoError(t, err)
	require.Positive(t, n)
	return idx
}

func TestSymbolIndex_IndexGraph(t *testing.T) {
	idx := newLibIndex(t)

	stats := idx.Stats()
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.ByKind[graph.SymbolModule])
	assert.Equal(t, 1, stats.ByKind[graph.SymbolStruct])
	assert.Equal(t, 1, stats.ByKind[graph.SymbolTrait])
	assert.Equal(t, 1, stats.ByKind[graph.SymbolMethod])
	assert.Equal(t, 1, stats.ByKind[graph.SymbolConst])
	assert.Equal(t, 3, stats.ByKind[graph.SymbolFunction])

	byName := idx.GetByName("parse_header")
	require.Len(t, byName, 1)
	assert.Equal(t, "http::parse_header", byName[0].QualifiedName)
	assert.Equal(t, "src/lib.rs", byName[0].File)

	got, ok := idx.Get(byName[0].Key)
	require.True(t, ok)
	assert.Same(t, byName[0], got)

	assert.Len(t, idx.GetByFile("src/lib.rs"), stats.TotalSymbols)
	assert.Len(t, idx.GetByKind(graph.SymbolFunction), 3)
	assert.Nil(t, idx.GetByName("missing"))
}

func TestSymbolIndex_IndexGraphReplacesFile(t *testing.T) {
	idx := newLibIndex(t)
	_, err := idx.IndexGraph("src/other.rs", buildGraph(t, "src/other.rs", "pub fn other() {}"))
	require.NoError(t, err)

	n, err := idx.IndexGraph("src/lib.rs", buildGraph(t, "src/lib.rs", "pub fn only() {}"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, idx.GetByName("parse_header"))
	assert.Len(t, idx.GetByName("only"), 1)
	assert.Len(t, idx.GetByName("other"), 1)
	assert.Equal(t, 2, idx.Stats().TotalSymbols)

	assert.Equal(t, 1, idx.RemoveFile("src/other.rs"))
	assert.Equal(t, 0, idx.RemoveFile("src/other.rs"))
	assert.Equal(t, 1, idx.Stats().FileCount)
}

func TestSymbolIndex_IndexGraphErrors(t *testing.T) {
	idx := NewSymbolIndex(WithMaxSymbols(2))

	_, err := idx.IndexGraph("", graph.NewCodeGraph("", ""))
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	_, err = idx.IndexGraph("a.rs", nil)
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = idx.IndexGraph("a.rs", buildGraph(t, "a.rs", "pub fn a() {}\npub fn b() {}"))
	require.NoError(t, err)

	_, err = idx.IndexGraph("b.rs", buildGraph(t, "b.rs", "pub fn c() {}"))
	assert.ErrorIs(t, err, ErrMaxSymbolsExceeded)
	assert.Equal(t, 2, idx.Stats().TotalSymbols, "failed replacement keeps existing entries")

	_, err = idx.IndexGraph("a.rs", buildGraph(t, "a.rs", "pub fn z() {}"))
	assert.NoError(t, err, "replacing a file frees its own slots")
}

func TestSymbolIndex_Search(t *testing.T) {
	idx := newLibIndex(t)
	ctx := context.Background()

	results, err := idx.Search(ctx, "parse", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "parse", results[0].Name)
	assert.Equal(t, MatchExact, results[0].MatchType)

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "parse_header")
	assert.Contains(t, names, "parse_all")
	assert.Contains(t, names, "parse_internal")

	var internalPos, headerPos int
	for i, n := range names {
		switch n {
		case "parse_internal":
			internalPos = i
		case "parse_header":
			headerPos = i
		}
	}
	assert.Less(t, headerPos, internalPos, "public symbols rank above private ones")

	limited, err := idx.Search(ctx, "parse", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	qualified, err := idx.Search(ctx, "http::Http", 0)
	require.NoError(t, err)
	require.NotEmpty(t, qualified)
	assert.Equal(t, "http::HttpHeader", qualified[0].QualifiedName)

	empty, err := idx.Search(ctx, "   ", 0)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestSymbolIndex_SearchCancelled(t *testing.T) {
	idx := newLibIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Search(ctx, "parse", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSymbolIndex_Concurrent(t *testing.T) {
	idx := newLibIndex(t)
	g := buildGraph(t, "src/extra.rs", "pub fn extra() {}")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = idx.IndexGraph("src/extra.rs", g)
		}()
		go func() {
			defer wg.Done()
			_, _ = idx.Search(context.Background(), "parse", 5)
		}()
	}
	wg.Wait()

	assert.Len(t, idx.GetByFile("src/extra.rs"), 1)
}

func TestSymbolIndex_Clear(t *testing.T) {
	idx := newLibIndex(t)
	idx.Clear()
	stats := idx.Stats()
	assert.Zero(t, stats.TotalSymbols)
	assert.Zero(t, stats.FileCount)
}
