// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

const exportSource = `
pub mod net {
    pub struct Conn { pub addr: String }
    impl Conn {
        pub fn open(&self) -> bool { true }
    }
}
pub fn dial(host: &str) -> net::Conn { todo!() }
`

func buildDoc(t *testing.T, path, src string) *graph.Document {
	t.Helper()
	ctx := context.Background()
	file, err := ast.NewRustParser().Parse(ctx, []byte(src), path)
	require.NoError(t, err)
	res, err := graph.NewBuilder().Build(ctx, file)
	require.NoError(t, err)
	return graph.NewDocument(res)
}

// =============================================================================
// SQLite
// =============================================================================

func openSQLite(t *testing.T) *SQLiteExporter {
	t.Helper()
	exp, err := NewSQLiteExporter(context.Background(), filepath.Join(t.TempDir(), "graph.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { exp.Close(context.Background()) })
	return exp
}

func countRows(t *testing.T, exp *SQLiteExporter, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, exp.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func TestSQLiteExporter_Export(t *testing.T) {
	exp := openSQLite(t)
	doc := buildDoc(t, "src/lib.rs", exportSource)

	stats, err := exp.Export(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, len(graph.Entities(doc.Graph)), stats.Entities)
	assert.Equal(t, len(doc.Graph.Relations), stats.Relations)

	assert.Equal(t, 1, countRows(t, exp, "SELECT COUNT(*) FROM files"))
	assert.Equal(t, stats.Entities, countRows(t, exp, "SELECT COUNT(*) FROM entities"))
	assert.Equal(t, stats.Relations, countRows(t, exp, "SELECT COUNT(*) FROM relations"))

	var kind, sig string
	require.NoError(t, exp.DB().QueryRow(
		"SELECT kind, signature FROM entities WHERE qualified_name = ?", "net::Conn::open",
	).Scan(&kind, &sig))
	assert.Equal(t, "method", kind)
	assert.Contains(t, sig, "fn")

	hash, err := doc.GraphHash()
	require.NoError(t, err)
	var stored string
	require.NoError(t, exp.DB().QueryRow("SELECT graph_hash FROM files WHERE path = ?", "src/lib.rs").Scan(&stored))
	assert.Equal(t, hash, stored)
}

func TestSQLiteExporter_ReexportReplaces(t *testing.T) {
	exp := openSQLite(t)
	ctx := context.Background()

	_, err := exp.Export(ctx, buildDoc(t, "src/lib.rs", exportSource), buildDoc(t, "src/other.rs", "pub fn x() {}"))
	require.NoError(t, err)

	smaller := buildDoc(t, "src/lib.rs", "pub fn only() {}")
	_, err = exp.Export(ctx, smaller)
	require.NoError(t, err)

	assert.Equal(t, 2, countRows(t, exp, "SELECT COUNT(*) FROM files"))
	assert.Equal(t, len(graph.Entities(smaller.Graph)),
		countRows(t, exp, "SELECT COUNT(*) FROM entities WHERE file = ?", "src/lib.rs"))
	assert.Equal(t, 0, countRows(t, exp, "SELECT COUNT(*) FROM entities WHERE qualified_name = ?", "net::Conn::open"))
	assert.Positive(t, countRows(t, exp, "SELECT COUNT(*) FROM entities WHERE file = ?", "src/other.rs"))
}

func TestSQLiteExporter_Errors(t *testing.T) {
	exp := openSQLite(t)
	ctx := context.Background()

	_, err := exp.Export(ctx, nil)
	assert.ErrorIs(t, err, ErrNilDocument)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = exp.Export(cctx, buildDoc(t, "src/lib.rs", exportSource))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, exp.Close(ctx))
	require.NoError(t, exp.Close(ctx))
	_, err = exp.Export(ctx, buildDoc(t, "src/lib.rs", exportSource))
	assert.ErrorIs(t, err, ErrClosed)
}

// =============================================================================
// Neo4j
// =============================================================================

type recordedQuery struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	mu      sync.Mutex
	queries []recordedQuery
	failOn  string
	closed  int
}

func (f *fakeRunner) run(_ context.Context, cypher string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("neo4j unavailable")
	}
	f.queries = append(f.queries, recordedQuery{cypher: cypher, params: params})
	return nil
}

func (f *fakeRunner) close(context.Context) error {
	f.closed++
	return nil
}

func (f *fakeRunner) matching(substr string) []recordedQuery {
	var out []recordedQuery
	for _, q := range f.queries {
		if strings.Contains(q.cypher, substr) {
			out = append(out, q)
		}
	}
	return out
}

func batchLen(q recordedQuery) int {
	return len(q.params["batch"].([]map[string]any))
}

func TestNeo4jExporter_Export(t *testing.T) {
	runner := &fakeRunner{}
	exp := newNeo4jExporter(runner, 0, nil)
	doc := buildDoc(t, "src/lib.rs", exportSource)

	stats, err := exp.Export(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	assert.Len(t, runner.matching("IF NOT EXISTS"), len(neo4jIndexes))
	require.Len(t, runner.matching("DETACH DELETE"), 1)
	assert.Equal(t, "src/lib.rs", runner.matching("DETACH DELETE")[0].params["file"])

	nodes := runner.matching("MERGE (n:RustEntity")
	require.Len(t, nodes, 1)
	assert.Equal(t, stats.Entities, batchLen(nodes[0]))
	first := nodes[0].params["batch"].([]map[string]any)[0]
	assert.True(t, strings.HasPrefix(first["key"].(string), "src/lib.rs#"))

	total := 0
	for _, q := range runner.matching("MERGE (s)-[:") {
		total += batchLen(q)
	}
	assert.Equal(t, stats.Relations, total)
	assert.NotEmpty(t, runner.matching("MERGE (s)-[:CONTAINS]->(t)"))

	// Indexes are created once per exporter.
	_, err = exp.Export(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, runner.matching("IF NOT EXISTS"), len(neo4jIndexes))
}

func TestNeo4jExporter_Batches(t *testing.T) {
	runner := &fakeRunner{}
	exp := newNeo4jExporter(runner, 2, nil)
	doc := buildDoc(t, "src/lib.rs", exportSource)

	stats, err := exp.Export(context.Background(), doc)
	require.NoError(t, err)

	nodes := runner.matching("MERGE (n:RustEntity")
	assert.Len(t, nodes, (stats.Entities+1)/2)
	for _, q := range nodes {
		assert.LessOrEqual(t, batchLen(q), 2)
	}
}

func TestNeo4jExporter_Errors(t *testing.T) {
	ctx := context.Background()
	doc := buildDoc(t, "src/lib.rs", exportSource)

	runner := &fakeRunner{failOn: "DETACH DELETE"}
	exp := newNeo4jExporter(runner, 0, nil)
	_, err := exp.Export(ctx, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src/lib.rs")

	_, err = NewNeo4jExporter(ctx, Neo4jConfig{}, nil)
	assert.Error(t, err)

	require.NoError(t, exp.Close(ctx))
	require.NoError(t, exp.Close(ctx))
	assert.Equal(t, 1, runner.closed)
	_, err = exp.Export(ctx, doc)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelationshipTypes(t *testing.T) {
	for _, k := range graph.AllRelationKinds {
		rt := relationshipTypes[k]
		assert.Equal(t, strings.ToUpper(string(k)), rt)
		assert.NotContains(t, rt, " ")
		assert.NotContains(t, rt, "`")
	}
}
