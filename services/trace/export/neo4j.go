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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

// DefaultNeo4jBatchSize bounds the rows sent in one UNWIND statement.
const DefaultNeo4jBatchSize = 1000

// cypherRunner executes one Cypher statement.
type cypherRunner interface {
	run(ctx context.Context, cypher string, params map[string]any) error
	close(ctx context.Context) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, cypher string, params map[string]any) error {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

func (d *driverRunner) close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Neo4jConfig configures a Neo4jExporter.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string

	// Database is the target database. Empty uses the server default.
	Database string

	// BatchSize defaults to DefaultNeo4jBatchSize.
	BatchSize int
}

// Neo4jExporter writes graphs into Neo4j.
//
// Every entity becomes a (:RustEntity {key, file, id, kind, name,
// qualified_name, signature, visibility}) node; every relation becomes a
// relationship typed by the upper-cased relation kind, e.g. CONTAINS.
// Exporting a file first detaches and deletes its previous nodes.
//
// Thread Safety: Export calls are serialized.
type Neo4jExporter struct {
	mu        sync.Mutex
	runner    cypherRunner
	batchSize int
	logger    *slog.Logger
	indexed   bool
	closed    bool
}

// NewNeo4jExporter connects to the server and verifies connectivity.
func NewNeo4jExporter(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jExporter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j %s: %w", cfg.URI, err)
	}
	return newNeo4jExporter(&driverRunner{driver: driver, database: cfg.Database}, cfg.BatchSize, logger), nil
}

func newNeo4jExporter(runner cypherRunner, batchSize int, logger *slog.Logger) *Neo4jExporter {
	if batchSize <= 0 {
		batchSize = DefaultNeo4jBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jExporter{runner: runner, batchSize: batchSize, logger: logger}
}

var neo4jIndexes = []string{
	"CREATE CONSTRAINT rust_entity_key IF NOT EXISTS FOR (n:RustEntity) REQUIRE n.key IS UNIQUE",
	"CREATE INDEX rust_entity_file IF NOT EXISTS FOR (n:RustEntity) ON (n.file)",
	"CREATE INDEX rust_entity_qualified_name IF NOT EXISTS FOR (n:RustEntity) ON (n.qualified_name)",
	"CREATE INDEX rust_file_path IF NOT EXISTS FOR (n:RustFile) ON (n.path)",
}

// relationshipTypes maps each relation kind to its relationship type.
// Cypher cannot parameterize relationship types, so only these names are
// ever interpolated into a statement.
var relationshipTypes = func() map[graph.RelationKind]string {
	m := make(map[graph.RelationKind]string, len(graph.AllRelationKinds))
	for _, k := range graph.AllRelationKinds {
		m[k] = strings.ToUpper(string(k))
	}
	return m
}()

// Export writes every document. Indexes are created on first use.
func (e *Neo4jExporter) Export(ctx context.Context, docs ...*graph.Document) (stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "export.Neo4jExporter.Export")
	defer func() {
		span.SetAttributes(
			attribute.Int("export.files", stats.Files),
			attribute.Int("export.entities", stats.Entities),
			attribute.Int("export.relations", stats.Relations),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return stats, ErrClosed
	}

	if !e.indexed {
		for _, q := range neo4jIndexes {
			if err := e.runner.run(ctx, q, nil); err != nil {
				return stats, fmt.Errorf("creating indexes: %w", err)
			}
		}
		e.indexed = true
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := flatten(doc)
		if err != nil {
			return stats, err
		}
		s, err := e.writeFile(ctx, rows)
		if err != nil {
			return stats, fmt.Errorf("exporting %s: %w", rows.path, err)
		}
		stats.add(s)
	}
	e.logger.Debug("neo4j export complete",
		slog.Int("files", stats.Files),
		slog.Int("entities", stats.Entities),
		slog.Int("relations", stats.Relations),
	)
	return stats, nil
}

func (e *Neo4jExporter) writeFile(ctx context.Context, rows *fileRows) (Stats, error) {
	if err := e.runner.run(ctx,
		`MATCH (n:RustEntity {file: $file}) DETACH DELETE n`,
		map[string]any{"file": rows.path},
	); err != nil {
		return Stats{}, err
	}
	if err := e.runner.run(ctx,
		`MERGE (f:RustFile {path: $path})
		 SET f.source_hash = $source_hash, f.graph_hash = $graph_hash,
		     f.schema_version = $schema_version, f.generated_at = $generated_at`,
		map[string]any{
			"path":           rows.path,
			"source_hash":    rows.sourceHash,
			"graph_hash":     rows.graphHash,
			"schema_version": rows.schemaVersion,
			"generated_at":   rows.generatedAt,
		},
	); err != nil {
		return Stats{}, err
	}

	entities := make([]map[string]any, 0, len(rows.entities))
	for _, ent := range rows.entities {
		entities = append(entities, map[string]any{
			"key":            entityKey(rows.path, ent.ID),
			"id":             ent.ID.String(),
			"kind":           ent.Kind,
			"name":           ent.Name,
			"qualified_name": ent.QualifiedName,
			"signature":      ent.Signature,
			"visibility":     ent.Visibility,
		})
	}
	if err := e.batched(ctx,
		`UNWIND $batch AS row
		 MERGE (n:RustEntity {key: row.key})
		 SET n.file = $file, n.id = row.id, n.kind = row.kind, n.name = row.name,
		     n.qualified_name = row.qualified_name, n.signature = row.signature,
		     n.visibility = row.visibility
		 WITH n
		 MATCH (f:RustFile {path: $file})
		 MERGE (n)-[:IN_FILE]->(f)`,
		rows.path, entities,
	); err != nil {
		return Stats{}, err
	}

	byKind := make(map[graph.RelationKind][]map[string]any)
	var order []graph.RelationKind
	for _, r := range rows.relations {
		if _, ok := relationshipTypes[r.Kind]; !ok {
			return Stats{}, fmt.Errorf("unknown relation kind %q", r.Kind)
		}
		if _, seen := byKind[r.Kind]; !seen {
			order = append(order, r.Kind)
		}
		byKind[r.Kind] = append(byKind[r.Kind], map[string]any{
			"source": entityKey(rows.path, r.Source),
			"target": entityKey(rows.path, r.Target),
		})
	}
	for _, kind := range order {
		cypher := fmt.Sprintf(
			`UNWIND $batch AS row
			 MATCH (s:RustEntity {key: row.source}), (t:RustEntity {key: row.target})
			 MERGE (s)-[:%s]->(t)`, relationshipTypes[kind])
		if err := e.batched(ctx, cypher, rows.path, byKind[kind]); err != nil {
			return Stats{}, err
		}
	}
	return Stats{Files: 1, Entities: len(rows.entities), Relations: len(rows.relations)}, nil
}

func (e *Neo4jExporter) batched(ctx context.Context, cypher, file string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += e.batchSize {
		end := min(start+e.batchSize, len(rows))
		if err := e.runner.run(ctx, cypher, map[string]any{"batch": rows[start:end], "file": file}); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the driver. It is safe to call more than once.
func (e *Neo4jExporter) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.runner.close(ctx)
}
