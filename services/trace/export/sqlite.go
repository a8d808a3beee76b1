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
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteExporter writes graphs into a SQLite database with three tables:
// files, entities and relations. Entity ids in relations use the
// "file#kind:value" key so rows from different files never collide.
//
// Thread Safety: Export calls are serialized.
type SQLiteExporter struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
	closed bool
}

// NewSQLiteExporter opens (or creates) the database at path and applies
// the schema.
func NewSQLiteExporter(ctx context.Context, path string, logger *slog.Logger) (*SQLiteExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteExporter{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for queries.
func (e *SQLiteExporter) DB() *sql.DB {
	return e.db
}

// Export writes each document in its own transaction.
func (e *SQLiteExporter) Export(ctx context.Context, docs ...*graph.Document) (stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "export.SQLiteExporter.Export")
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
	e.logger.Debug("sqlite export complete",
		slog.Int("files", stats.Files),
		slog.Int("entities", stats.Entities),
		slog.Int("relations", stats.Relations),
	)
	return stats, nil
}

func (e *SQLiteExporter) writeFile(ctx context.Context, rows *fileRows) (Stats, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM relations WHERE file = ?",
		"DELETE FROM entities WHERE file = ?",
		"DELETE FROM files WHERE path = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, rows.path); err != nil {
			return Stats{}, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, source_hash, graph_hash, schema_version, generated_at, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rows.path, rows.sourceHash, rows.graphHash, rows.schemaVersion, rows.generatedAt, time.Now().UnixMilli(),
	); err != nil {
		return Stats{}, err
	}

	entStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (file, id, kind, name, qualified_name, signature, visibility)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Stats{}, err
	}
	defer entStmt.Close()
	for _, ent := range rows.entities {
		if _, err := entStmt.ExecContext(ctx,
			rows.path, ent.ID.String(), ent.Kind, ent.Name, ent.QualifiedName, ent.Signature, ent.Visibility,
		); err != nil {
			return Stats{}, fmt.Errorf("entity %s: %w", ent.ID, err)
		}
	}

	relStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relations (file, seq, source, target, kind) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Stats{}, err
	}
	defer relStmt.Close()
	for i, r := range rows.relations {
		if _, err := relStmt.ExecContext(ctx,
			rows.path, i, r.Source.String(), r.Target.String(), string(r.Kind),
		); err != nil {
			return Stats{}, fmt.Errorf("relation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, err
	}
	return Stats{Files: 1, Entities: len(rows.entities), Relations: len(rows.relations)}, nil
}

// Close closes the database. It is safe to call more than once.
func (e *SQLiteExporter) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}
