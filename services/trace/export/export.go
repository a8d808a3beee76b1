// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes analyzed code graphs to external stores.
//
// Each exported document replaces everything previously exported for the
// same source path, so re-exporting a file is idempotent.
package export

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

var tracer = otel.Tracer("rustgraph.trace.export")

var (
	// ErrNilDocument is returned when a document or its graph is nil.
	ErrNilDocument = errors.New("nil document")

	// ErrClosed is returned by Export after Close.
	ErrClosed = errors.New("exporter closed")
)

// Exporter writes documents to a store.
type Exporter interface {
	Export(ctx context.Context, docs ...*graph.Document) (Stats, error)
	Close(ctx context.Context) error
}

// Stats counts what one Export call wrote.
type Stats struct {
	Files     int `json:"files"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.Entities += o.Entities
	s.Relations += o.Relations
}

// fileRows is one document flattened into table rows.
type fileRows struct {
	path          string
	sourceHash    string
	graphHash     string
	schemaVersion string
	generatedAt   int64
	entities      []graph.Entity
	relations     []graph.Relation
}

func flatten(doc *graph.Document) (*fileRows, error) {
	if doc == nil || doc.Graph == nil {
		return nil, ErrNilDocument
	}
	hash, err := doc.GraphHash()
	if err != nil {
		return nil, err
	}
	path := doc.SourcePath
	if path == "" {
		path = doc.Graph.SourcePath
	}
	if path == "" {
		return nil, fmt.Errorf("%w: document has no source path", ErrNilDocument)
	}
	return &fileRows{
		path:          path,
		sourceHash:    doc.SourceHash,
		graphHash:     hash,
		schemaVersion: doc.SchemaVersion,
		generatedAt:   doc.GeneratedAtMilli,
		entities:      graph.Entities(doc.Graph),
		relations:     doc.Graph.Relations,
	}, nil
}

// entityKey is the store-wide key of an entity: "file#kind:value".
func entityKey(file string, id graph.GraphID) string {
	return file + "#" + id.String()
}
