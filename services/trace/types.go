// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/index"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// AnalyzeRequest is the body of POST /v1/codegraph/analyze.
type AnalyzeRequest struct {
	// Path is the source path recorded in the graph, e.g. "src/lib.rs".
	Path string `json:"path" binding:"required,max=4096"`

	// Content is the Rust source text.
	Content string `json:"content" binding:"required"`

	// Validate runs relation validation on the built graph.
	Validate bool `json:"validate"`
}

// AnalyzeResponse carries the built document.
type AnalyzeResponse struct {
	Document         *graph.Document       `json:"document"`
	GraphHash        string                `json:"graph_hash"`
	Diagnostics      []graph.Diagnostic    `json:"diagnostics,omitempty"`
	ValidationErrors []*graph.RelationError `json:"validation_errors,omitempty"`
}

// ValidateResponse is the result of POST /v1/codegraph/validate.
type ValidateResponse struct {
	Valid            bool                   `json:"valid"`
	Stats            graph.GraphStats       `json:"stats"`
	ValidationErrors []*graph.RelationError `json:"validation_errors"`
}

// SaveSnapshotRequest is the body of POST /v1/codegraph/snapshots.
type SaveSnapshotRequest struct {
	Path    string `json:"path" binding:"required,max=4096"`
	Content string `json:"content" binding:"required"`
	Label   string `json:"label" binding:"max=256"`
}

// ListSnapshotsResponse is the result of GET /v1/codegraph/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*graph.SnapshotMeta `json:"snapshots"`
}

// LoadSnapshotResponse is the result of GET /v1/codegraph/snapshots/:id.
type LoadSnapshotResponse struct {
	Metadata *graph.SnapshotMeta `json:"metadata"`
	Stats    graph.GraphStats    `json:"stats"`

	// Document is included only with ?document=true.
	Document *graph.Document `json:"document,omitempty"`
}

// SearchSymbolsResponse is the result of GET /v1/codegraph/snapshots/:id/symbols.
type SearchSymbolsResponse struct {
	SnapshotID string        `json:"snapshot_id"`
	Query      string        `json:"query"`
	Matches    []index.Match `json:"matches"`
}

// SnapshotDiffResponse is the result of GET /v1/codegraph/diff.
type SnapshotDiffResponse struct {
	Diff *graph.SnapshotDiff `json:"diff"`

	// Unified is present with ?format=unified.
	Unified string `json:"unified,omitempty"`
}

// HealthResponse is the result of GET /v1/codegraph/health.
type HealthResponse struct {
	Status           string `json:"status"`
	Snapshots        bool   `json:"snapshots"`
	IndexedSnapshots int    `json:"indexed_snapshots"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	SchemaVersion    string `json:"schema_version"`
}
