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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/index"
)

// requireSnapshots writes 503 and returns false when there is no store.
func (h *Handlers) requireSnapshots(c *gin.Context, requestID string) bool {
	if h.svc.Snapshots() == nil {
		writeError(c, http.StatusServiceUnavailable, requestID, "SNAPSHOTS_NOT_AVAILABLE", ErrSnapshotsUnavailable.Error())
		return false
	}
	return true
}

// snapshotLoadError writes 404 for unknown ids and 500 otherwise.
func snapshotLoadError(c *gin.Context, requestID, what string, err error) {
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		writeError(c, http.StatusNotFound, requestID, "SNAPSHOT_NOT_FOUND", what+": "+err.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, requestID, "SNAPSHOT_LOAD_FAILED", what+": "+err.Error())
}

func queryLimit(c *gin.Context, def int) int {
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// HandleSaveSnapshot handles POST /v1/codegraph/snapshots.
//
// Description:
//
//	Analyzes the posted source and saves the document as a snapshot.
//
// Response:
//
//	201 Created: graph.SnapshotMeta
//	400, 413, 422: As HandleAnalyze
//	503 Service Unavailable: Snapshot store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleSaveSnapshot")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, requestID, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.svc.Analyze(c.Request.Context(), req.Path, []byte(req.Content))
	if err != nil {
		status, code := analyzeStatus(err)
		writeError(c, status, requestID, code, err.Error())
		return
	}

	meta, err := h.svc.Save(c.Request.Context(), res, req.Label)
	if err != nil {
		logger.Error("snapshot save failed", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, requestID, "SNAPSHOT_SAVE_FAILED", err.Error())
		return
	}

	logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.String("path", meta.SourcePath),
		slog.Int("symbols", meta.Symbols),
	)
	c.JSON(http.StatusCreated, meta)
}

// HandleListSnapshots handles GET /v1/codegraph/snapshots.
//
// Query Parameters:
//
//	path: Optional source path filter
//	limit: Maximum results, default graph.DefaultSnapshotListLimit
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleListSnapshots")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	snaps, err := h.svc.Snapshots().List(c.Request.Context(), c.Query("path"), queryLimit(c, graph.DefaultSnapshotListLimit))
	if err != nil {
		logger.Error("failed to list snapshots", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, requestID, "SNAPSHOT_LIST_FAILED", err.Error())
		return
	}
	if snaps == nil {
		snaps = []*graph.SnapshotMeta{}
	}
	logger.Debug("listing snapshots", slog.Int("count", len(snaps)))
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snaps})
}

// HandleLoadSnapshot handles GET /v1/codegraph/snapshots/:id.
//
// Query Parameters:
//
//	document: "true" includes the full document
//
// Response:
//
//	200 OK: LoadSnapshotResponse
//	404 Not Found: Unknown snapshot id
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleLoadSnapshot")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	id := c.Param("id")
	doc, meta, err := h.svc.Snapshots().Load(c.Request.Context(), id)
	if err != nil {
		logger.Warn("snapshot load failed", slog.String("snapshot_id", id), slog.String("error", err.Error()))
		snapshotLoadError(c, requestID, "snapshot "+id, err)
		return
	}

	resp := LoadSnapshotResponse{Metadata: meta, Stats: doc.Graph.Stats()}
	if c.Query("document") == "true" {
		resp.Document = doc
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSnapshot handles DELETE /v1/codegraph/snapshots/:id.
//
// Response:
//
//	200 OK: {"deleted": true}
//	404 Not Found: Unknown snapshot id
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleDeleteSnapshot")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	id := c.Param("id")
	if err := h.svc.Snapshots().Delete(c.Request.Context(), id); err != nil {
		logger.Warn("snapshot delete failed", slog.String("snapshot_id", id), slog.String("error", err.Error()))
		snapshotLoadError(c, requestID, "snapshot "+id, err)
		return
	}
	h.svc.Forget(id)

	logger.Info("snapshot deleted", slog.String("snapshot_id", id))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleSearchSymbols handles GET /v1/codegraph/snapshots/:id/symbols.
//
// Query Parameters:
//
//	q: Search query (required)
//	limit: Maximum matches, default 20
func (h *Handlers) HandleSearchSymbols(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleSearchSymbols")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	query := c.Query("q")
	if query == "" {
		writeError(c, http.StatusBadRequest, requestID, "MISSING_PARAMETER", "q parameter is required")
		return
	}

	id := c.Param("id")
	idx, err := h.svc.SymbolIndex(c.Request.Context(), id)
	if err != nil {
		snapshotLoadError(c, requestID, "snapshot "+id, err)
		return
	}
	matches, err := idx.Search(c.Request.Context(), query, queryLimit(c, 20))
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, requestID, "SEARCH_FAILED", err.Error())
		return
	}
	if matches == nil {
		matches = []index.Match{}
	}

	logger.Debug("symbol search",
		slog.String("snapshot_id", id),
		slog.String("query", query),
		slog.Int("matches", len(matches)),
	)
	c.JSON(http.StatusOK, SearchSymbolsResponse{SnapshotID: id, Query: query, Matches: matches})
}

// HandleDiffSnapshots handles GET /v1/codegraph/diff.
//
// Query Parameters:
//
//	base: Base snapshot id (required)
//	target: Target snapshot id (required)
//	format: "unified" adds a unified text diff of the symbol lists
//
// Response:
//
//	200 OK: SnapshotDiffResponse
//	400 Bad Request: Missing parameter
//	404 Not Found: Unknown snapshot id
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleDiffSnapshots")
	if !h.requireSnapshots(c, requestID) {
		return
	}

	baseID, targetID := c.Query("base"), c.Query("target")
	if baseID == "" || targetID == "" {
		writeError(c, http.StatusBadRequest, requestID, "MISSING_PARAMETER", "both 'base' and 'target' parameters are required")
		return
	}

	ctx := c.Request.Context()
	base, _, err := h.svc.Snapshots().Load(ctx, baseID)
	if err != nil {
		snapshotLoadError(c, requestID, "base snapshot", err)
		return
	}
	target, _, err := h.svc.Snapshots().Load(ctx, targetID)
	if err != nil {
		snapshotLoadError(c, requestID, "target snapshot", err)
		return
	}

	diff, err := graph.DiffDocuments(base, target, baseID, targetID)
	if err != nil {
		logger.Error("diff failed", slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, requestID, "DIFF_FAILED", err.Error())
		return
	}
	resp := SnapshotDiffResponse{Diff: diff}
	if c.Query("format") == "unified" {
		if resp.Unified, err = diff.Unified(); err != nil {
			writeError(c, http.StatusInternalServerError, requestID, "DIFF_FAILED", err.Error())
			return
		}
	}

	logger.Info("snapshot diff computed",
		slog.String("base", baseID),
		slog.String("target", targetID),
		slog.Int("total_changes", diff.Summary.TotalChanges),
	)
	c.JSON(http.StatusOK, resp)
}
