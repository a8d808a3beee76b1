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
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rustgraph/services/trace/config"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/index"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	sourceV1 = "pub mod net {\n    pub struct Conn { pub addr: String }\n}\npub fn dial(addr: &str) -> bool { true }\n"
	sourceV2 = "pub mod net {\n    pub struct Conn { pub addr: String, pub port: u16 }\n}\npub fn dial(addr: &str, port: u16) -> bool { true }\npub fn close() {}\n"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRouter creates a router over a service with an in-memory
// snapshot store, or none when withSnapshots is false.
func setupTestRouter(t *testing.T, cfg *config.Config, withSnapshots bool) (*gin.Engine, *Service) {
	t.Helper()
	var snaps *graph.SnapshotManager
	if withSnapshots {
		db, err := graph.OpenSnapshotDB("")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		snaps, err = graph.NewSnapshotManager(db, quietLogger())
		require.NoError(t, err)
	}
	svc := NewService(ServiceConfig{Config: cfg, Logger: quietLogger(), MaxIndexedSnapshots: 1}, snaps)
	return NewRouter(NewHandlers(svc), RouterOptions{}), svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func saveSnapshot(t *testing.T, router http.Handler, content, label string) *graph.SnapshotMeta {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/codegraph/snapshots",
		SaveSnapshotRequest{Path: "src/lib.rs", Content: content, Label: label})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*graph.SnapshotMeta](t, w)
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)

	w := doJSON(t, router, http.MethodGet, "/v1/codegraph/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Snapshots {
		t.Error("snapshots should be unavailable")
	}
	if resp.SchemaVersion != graph.GraphSchemaVersion {
		t.Errorf("schema_version = %q", resp.SchemaVersion)
	}
}

func TestRequestID(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/codegraph/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = doJSON(t, router, http.MethodGet, "/v1/codegraph/health", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRateLimit(t *testing.T) {
	svc := NewService(ServiceConfig{Logger: quietLogger()}, nil)
	// One token, refilled far slower than the test runs.
	router := NewRouter(NewHandlers(svc), RouterOptions{RateLimit: 0.001, RateBurst: 1})

	w := doJSON(t, router, http.MethodGet, "/v1/codegraph/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/codegraph/health", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)

	// Metrics sit outside the limited group.
	w = doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)
	doJSON(t, router, http.MethodPost, "/v1/codegraph/analyze", AnalyzeRequest{Path: "lib.rs", Content: sourceV1})

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trace_codegraph_build_duration_seconds")
}

func TestHandleAnalyze(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)

	w := doJSON(t, router, http.MethodPost, "/v1/codegraph/analyze",
		AnalyzeRequest{Path: "src/lib.rs", Content: sourceV1, Validate: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AnalyzeResponse](t, w)
	require.NotNil(t, resp.Document)
	assert.Equal(t, "src/lib.rs", resp.Document.SourcePath)
	assert.Equal(t, graph.GraphSchemaVersion, resp.Document.SchemaVersion)
	assert.Len(t, resp.GraphHash, 64)
	assert.Empty(t, resp.ValidationErrors)

	g := resp.Document.Graph
	require.NotNil(t, g)
	_, ok := g.FindFunction("dial")
	assert.True(t, ok)
	_, ok = g.FindTypeDef("Conn")
	assert.True(t, ok)
}

func TestHandleAnalyze_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFileSizeBytes = 16
	router, _ := setupTestRouter(t, cfg, false)

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{"missing content", map[string]string{"path": "lib.rs"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing path", map[string]string{"content": "fn a() {}"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"too large", AnalyzeRequest{Path: "lib.rs", Content: sourceV1}, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/codegraph/analyze", tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/codegraph/analyze", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAnalyze_SyntaxError(t *testing.T) {
	cfg := config.Default()
	cfg.StrictSyntax = true
	router, _ := setupTestRouter(t, cfg, false)

	w := doJSON(t, router, http.MethodPost, "/v1/codegraph/analyze",
		AnalyzeRequest{Path: "lib.rs", Content: "fn ok() {}\nfn broken( {\n"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "SYNTAX_ERROR", decode[ErrorResponse](t, w).Code)
}

func TestHandleValidate(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)

	w := doJSON(t, router, http.MethodPost, "/v1/codegraph/validate",
		AnalyzeRequest{Path: "src/lib.rs", Content: sourceV1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[ValidateResponse](t, w)
	assert.True(t, resp.Valid)
	assert.NotNil(t, resp.ValidationErrors)
	assert.Equal(t, 1, resp.Stats.Functions)
}

func TestSnapshotEndpoints_Unavailable(t *testing.T) {
	router, _ := setupTestRouter(t, nil, false)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/codegraph/snapshots"},
		{http.MethodGet, "/v1/codegraph/snapshots/abc"},
		{http.MethodDelete, "/v1/codegraph/snapshots/abc"},
		{http.MethodGet, "/v1/codegraph/snapshots/abc/symbols?q=x"},
		{http.MethodGet, "/v1/codegraph/diff?base=a&target=b"},
	} {
		w := doJSON(t, router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.path)
		assert.Equal(t, "SNAPSHOTS_NOT_AVAILABLE", decode[ErrorResponse](t, w).Code)
	}
}

func TestSnapshotWorkflow(t *testing.T) {
	router, svc := setupTestRouter(t, nil, true)

	base := saveSnapshot(t, router, sourceV1, "v1")
	target := saveSnapshot(t, router, sourceV2, "v2")
	assert.Equal(t, "src/lib.rs", base.SourcePath)
	assert.Equal(t, "v1", base.Label)
	assert.NotEqual(t, base.SnapshotID, target.SnapshotID)
	assert.NotEqual(t, base.GraphHash, target.GraphHash)

	t.Run("list", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots?path=src/lib.rs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[ListSnapshotsResponse](t, w).Snapshots, 2)

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots?limit=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[ListSnapshotsResponse](t, w).Snapshots, 1)
	})

	t.Run("load", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+base.SnapshotID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[LoadSnapshotResponse](t, w)
		assert.Equal(t, base.SnapshotID, resp.Metadata.SnapshotID)
		assert.Equal(t, 1, resp.Stats.Functions)
		assert.Nil(t, resp.Document)

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+base.SnapshotID+"?document=true", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotNil(t, decode[LoadSnapshotResponse](t, w).Document)
	})

	t.Run("search symbols", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+target.SnapshotID+"/symbols?q=close", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[SearchSymbolsResponse](t, w)
		require.NotEmpty(t, resp.Matches)
		assert.Equal(t, "close", resp.Matches[0].Name)
		assert.Equal(t, index.MatchExact, resp.Matches[0].MatchType)

		// close does not exist in the base snapshot.
		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+base.SnapshotID+"/symbols?q=close", nil)
		require.Equal(t, http.StatusOK, w.Code)
		for _, m := range decode[SearchSymbolsResponse](t, w).Matches {
			assert.NotEqual(t, "close", m.Name)
		}

		// The cache holds one index; the second search evicted the first.
		assert.Equal(t, 1, svc.IndexedSnapshots())

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+base.SnapshotID+"/symbols", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("diff", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/codegraph/diff?format=unified&base="+base.SnapshotID+"&target="+target.SnapshotID, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[SnapshotDiffResponse](t, w)
		require.NotNil(t, resp.Diff)
		assert.Positive(t, resp.Diff.Summary.TotalChanges)
		require.NotEmpty(t, resp.Diff.Added)
		assert.Equal(t, "close", resp.Diff.Added[0].Name)
		assert.NotEmpty(t, resp.Diff.Modified)
		assert.Contains(t, resp.Unified, "+")

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/diff?base="+base.SnapshotID, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/diff?base=missing&target="+target.SnapshotID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		// base holds the only cached index.
		w := doJSON(t, router, http.MethodDelete, "/v1/codegraph/snapshots/"+base.SnapshotID, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 0, svc.IndexedSnapshots())

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+base.SnapshotID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "SNAPSHOT_NOT_FOUND", decode[ErrorResponse](t, w).Code)

		w = doJSON(t, router, http.MethodDelete, "/v1/codegraph/snapshots/"+base.SnapshotID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(t, router, http.MethodGet, "/v1/codegraph/snapshots/"+target.SnapshotID, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
