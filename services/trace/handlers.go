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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Handlers implements the HTTP endpoints over a Service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the request id from the header, minting a
// UUID when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	id := c.GetHeader(RequestIDHeader)
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(RequestIDHeader, id)
	return id
}

// RequestIDMiddleware assigns every request an id before handlers run.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

// RateLimitMiddleware rejects requests above perSecond with 429. Tokens
// are shared by every client.
func RateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			writeError(c, http.StatusTooManyRequests, getOrCreateRequestID(c), "RATE_LIMITED", "request rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) (*slog.Logger, string) {
	requestID := getOrCreateRequestID(c)
	return h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", handler)), requestID
}

func writeError(c *gin.Context, status int, requestID, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code, RequestID: requestID})
}

// analyzeStatus maps a front-end or build error onto an HTTP status and
// error code.
func analyzeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ast.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case errors.Is(err, ast.ErrInvalidContent):
		return http.StatusUnprocessableEntity, "INVALID_CONTENT"
	case errors.Is(err, ast.ErrSyntax):
		return http.StatusUnprocessableEntity, "SYNTAX_ERROR"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, graph.ErrBuildCancelled):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "BUILD_FAILED"
	}
}

// HandleAnalyze handles POST /v1/codegraph/analyze.
//
// Description:
//
//	Parses and builds the posted source and returns the document. With
//	validate=true the relation validation errors are included.
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Malformed body
//	413 Request Entity Too Large: Source exceeds the parser limit
//	422 Unprocessable Entity: Invalid UTF-8 or syntax error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, requestID, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.svc.Analyze(c.Request.Context(), req.Path, []byte(req.Content))
	if err != nil {
		status, code := analyzeStatus(err)
		logger.Warn("analyze failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		writeError(c, status, requestID, code, err.Error())
		return
	}

	doc := graph.NewDocument(res)
	hash, err := doc.GraphHash()
	if err != nil {
		writeError(c, http.StatusInternalServerError, requestID, "HASH_FAILED", err.Error())
		return
	}
	resp := AnalyzeResponse{
		Document:    doc,
		GraphHash:   hash,
		Diagnostics: res.Diagnostics,
	}
	if req.Validate {
		resp.ValidationErrors = res.ValidationErrors
		if resp.ValidationErrors == nil {
			resp.ValidationErrors = graph.ValidateGraph(res.Graph)
		}
	}

	logger.Info("analyzed source",
		slog.String("path", req.Path),
		slog.Int("relations", len(res.Graph.Relations)),
		slog.Int("diagnostics", len(res.Diagnostics)),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleValidate handles POST /v1/codegraph/validate.
//
// Response:
//
//	200 OK: ValidateResponse, valid=false when any relation error exists
//	400, 413, 422: As HandleAnalyze
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger, requestID := h.requestLogger(c, "HandleValidate")

	var req AnalyzeRequest
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

	errs := graph.ValidateGraph(res.Graph)
	if errs == nil {
		errs = []*graph.RelationError{}
	}
	logger.Info("validated source", slog.String("path", req.Path), slog.Int("errors", len(errs)))
	c.JSON(http.StatusOK, ValidateResponse{
		Valid:            len(errs) == 0,
		Stats:            res.Graph.Stats(),
		ValidationErrors: errs,
	})
}

// HandleHealth handles GET /v1/codegraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:           "healthy",
		Snapshots:        h.svc.Snapshots() != nil,
		IndexedSnapshots: h.svc.IndexedSnapshots(),
		UptimeSeconds:    int64(h.svc.Uptime().Seconds()),
		SchemaVersion:    graph.GraphSchemaVersion,
	})
}
