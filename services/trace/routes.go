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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// DefaultServiceName names the service in spans.
const DefaultServiceName = "rustgraph-trace"

// RegisterRoutes registers all code graph routes with the router.
//
// Description:
//
//	Registers all /v1/codegraph/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/codegraph/analyze - Build a graph from posted source
//	POST   /v1/codegraph/validate - Build and validate relations
//	POST   /v1/codegraph/snapshots - Build and save a snapshot
//	GET    /v1/codegraph/snapshots - List snapshots
//	GET    /v1/codegraph/snapshots/:id - Load a snapshot
//	DELETE /v1/codegraph/snapshots/:id - Delete a snapshot
//	GET    /v1/codegraph/snapshots/:id/symbols - Search a snapshot's symbols
//	GET    /v1/codegraph/diff - Diff two snapshots
//	GET    /v1/codegraph/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/codegraph")
	{
		cg.POST("/analyze", handlers.HandleAnalyze)
		cg.POST("/validate", handlers.HandleValidate)

		cg.POST("/snapshots", handlers.HandleSaveSnapshot)
		cg.GET("/snapshots", handlers.HandleListSnapshots)
		cg.GET("/snapshots/:id", handlers.HandleLoadSnapshot)
		cg.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)
		cg.GET("/snapshots/:id/symbols", handlers.HandleSearchSymbols)

		cg.GET("/diff", handlers.HandleDiffSnapshots)

		cg.GET("/health", handlers.HandleHealth)
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName is passed to otelgin. Defaults to DefaultServiceName.
	ServiceName string

	// AccessLog enables gin's request logger.
	AccessLog bool

	// RateLimit caps /v1 requests per second. 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// NewRouter builds a gin engine with recovery, tracing and request ids,
// serving /metrics and every /v1 route.
func NewRouter(handlers *Handlers, opts RouterOptions) *gin.Engine {
	name := opts.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(name))
	router.Use(RequestIDMiddleware())
	if opts.AccessLog {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if opts.RateLimit > 0 {
		v1.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	}
	RegisterRoutes(v1, handlers)
	return router
}
