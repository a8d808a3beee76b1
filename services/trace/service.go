// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace serves code graph analysis over HTTP.
//
// The service analyzes Rust sources posted to it, stores the resulting
// documents as snapshots and answers symbol searches and diffs against
// stored snapshots.
package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/rustgraph/services/trace/config"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/index"
)

var tracer = otel.Tracer("rustgraph.trace.service")

// ErrSnapshotsUnavailable is returned when the service has no snapshot store.
var ErrSnapshotsUnavailable = errors.New("snapshot persistence not configured")

// DefaultMaxIndexedSnapshots bounds the search indexes kept in memory.
const DefaultMaxIndexedSnapshots = 64

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Config supplies parser and builder options. Nil means config.Default().
	Config *config.Config

	// MaxIndexedSnapshots bounds cached symbol indexes, evicting the
	// oldest. 0 means DefaultMaxIndexedSnapshots.
	MaxIndexedSnapshots int

	Logger *slog.Logger
}

// DefaultServiceConfig returns a config with project defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Config:              config.Default(),
		MaxIndexedSnapshots: DefaultMaxIndexedSnapshots,
	}
}

// Service holds the analyzer, the snapshot store and per-snapshot
// symbol indexes.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg       ServiceConfig
	analyzer  *graph.Analyzer
	snapshots *graph.SnapshotManager
	logger    *slog.Logger
	startedAt time.Time

	mu         sync.Mutex
	indexes    map[string]*index.SymbolIndex
	indexOrder []string
}

// NewService creates a service. snapshots may be nil, in which case the
// snapshot endpoints answer 503.
func NewService(cfg ServiceConfig, snapshots *graph.SnapshotManager) *Service {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.MaxIndexedSnapshots <= 0 {
		cfg.MaxIndexedSnapshots = DefaultMaxIndexedSnapshots
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		analyzer:  graph.NewAnalyzer(cfg.Config.AnalyzerOptions(logger)),
		snapshots: snapshots,
		logger:    logger,
		startedAt: time.Now(),
		indexes:   make(map[string]*index.SymbolIndex),
	}
}

// Analyze parses and builds content as the file path.
func (s *Service) Analyze(ctx context.Context, path string, content []byte) (*graph.BuildResult, error) {
	ctx, span := tracer.Start(ctx, "trace.Service.Analyze")
	defer span.End()
	return s.analyzer.AnalyzeSource(ctx, content, path)
}

// Save stores a build result as a snapshot.
func (s *Service) Save(ctx context.Context, result *graph.BuildResult, label string) (*graph.SnapshotMeta, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsUnavailable
	}
	return s.snapshots.Save(ctx, graph.NewDocument(result), label)
}

// Snapshots returns the store, or nil.
func (s *Service) Snapshots() *graph.SnapshotManager {
	return s.snapshots
}

// SymbolIndex returns the search index of a snapshot, building and
// caching it on first use.
func (s *Service) SymbolIndex(ctx context.Context, snapshotID string) (*index.SymbolIndex, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsUnavailable
	}
	s.mu.Lock()
	idx, ok := s.indexes[snapshotID]
	s.mu.Unlock()
	if ok {
		return idx, nil
	}

	doc, meta, err := s.snapshots.Load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	idx = index.NewSymbolIndex()
	if _, err := idx.IndexGraph(meta.SourcePath, doc.Graph); err != nil {
		return nil, fmt.Errorf("indexing snapshot %s: %w", snapshotID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[snapshotID]; ok {
		return existing, nil
	}
	if len(s.indexOrder) >= s.cfg.MaxIndexedSnapshots {
		oldest := s.indexOrder[0]
		s.indexOrder = s.indexOrder[1:]
		delete(s.indexes, oldest)
	}
	s.indexes[snapshotID] = idx
	s.indexOrder = append(s.indexOrder, snapshotID)
	return idx, nil
}

// Forget drops the cached index of a deleted snapshot.
func (s *Service) Forget(snapshotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[snapshotID]; !ok {
		return
	}
	delete(s.indexes, snapshotID)
	for i, id := range s.indexOrder {
		if id == snapshotID {
			s.indexOrder = append(s.indexOrder[:i], s.indexOrder[i+1:]...)
			break
		}
	}
}

// IndexedSnapshots reports how many indexes are cached.
func (s *Service) IndexedSnapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexes)
}

// Uptime is the time since NewService.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
