// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch rebuilds code graphs as Rust sources change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

var tracer = otel.Tracer("rustgraph.trace.watch")

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = 300 * time.Millisecond

// Batch is one debounced set of changes.
type Batch struct {
	// Built holds a result per changed file that still exists, ordered by
	// path. Failed builds carry Err.
	Built []graph.FileResult

	// Removed lists files deleted or renamed away, ordered.
	Removed []string
}

// Handler receives each batch. A returned error is logged and does not
// stop the watcher.
type Handler func(ctx context.Context, batch Batch) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches a source tree and rebuilds changed files.
//
// Description:
//
//	Directories are watched recursively, honoring the analyzer's discovery
//	filters. Events are collected until no new event arrives for the
//	debounce interval; the batch is then rebuilt and passed to the handler.
//	Directories created after Run starts are added automatically.
//
// Thread Safety: Run must be called at most once.
type Watcher struct {
	root     string
	analyzer *graph.Analyzer
	filter   *graph.PathFilter
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// New creates a watcher over root. Call Run to start it.
func New(root string, analyzer *graph.Analyzer, discover graph.DiscoverOptions, handler Handler, opts ...Option) (*Watcher, error) {
	if analyzer == nil || handler == nil {
		return nil, errors.New("watch: analyzer and handler are required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", graph.ErrNotDirectory, root)
	}

	w := &Watcher{
		root:     abs,
		analyzer: analyzer,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if discover.Logger == nil {
		discover.Logger = w.logger
	}
	w.filter = graph.NewPathFilter(abs, discover)

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.addTree(abs); err != nil {
		w.fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	return w, nil
}

// addTree watches dir and every non-skipped directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.rel(p); rel != "." && w.filter.SkipDir(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

// Run processes events until ctx is cancelled, then closes the watcher.
// It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.logger.Info("watching for changes", slog.String("root", w.root), slog.Duration("debounce", w.debounce))

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if rel, ok := w.accept(ev); ok {
				pending[rel] = struct{}{}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			w.flush(ctx, paths)
		}
	}
}

// accept filters one event and registers newly created directories.
func (w *Watcher) accept(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	rel := w.rel(ev.Name)
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.filter.SkipDir(rel) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("failed to watch new directory",
						slog.String("path", rel), slog.String("error", err.Error()))
				}
			}
			return "", false
		}
	}
	if !w.filter.SelectsPath(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) flush(ctx context.Context, paths []string) {
	ctx, span := tracer.Start(ctx, "watch.Watcher.flush")
	defer span.End()
	span.SetAttributes(attribute.Int("watch.paths", len(paths)))

	var batch Batch
	for _, rel := range paths {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel))); errors.Is(err, fs.ErrNotExist) {
			batch.Removed = append(batch.Removed, rel)
			continue
		}
		fr := w.analyzer.AnalyzeFile(ctx, w.root, rel)
		if fr.Err != nil {
			w.logger.Warn("rebuild failed", slog.String("path", rel), slog.String("error", fr.Err.Error()))
		}
		batch.Built = append(batch.Built, fr)
	}

	w.logger.Info("rebuilt changed files",
		slog.Int("built", len(batch.Built)),
		slog.Int("removed", len(batch.Removed)),
	)
	if err := w.handler(ctx, batch); err != nil {
		span.RecordError(err)
		w.logger.Error("watch handler failed", slog.String("error", err.Error()))
	}
}
