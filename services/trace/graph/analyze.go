// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// DiscoverOptions selects the files AnalyzeTree builds.
type DiscoverOptions struct {
	// Include lists doublestar patterns, relative to the root. Empty means
	// "**/*.rs".
	Include []string

	// Exclude lists doublestar patterns. A matching directory is not
	// descended into.
	Exclude []string

	// RespectGitignore skips paths matched by <root>/.gitignore.
	RespectGitignore bool

	Logger *slog.Logger
}

// PathFilter applies DiscoverOptions to individual relative paths.
//
// Thread Safety: Safe for concurrent use after construction.
type PathFilter struct {
	include   []string
	exclude   []string
	gitignore *ignore.GitIgnore
}

// NewPathFilter compiles opts for root. Invalid patterns are logged and
// ignored; a missing .gitignore is not an error.
func NewPathFilter(root string, opts DiscoverOptions) *PathFilter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &PathFilter{
		include: validPatterns(logger, opts.Include),
		exclude: validPatterns(logger, opts.Exclude),
	}
	if len(f.include) == 0 {
		f.include = []string{"**/*.rs"}
	}
	if opts.RespectGitignore {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("ignoring unreadable .gitignore", slog.String("error", err.Error()))
			}
		} else {
			f.gitignore = gi
		}
	}
	return f
}

// SkipDir reports whether the directory rel is pruned.
func (f *PathFilter) SkipDir(rel string) bool {
	if path.Base(rel) == ".git" {
		return true
	}
	return matchAny(f.exclude, rel) || matchAny(f.exclude, rel+"/") ||
		(f.gitignore != nil && f.gitignore.MatchesPath(rel+"/"))
}

// Selects reports whether the file rel is analyzed, ignoring its parent
// directories.
func (f *PathFilter) Selects(rel string) bool {
	if matchAny(f.exclude, rel) || (f.gitignore != nil && f.gitignore.MatchesPath(rel)) {
		return false
	}
	return matchAny(f.include, rel)
}

// SelectsPath is Selects plus SkipDir on every ancestor directory of rel.
func (f *PathFilter) SelectsPath(rel string) bool {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if f.SkipDir(dir) {
			return false
		}
	}
	return f.Selects(rel)
}

// Discover walks root and returns the slash-separated relative paths of
// every file selected by opts, sorted.
//
// Description:
//
//	.git directories and symlinks are never followed. Invalid patterns are
//	logged and ignored. A missing .gitignore is not an error.
//
// Outputs:
//
//	[]string - Relative paths in lexical order.
//	error - ErrNotDirectory, a walk error, or the context error.
func Discover(ctx context.Context, root string, opts DiscoverOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	filter := NewPathFilter(root, opts)

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if filter.SkipDir(rel) {
				logger.Debug("skipping directory", slog.String("path", rel))
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && filter.Selects(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	// Workers bounds concurrent file builds. 0 means GOMAXPROCS.
	Workers int

	Discover       DiscoverOptions
	Classification FileClassificationOptions
	Parser         []ast.RustParserOption
	Builder        []BuilderOption

	Logger *slog.Logger
}

// FileResult is the outcome for one analyzed file. Exactly one of Result
// and Err is set, except for a cancelled build, which carries both.
type FileResult struct {
	Path   string
	Result *BuildResult
	Err    error
}

// TreeResult is the outcome of AnalyzeTree.
type TreeResult struct {
	Root  string
	Files []FileResult

	// Classification holds the kind of every successfully built file.
	Classification *FileClassification

	Duration time.Duration
}

// Failed returns the files whose analysis failed.
func (r *TreeResult) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Analyzer builds one graph per Rust file of a directory tree.
//
// Thread Safety:
//
//	Analyzer is safe for concurrent use. Every file gets its own parse and
//	build state and its own id space; graphs are never merged.
type Analyzer struct {
	opts    AnalyzerOptions
	parser  *ast.RustParser
	builder *Builder
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Discover.Logger == nil {
		opts.Discover.Logger = logger
	}
	if opts.Classification.Logger == nil {
		opts.Classification.Logger = logger
	}
	return &Analyzer{
		opts:    opts,
		parser:  ast.NewRustParser(opts.Parser...),
		builder: NewBuilder(opts.Builder...),
		logger:  logger,
	}
}

// AnalyzeSource parses and builds content as if read from path.
func (a *Analyzer) AnalyzeSource(ctx context.Context, content []byte, path string) (*BuildResult, error) {
	file, err := a.parser.Parse(ctx, content, path)
	if err != nil {
		return nil, err
	}
	return a.builder.Build(ctx, file)
}

// AnalyzeFile reads, parses and builds the file at root/rel. The graph's
// SourcePath is rel.
func (a *Analyzer) AnalyzeFile(ctx context.Context, root, rel string) FileResult {
	fr := FileResult{Path: rel}
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		fr.Err = fmt.Errorf("reading %s: %w", rel, err)
	} else {
		fr.Result, fr.Err = a.AnalyzeSource(ctx, content, rel)
	}
	recordAnalyzedFile(fr.Err)
	return fr
}

// AnalyzeTree discovers and builds every selected file under root.
//
// Description:
//
//	Files are built in parallel with at most Workers goroutines. A file
//	that fails to read, parse or build is reported in its FileResult and
//	does not affect other files. Results are in Discover order.
//
// Outputs:
//
//	*TreeResult - Per-file results and classification.
//	error - A discovery error or the context error. Per-file errors are
//	        never returned here.
func (a *Analyzer) AnalyzeTree(ctx context.Context, root string) (*TreeResult, error) {
	ctx, span := tracer.Start(ctx, "graph.Analyzer.AnalyzeTree")
	defer span.End()
	start := time.Now()

	paths, err := Discover(ctx, root, a.opts.Discover)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	workers := a.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.AnalyzeFile(gctx, root, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.logger.Warn("file analysis failed",
				slog.String("file", r.Path),
				slog.String("error", r.Err.Error()))
			continue
		}
		entries = append(entries, FileEntry{Path: r.Path, Graph: r.Result.Graph})
	}

	tr := &TreeResult{
		Root:           root,
		Files:          results,
		Classification: ClassifyFiles(entries, a.opts.Classification),
		Duration:       time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("analyze.files", len(paths)),
		attribute.Int("analyze.failed", failed),
		attribute.Int("analyze.workers", workers),
	)
	a.logger.Info("analysis complete",
		slog.String("root", root),
		slog.Int("files", len(paths)),
		slog.Int("failed", failed),
		slog.Duration("duration", tr.Duration))
	return tr, nil
}
