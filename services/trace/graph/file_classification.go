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
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileKind is the role of a source file inside a crate.
type FileKind string

const (
	FileKindProduction  FileKind = "production"
	FileKindTest        FileKind = "test"
	FileKindBench       FileKind = "bench"
	FileKindExample     FileKind = "example"
	FileKindBuildScript FileKind = "build_script"
)

// FileClassificationOptions configures ClassifyFiles.
type FileClassificationOptions struct {
	// ExcludeFromAnalysis lists doublestar patterns forced to test.
	// Example: ["vendor/**", "**/generated/**"]
	ExcludeFromAnalysis []string

	// IncludeOverride lists doublestar patterns forced to production,
	// checked after ExcludeFromAnalysis.
	IncludeOverride []string

	Logger *slog.Logger
}

// FileEntry is one file to classify. Graph may be nil.
type FileEntry struct {
	Path  string
	Graph *CodeGraph
}

// FileClassificationStats contains summary statistics for logging.
//
// Partition invariant: TotalFiles == ProductionFiles + NonProductionFiles.
type FileClassificationStats struct {
	TotalFiles         int              `json:"total_files"`
	ProductionFiles    int              `json:"production_files"`
	NonProductionFiles int              `json:"non_production_files"`
	ByKind             map[FileKind]int `json:"by_kind"`

	// Overridden counts files whose kind came from a configured pattern.
	Overridden int `json:"overridden"`
}

// FileClassification holds the kind of every classified file.
//
// Thread Safety:
//
//	FileClassification is safe for concurrent reads after construction.
//	The internal map is never mutated after ClassifyFiles returns.
type FileClassification struct {
	files map[string]FileKind
	stats FileClassificationStats
}

// Kind returns the kind recorded for filePath.
func (fc *FileClassification) Kind(filePath string) (FileKind, bool) {
	k, ok := fc.files[filepath.ToSlash(filePath)]
	return k, ok
}

// IsProduction reports whether filePath is production code. Unknown files
// are treated as production.
func (fc *FileClassification) IsProduction(filePath string) bool {
	k, ok := fc.Kind(filePath)
	return !ok || k == FileKindProduction
}

// Stats returns the summary statistics.
func (fc *FileClassification) Stats() FileClassificationStats {
	return fc.stats
}

// ClassifyFiles assigns a FileKind to every entry.
//
// Description:
//
//	Classification runs in three steps:
//	  1. Cargo layout: tests/, benches/ and examples/ directories, build.rs,
//	     and *_test.rs or tests.rs file names (ClassifyPath).
//	  2. Content: a production file whose root module carries #![cfg(test)]
//	     becomes a test file.
//	  3. Overrides: ExcludeFromAnalysis then IncludeOverride patterns.
//
// Inputs:
//
//	entries - Files to classify, paths relative to the project root.
//	opts - Override patterns. Invalid patterns are logged and skipped.
//
// Outputs:
//
//	*FileClassification - Never nil.
//
// Thread Safety: Safe for concurrent use (stateless function).
func ClassifyFiles(entries []FileEntry, opts FileClassificationOptions) *FileClassification {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exclude := validPatterns(logger, opts.ExcludeFromAnalysis)
	include := validPatterns(logger, opts.IncludeOverride)

	fc := &FileClassification{
		files: make(map[string]FileKind, len(entries)),
		stats: FileClassificationStats{ByKind: make(map[FileKind]int)},
	}
	for _, e := range entries {
		p := filepath.ToSlash(e.Path)
		kind := ClassifyPath(p)
		if kind == FileKindProduction && e.Graph != nil && isTestCrateRoot(e.Graph) {
			kind = FileKindTest
		}
		switch {
		case matchAny(exclude, p):
			kind = FileKindTest
			fc.stats.Overridden++
		case matchAny(include, p):
			kind = FileKindProduction
			fc.stats.Overridden++
		}

		fc.files[p] = kind
		fc.stats.TotalFiles++
		fc.stats.ByKind[kind]++
		if kind == FileKindProduction {
			fc.stats.ProductionFiles++
		} else {
			fc.stats.NonProductionFiles++
		}
	}

	logger.Info("file classification complete",
		slog.Int("total", fc.stats.TotalFiles),
		slog.Int("production", fc.stats.ProductionFiles),
		slog.Int("non_production", fc.stats.NonProductionFiles),
		slog.Int("overridden", fc.stats.Overridden))
	return fc
}

// ClassifyPath classifies a slash-separated path by Cargo layout alone.
func ClassifyPath(p string) FileKind {
	p = filepath.ToSlash(p)
	base := path.Base(p)
	if base == "build.rs" {
		return FileKindBuildScript
	}
	for _, dir := range strings.Split(path.Dir(p), "/") {
		switch dir {
		case "tests":
			return FileKindTest
		case "benches":
			return FileKindBench
		case "examples":
			return FileKindExample
		}
	}
	if base == "tests.rs" || strings.HasSuffix(base, "_test.rs") || strings.HasSuffix(base, "_tests.rs") {
		return FileKindTest
	}
	return FileKindProduction
}

// isTestCrateRoot reports whether the root module is gated on cfg(test).
func isTestCrateRoot(g *CodeGraph) bool {
	root := g.Root()
	if root == nil {
		return false
	}
	for _, a := range root.Attributes {
		if a.Name == "cfg" && len(a.Args) == 1 && a.Args[0] == "test" {
			return true
		}
	}
	return false
}

func validPatterns(logger *slog.Logger, patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			logger.Warn("ignoring invalid classification pattern", slog.String("pattern", p))
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchAny(patterns []string, p string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, p); ok {
			return true
		}
	}
	return false
}
