// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides name lookup and fuzzy search over the symbols of
// built code graphs.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

// Default configuration values.
const (
	// DefaultMaxSymbols is the default maximum number of symbols the index can hold.
	DefaultMaxSymbols = 1_000_000

	// searchCheckInterval is how often Search checks for context cancellation.
	searchCheckInterval = 1000
)

// SymbolIndexOptions configures SymbolIndex behavior and limits.
type SymbolIndexOptions struct {
	// MaxSymbols is the maximum number of symbols the index can hold.
	// Attempting to add more symbols returns ErrMaxSymbolsExceeded.
	// Default: 1,000,000
	MaxSymbols int
}

// DefaultSymbolIndexOptions returns the default options.
func DefaultSymbolIndexOptions() SymbolIndexOptions {
	return SymbolIndexOptions{MaxSymbols: DefaultMaxSymbols}
}

// SymbolIndexOption is a functional option for configuring SymbolIndex.
type SymbolIndexOption func(*SymbolIndexOptions)

// WithMaxSymbols sets the maximum number of symbols the index can hold.
func WithMaxSymbols(max int) SymbolIndexOption {
	return func(o *SymbolIndexOptions) {
		o.MaxSymbols = max
	}
}

// Entry is an indexed symbol and the file it was declared in.
type Entry struct {
	// Key is "file#id", unique across the index.
	Key  string `json:"key"`
	File string `json:"file"`
	graph.Symbol
}

// Match is a search hit.
type Match struct {
	*Entry
	MatchType MatchType `json:"match_type"`
	Score     int       `json:"score"`
}

// MatchType names how a query matched a symbol, best first.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchPrefix       MatchType = "prefix"
	MatchWordBoundary MatchType = "word_boundary"
	MatchSubstring    MatchType = "substring"
	MatchFuzzy        MatchType = "fuzzy"
	MatchNone         MatchType = "no_match"
)

// IndexStats contains statistics about the symbol index.
type IndexStats struct {
	TotalSymbols int                      `json:"total_symbols"`
	ByKind       map[graph.SymbolKind]int `json:"by_kind"`
	FileCount    int                      `json:"file_count"`
	MaxSymbols   int                      `json:"max_symbols"`
}

// SymbolIndex provides lookups of graph symbols by key, name, file and kind.
//
// The index maintains multiple maps for efficient access patterns:
//   - byKey: primary index, one entry per file and graph id
//   - byName: declared name, several entries may share one
//   - byFile: every entry of one analyzed file
//   - byKind: entries of one SymbolKind
//
// Thread Safety:
//
//	SymbolIndex is safe for concurrent use.
//
// Ownership:
//
//	Entries are immutable once added; callers must not modify returned
//	entries.
type SymbolIndex struct {
	mu sync.RWMutex

	byKey  map[string]*Entry
	byName map[string][]*Entry
	byFile map[string][]*Entry
	byKind map[graph.SymbolKind][]*Entry

	options SymbolIndexOptions
}

// NewSymbolIndex creates an empty index.
//
// Example:
//
//	idx := NewSymbolIndex(WithMaxSymbols(100_000))
//	_ = idx.IndexGraph("src/lib.rs", result.Graph)
func NewSymbolIndex(opts ...SymbolIndexOption) *SymbolIndex {
	options := DefaultSymbolIndexOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &SymbolIndex{
		byKey:   make(map[string]*Entry),
		byName:  make(map[string][]*Entry),
		byFile:  make(map[string][]*Entry),
		byKind:  make(map[graph.SymbolKind][]*Entry),
		options: options,
	}
}

// IndexGraph replaces every entry of file with the symbols of g.
//
// Description:
//
//	The replacement is atomic: readers see either the old or the new set
//	of entries for file. If the new set would exceed MaxSymbols the old
//	entries are kept and ErrMaxSymbolsExceeded is returned.
//
// Outputs:
//
//	int - Number of entries now indexed for file.
//	error - ErrInvalidSymbol for a nil graph or empty file.
func (idx *SymbolIndex) IndexGraph(file string, g *graph.CodeGraph) (int, error) {
	if file == "" {
		return 0, fmt.Errorf("%w: file must not be empty", ErrInvalidSymbol)
	}
	if g == nil {
		return 0, fmt.Errorf("%w: graph is nil", ErrInvalidSymbol)
	}

	syms := graph.Symbols(g)
	entries := make([]*Entry, 0, len(syms))
	for _, s := range syms {
		entries = append(entries, &Entry{Key: file + "#" + s.ID.String(), File: file, Symbol: s})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.byKey)-len(idx.byFile[file])+len(entries) > idx.options.MaxSymbols {
		return 0, ErrMaxSymbolsExceeded
	}
	idx.removeFileLocked(file)
	for _, e := range entries {
		idx.byKey[e.Key] = e
		idx.byName[e.Name] = append(idx.byName[e.Name], e)
		idx.byFile[e.File] = append(idx.byFile[e.File], e)
		idx.byKind[e.Kind] = append(idx.byKind[e.Kind], e)
	}
	return len(entries), nil
}

// Get retrieves an entry by its key.
func (idx *SymbolIndex) Get(key string) (*Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byKey[key]
	return e, ok
}

// GetByName returns the entries declared with exactly name.
func (idx *SymbolIndex) GetByName(name string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byName[name])
}

// GetByFile returns the entries of one file in qualified-name order.
func (idx *SymbolIndex) GetByFile(file string) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byFile[file])
}

// GetByKind returns the entries of one kind.
func (idx *SymbolIndex) GetByKind(kind graph.SymbolKind) []*Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.byKind[kind])
}

func copyEntries(src []*Entry) []*Entry {
	if len(src) == 0 {
		return nil
	}
	out := make([]*Entry, len(src))
	copy(out, src)
	return out
}

// Search finds entries matching query, best first.
//
// Description:
//
//	A query containing "::" is matched against qualified names, any other
//	query against declared names. Ranking is exact, then prefix, then word
//	boundary (snake_case or CamelCase), then substring, then fuzzy
//	(Levenshtein within 30% of the query length). Ties are broken by
//	match position, length difference, kind and finally key. Symbols
//	from non-production files and non-public symbols carry penalties
//	larger than a whole match class.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - Search string (case-insensitive).
//	limit - Maximum number of results (0 = no limit).
//
// Outputs:
//
//	[]Match - Matching entries sorted by relevance.
//	error - Non-nil if ctx was cancelled.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (idx *SymbolIndex) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	ctx, span := startOperationSpan(ctx, "Search")
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "search", time.Since(start), 0, false)
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "search", time.Since(start), 0, true)
		return nil, nil
	}
	qualified := strings.Contains(query, "::")
	queryLower := strings.ToLower(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []Match
	count := 0
	for _, e := range idx.byKey {
		count++
		if count%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				setOperationSpanResult(span, 0, false)
				recordOperationMetrics(ctx, "search", time.Since(start), 0, false)
				return nil, err
			}
		}

		name := e.Name
		if qualified {
			name = e.QualifiedName
		}
		score, matchType := computeMatchScore(query, queryLower, name, strings.ToLower(name), e.Kind, e.File, e.Visibility.IsPublic())
		if score >= 0 {
			results = append(results, Match{Entry: e, MatchType: matchType, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	setOperationSpanResult(span, len(results), true)
	recordOperationMetrics(ctx, "search", time.Since(start), len(results), true)
	recordSearchResults(ctx, len(results))
	return results, nil
}

// computeMatchScore calculates a composite score for one candidate name.
//
//	Score = base_score * 10000 +
//	        position_penalty * 100 +
//	        length_penalty * 10 +
//	        kind_penalty +
//	        contextual_penalties
//
// Lower is better; -1 means no match. Contextual penalties are large
// enough that a production match of any type outranks an exact match in
// a test file.
//
// Thread Safety: Safe for concurrent use (stateless function).
func computeMatchScore(query, queryLower, name, nameLower string, kind graph.SymbolKind, file string, public bool) (int, MatchType) {
	contextual := computeContextualPenalties(file, public, name)
	if nameLower == queryLower {
		return getKindPenalty(kind) + contextual, MatchExact
	}

	var baseScore, matchPos int
	var matchType MatchType
	if strings.HasPrefix(nameLower, queryLower) {
		baseScore, matchType = 1, MatchPrefix
	} else if pos := findWordBoundaryMatch(name, query); pos >= 0 {
		baseScore, matchType, matchPos = 2, MatchWordBoundary, pos
	} else if pos := strings.Index(nameLower, queryLower); pos >= 0 {
		baseScore, matchType, matchPos = 3, MatchSubstring, pos
	} else {
		threshold := max(2, len(queryLower)/3)
		if levenshteinDistance(nameLower, queryLower) > threshold {
			return -1, MatchNone
		}
		baseScore, matchType = 4, MatchFuzzy
	}

	positionPenalty := 0
	if len(name) > 0 && matchPos > 0 {
		positionPenalty = min(99, (matchPos*100)/len(name))
	}
	lengthPenalty := min(99, abs(len(name)-len(query)))

	return baseScore*10000 + positionPenalty*100 + lengthPenalty*10 + getKindPenalty(kind) + contextual, matchType
}

// Contextual penalties, added on top of the match score.
const (
	penaltyNonProduction = 50000
	penaltyNonPublic     = 20000
	penaltyUnderscore    = 10000
	penaltyPerDepth      = 1000
	penaltyFreeDepth     = 2
)

// computeContextualPenalties demotes symbols from tests, benches,
// examples and build scripts, non-public symbols, names with a leading
// underscore, and files nested deeper than two directories.
func computeContextualPenalties(file string, public bool, name string) int {
	penalty := 0
	if file != "" && graph.ClassifyPath(file) != graph.FileKindProduction {
		penalty += penaltyNonProduction
	}
	if !public {
		penalty += penaltyNonPublic
	}
	if strings.HasPrefix(name, "_") {
		penalty += penaltyUnderscore
	}
	if depth := strings.Count(file, "/"); depth > penaltyFreeDepth {
		penalty += (depth - penaltyFreeDepth) * penaltyPerDepth
	}
	return penalty
}

// findWordBoundaryMatch finds query at a word boundary of name, where
// words are split by '_', "::", and lower-to-upper case changes.
//
// Examples:
//
//	"parse" matches "try_parse_header" at position 4
//	"Header" matches "HttpHeader" at position 4
//	"ars" does not match "try_parse"
//
// Returns: Position of match, or -1 if no word boundary match.
func findWordBoundaryMatch(name, query string) int {
	if len(query) == 0 || len(name) < len(query) {
		return -1
	}
	queryLower := strings.ToLower(query)
	for i := 0; i+len(query) <= len(name); i++ {
		boundary := i == 0 ||
			(!isLetter(name[i-1]) && isLetter(name[i])) ||
			(isUpper(name[i]) && !isUpper(name[i-1]))
		if !boundary {
			continue
		}
		if strings.ToLower(name[i:i+len(query)]) != queryLower {
			continue
		}
		end := i + len(query)
		if end == len(name) || isUpper(name[end]) || !isLetter(name[end]) {
			return i
		}
	}
	return -1
}

// getKindPenalty prefers callables, then types and traits, then the rest.
func getKindPenalty(kind graph.SymbolKind) int {
	switch kind {
	case graph.SymbolFunction, graph.SymbolMethod:
		return 0
	case graph.SymbolStruct, graph.SymbolEnum, graph.SymbolUnion, graph.SymbolTrait, graph.SymbolTypeAlias:
		return 1
	case graph.SymbolConst, graph.SymbolStatic, graph.SymbolMacro:
		return 2
	case graph.SymbolModule:
		return 3
	default:
		return 5
	}
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// levenshteinDistance calculates the edit distance between two strings
// using two rolling rows.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// RemoveFile removes every entry of file and returns how many there were.
func (idx *SymbolIndex) RemoveFile(file string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeFileLocked(file)
}

// removeFileLocked requires idx.mu held for writing.
func (idx *SymbolIndex) removeFileLocked(file string) int {
	entries := idx.byFile[file]
	for _, e := range entries {
		delete(idx.byKey, e.Key)
		idx.byName[e.Name] = removeFromSlice(idx.byName[e.Name], e)
		if len(idx.byName[e.Name]) == 0 {
			delete(idx.byName, e.Name)
		}
		idx.byKind[e.Kind] = removeFromSlice(idx.byKind[e.Kind], e)
		if len(idx.byKind[e.Kind]) == 0 {
			delete(idx.byKind, e.Kind)
		}
	}
	delete(idx.byFile, file)
	return len(entries)
}

// removeFromSlice removes e by pointer equality, keeping order.
func removeFromSlice(slice []*Entry, e *Entry) []*Entry {
	for i, s := range slice {
		if s == e {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

// Clear removes all entries.
func (idx *SymbolIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byKey = make(map[string]*Entry)
	idx.byName = make(map[string][]*Entry)
	idx.byFile = make(map[string][]*Entry)
	idx.byKind = make(map[graph.SymbolKind][]*Entry)
}

// Stats returns statistics about the index.
func (idx *SymbolIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byKind := make(map[graph.SymbolKind]int, len(idx.byKind))
	for k, v := range idx.byKind {
		byKind[k] = len(v)
	}
	return IndexStats{
		TotalSymbols: len(idx.byKey),
		ByKind:       byKind,
		FileCount:    len(idx.byFile),
		MaxSymbols:   idx.options.MaxSymbols,
	}
}
