// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strings"
	"testing"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

func TestComputeMatchScore(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		symbolName    string
		symbolKind    graph.SymbolKind
		wantMatchType MatchType
		shouldMatch   bool
	}{
		{"exact match beats everything", "parse", "parse", graph.SymbolFunction, MatchExact, true},
		{"prefix match", "parse", "parse_header", graph.SymbolFunction, MatchPrefix, true},
		{"snake_case boundary", "header", "parse_header", graph.SymbolFunction, MatchWordBoundary, true},
		{"CamelCase boundary", "Header", "HttpHeader", graph.SymbolStruct, MatchWordBoundary, true},
		{"substring", "arse", "parse_header", graph.SymbolFunction, MatchSubstring, true},
		{"fuzzy", "pasre", "parse", graph.SymbolFunction, MatchFuzzy, true},
		{"no match", "parse", "UnrelatedThing", graph.SymbolFunction, MatchNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, matchType := computeMatchScore(
				tt.query,
				strings.ToLower(tt.query),
				tt.symbolName,
				strings.ToLower(tt.symbolName),
				tt.symbolKind,
				"src/lib.rs",
				true,
			)
			if tt.shouldMatch && score == -1 {
				t.Errorf("Expected match but got score -1")
			}
			if !tt.shouldMatch && score != -1 {
				t.Errorf("Expected no match but got score %d", score)
			}
			if matchType != tt.wantMatchType {
				t.Errorf("Expected matchType %q, got %q", tt.wantMatchType, matchType)
			}
		})
	}
}

func TestComputeMatchScore_Ranking(t *testing.T) {
	score := func(name string, kind graph.SymbolKind) int {
		s, _ := computeMatchScore("parse", "parse", name, strings.ToLower(name), kind, "src/lib.rs", true)
		return s
	}

	if fn, c := score("parse_all", graph.SymbolFunction), score("parse_all", graph.SymbolConst); fn >= c {
		t.Errorf("function should score better than const: fn=%d, const=%d", fn, c)
	}
	if early, late := score("parse_input", graph.SymbolFunction), score("try_to_parse", graph.SymbolFunction); early >= late {
		t.Errorf("earlier match should score better: early=%d, late=%d", early, late)
	}
	if short, long := score("parse_a", graph.SymbolFunction), score("parse_a_very_long_name", graph.SymbolFunction); short >= long {
		t.Errorf("shorter name should score better: short=%d, long=%d", short, long)
	}
}

func TestComputeMatchScore_Contextual(t *testing.T) {
	exact := func(file string, public bool, name string) int {
		s, _ := computeMatchScore(name, strings.ToLower(name), name, strings.ToLower(name), graph.SymbolFunction, file, public)
		return s
	}

	t.Run("production file outranks test file", func(t *testing.T) {
		if src, test := exact("src/lib.rs", true, "run"), exact("tests/api.rs", true, "run"); src >= test {
			t.Errorf("source=%d, test=%d", src, test)
		}
	})
	t.Run("public outranks private", func(t *testing.T) {
		if pub, priv := exact("src/lib.rs", true, "run"), exact("src/lib.rs", false, "run"); pub >= priv {
			t.Errorf("public=%d, private=%d", pub, priv)
		}
	})
	t.Run("shallow outranks deep", func(t *testing.T) {
		if shallow, deep := exact("src/lib.rs", true, "run"), exact("crates/a/src/b/c/lib.rs", true, "run"); shallow >= deep {
			t.Errorf("shallow=%d, deep=%d", shallow, deep)
		}
	})
	t.Run("underscore prefix is demoted", func(t *testing.T) {
		if normal, under := exact("src/lib.rs", true, "run"), exact("src/lib.rs", true, "_run"); normal >= under {
			t.Errorf("normal=%d, underscore=%d", normal, under)
		}
	})
}

func TestComputeContextualPenalties(t *testing.T) {
	tests := []struct {
		file   string
		public bool
		name   string
		want   int
	}{
		{"src/lib.rs", true, "run", 0},
		{"tests/api.rs", true, "run", penaltyNonProduction},
		{"build.rs", true, "main", penaltyNonProduction},
		{"src/lib.rs", false, "run", penaltyNonPublic},
		{"src/lib.rs", true, "_run", penaltyUnderscore},
		{"a/b/c/d/lib.rs", true, "run", 2 * penaltyPerDepth},
		{"a/b/tests/x.rs", false, "_run", penaltyNonProduction + penaltyNonPublic + penaltyUnderscore + penaltyPerDepth},
	}
	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.name, func(t *testing.T) {
			if got := computeContextualPenalties(tt.file, tt.public, tt.name); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFindWordBoundaryMatch(t *testing.T) {
	tests := []struct {
		name       string
		symbolName string
		query      string
		wantPos    int
	}{
		{"match at start", "parse_header", "parse", 0},
		{"snake_case boundary", "try_parse_header", "parse", 4},
		{"CamelCase boundary", "HttpHeader", "Header", 4},
		{"path boundary", "net::Conn", "conn", 5},
		{"not a boundary", "unparsed", "parse", -1},
		{"case insensitive", "HttpHeader", "header", 4},
		{"query longer than name", "a", "abc", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findWordBoundaryMatch(tt.symbolName, tt.query); got != tt.wantPos {
				t.Errorf("findWordBoundaryMatch(%q, %q) = %d, want %d", tt.symbolName, tt.query, got, tt.wantPos)
			}
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "", 3},
		{"parse", "parse", 0},
		{"parse", "pasre", 2},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
