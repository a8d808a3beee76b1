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
	"strconv"
	"strings"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// convertAttributes drops doc attributes and normalizes the rest.
//
// List attributes split their arguments at top-level commas. Name-value
// attributes carry the right-hand side both as their single argument and
// as Value, unquoted when it is a string literal.
func convertAttributes(attrs []ast.Attribute) []Attribute {
	var out []Attribute
	for _, a := range attrs {
		if a.IsDoc() {
			continue
		}
		attr := Attribute{Name: a.Path}
		switch {
		case a.HasValue:
			v := strings.TrimSpace(a.Value)
			if s, err := strconv.Unquote(v); err == nil {
				v = s
			}
			attr.Value = v
			attr.Args = []string{v}
		case a.HasArgs:
			attr.Args = splitTopLevel(a.Args)
		}
		out = append(out, attr)
	}
	return out
}

// splitTopLevel splits s at commas outside (), [], {}, <> and string
// literals. Pieces are whitespace-normalized; empty pieces are dropped.
func splitTopLevel(s string) []string {
	var (
		out      []string
		depth    int
		inString bool
		escaped  bool
		start    int
	)
	flush := func(end int) {
		if piece := ast.NormalizeSpace(s[start:end]); piece != "" {
			out = append(out, piece)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

// hasAttribute reports whether attrs contains a non-doc attribute named
// name.
func hasAttribute(attrs []ast.Attribute, name string) bool {
	for _, a := range attrs {
		if a.Path == name {
			return true
		}
	}
	return false
}

// joinDocs joins doc lines with "\n"; no lines is the empty string.
func joinDocs(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// ResolveVisibility maps a normalized visibility token to a Visibility.
//
//	"pub"               public
//	"pub(crate)"        crate
//	"crate"             crate
//	"pub(self)"         restricted [self]
//	"pub(super)"        restricted [super]
//	"pub(in a::b)"      restricted [a b]
//	""                  inherited
func ResolveVisibility(token string) Visibility {
	token = strings.Join(strings.Fields(token), " ")
	switch token {
	case "":
		return Visibility{Kind: VisibilityInherited}
	case "pub":
		return Public
	case "crate", "pub(crate)":
		return Visibility{Kind: VisibilityCrate}
	case "pub(self)":
		return Visibility{Kind: VisibilityRestricted, Path: []string{"self"}}
	case "pub(super)":
		return Visibility{Kind: VisibilityRestricted, Path: []string{"super"}}
	}
	if strings.HasPrefix(token, "pub(in ") && strings.HasSuffix(token, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(token, "pub(in "), ")")
		var path []string
		for _, seg := range strings.Split(strings.ReplaceAll(inner, " ", ""), "::") {
			if seg != "" {
				path = append(path, seg)
			}
		}
		return Visibility{Kind: VisibilityRestricted, Path: path}
	}
	return Visibility{Kind: VisibilityInherited}
}
