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
	"strings"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// Synthetic cache key prefixes. They start with a NUL byte so they can
// never collide with rendered type text.
const (
	unknownKeyPrefix = "\x00unknown:"
	selfKeyPrefix    = "\x00self:"
)

// TypeInterner deduplicates type expressions into the graph's type table.
//
// Description:
//
//	Every expression is rendered to its canonical text, which is the cache
//	key. A miss decomposes the expression, interns its children first, and
//	only then allocates the TypeID for the expression itself, so children
//	always have smaller ids than their parents.
//
// Thread Safety:
//
//	Not safe for concurrent use. A build owns one interner.
type TypeInterner struct {
	alloc       *IDAllocator
	graph       *CodeGraph
	cache       map[string]TypeID
	freshBounds bool

	// unknown counts entries that degraded to TypeKindUnknown.
	unknown int
}

// NewTypeInterner returns an interner that appends to g.TypeGraph and
// draws ids from alloc.
func NewTypeInterner(alloc *IDAllocator, g *CodeGraph, freshBounds bool) *TypeInterner {
	return &TypeInterner{
		alloc:       alloc,
		graph:       g,
		cache:       make(map[string]TypeID),
		freshBounds: freshBounds,
	}
}

// Lookup returns the id cached under key, which is canonical type text.
func (in *TypeInterner) Lookup(key string) (TypeID, bool) {
	id, ok := in.cache[key]
	return id, ok
}

// Len returns the number of cached keys.
func (in *TypeInterner) Len() int { return len(in.cache) }

// UnknownCount returns how many entries degraded to TypeKindUnknown.
func (in *TypeInterner) UnknownCount() int { return in.unknown }

// GetOrCreate returns the id of t, creating it and its children on a miss.
// A nil expression interns as an unknown type with empty text.
func (in *TypeInterner) GetOrCreate(t *ast.TypeExpr) TypeID {
	if t == nil {
		return in.intern(unknownKeyPrefix, func() TypeNode {
			in.unknown++
			return TypeNode{Kind: TypeKindUnknown}
		})
	}
	key := t.String()
	if t.Kind == ast.TypeUnknown {
		key = unknownKeyPrefix + key
	}
	if id, ok := in.cache[key]; ok {
		return id
	}
	node := in.decompose(t)
	node.Text = t.String()
	id := in.alloc.NextTypeID()
	node.ID = id
	in.cache[key] = id
	in.graph.TypeGraph = append(in.graph.TypeGraph, node)
	return id
}

// Named interns a plain path type built from segment names.
func (in *TypeInterner) Named(segments ...string) TypeID {
	return in.GetOrCreate(ast.PathType(segments...))
}

// Lifetime interns a lifetime as a named type, e.g. "'a".
func (in *TypeInterner) Lifetime(name string) TypeID {
	if !strings.HasPrefix(name, "'") {
		name = "'" + name
	}
	return in.intern(name, func() TypeNode {
		return TypeNode{Kind: TypeKindNamed, Text: name, Path: []string{name}}
	})
}

// Bound interns one bound of a bound list. With fresh bounds enabled a new
// Named entry is allocated on every call and the cache is not consulted.
func (in *TypeInterner) Bound(t *ast.TypeExpr) TypeID {
	if !in.freshBounds || t == nil {
		return in.GetOrCreate(t)
	}
	node := TypeNode{
		Kind:             TypeKindNamed,
		Text:             t.String(),
		Path:             t.PathNames(),
		IsFullyQualified: t.Global || t.QSelf != nil,
	}
	if t.Kind == ast.TypePath {
		node.Related = in.pathChildren(t)
	}
	node.ID = in.alloc.NextTypeID()
	in.graph.TypeGraph = append(in.graph.TypeGraph, node)
	return node.ID
}

// internSelf returns the receiver type of a method: a Named "Self" entry
// whose related types are the receiver form and, inside an impl, the impl
// self type. Its text reads "Self(&Self for S)" so it never collides with
// the plain Self path.
func (in *TypeInterner) internSelf(form TypeID, implSelf *TypeID) TypeID {
	related := []TypeID{form}
	text := in.graph.TypeText(form)
	if implSelf != nil {
		related = append(related, *implSelf)
		text += " for " + in.graph.TypeText(*implSelf)
	}
	text = "Self(" + text + ")"
	return in.intern(selfKeyPrefix+text, func() TypeNode {
		return TypeNode{Kind: TypeKindNamed, Text: text, Path: []string{"Self"}, Related: related}
	})
}

// intern is the cache-or-allocate step for entries built without an
// expression.
func (in *TypeInterner) intern(key string, build func() TypeNode) TypeID {
	if id, ok := in.cache[key]; ok {
		return id
	}
	node := build()
	node.ID = in.alloc.NextTypeID()
	in.cache[key] = node.ID
	in.graph.TypeGraph = append(in.graph.TypeGraph, node)
	return node.ID
}

// decompose interns the children of t and returns its entry without id.
func (in *TypeInterner) decompose(t *ast.TypeExpr) TypeNode {
	switch t.Kind {
	case ast.TypePath:
		return TypeNode{
			Kind:             TypeKindNamed,
			Path:             t.PathNames(),
			IsFullyQualified: t.Global || t.QSelf != nil,
			Related:          in.pathChildren(t),
		}
	case ast.TypeReference:
		return TypeNode{
			Kind:      TypeKindReference,
			Lifetime:  t.Lifetime,
			IsMutable: t.IsMutable,
			Related:   []TypeID{in.GetOrCreate(t.Elem)},
		}
	case ast.TypeSlice:
		return TypeNode{Kind: TypeKindSlice, Related: []TypeID{in.GetOrCreate(t.Elem)}}
	case ast.TypeArray:
		return TypeNode{Kind: TypeKindArray, Size: t.Len, Related: []TypeID{in.GetOrCreate(t.Elem)}}
	case ast.TypeTuple:
		n := TypeNode{Kind: TypeKindTuple}
		for _, e := range t.Elems {
			n.Related = append(n.Related, in.GetOrCreate(e))
		}
		return n
	case ast.TypeFn:
		n := TypeNode{Kind: TypeKindFunction, IsUnsafe: t.IsUnsafe, IsExtern: t.IsExtern, ABI: t.ABI}
		for _, p := range t.Inputs {
			n.Related = append(n.Related, in.GetOrCreate(p))
		}
		if t.Output != nil {
			n.Related = append(n.Related, in.GetOrCreate(t.Output))
		}
		return n
	case ast.TypeNever:
		return TypeNode{Kind: TypeKindNever}
	case ast.TypeInfer:
		return TypeNode{Kind: TypeKindInferred}
	case ast.TypePointer:
		return TypeNode{Kind: TypeKindRawPointer, IsMutable: t.IsMutable, Related: []TypeID{in.GetOrCreate(t.Elem)}}
	case ast.TypeTraitObject:
		return TypeNode{Kind: TypeKindTraitObject, HasDyn: t.HasDyn, Related: in.bounds(t.Bounds, t.Lifetimes)}
	case ast.TypeImplTrait:
		return TypeNode{Kind: TypeKindImplTrait, Related: in.bounds(t.Bounds, t.Lifetimes)}
	case ast.TypeParen:
		return TypeNode{Kind: TypeKindParen, Related: []TypeID{in.GetOrCreate(t.Elem)}}
	case ast.TypeMacro:
		return TypeNode{Kind: TypeKindMacro, MacroName: ast.LastSegment(t.MacroPath), MacroTokens: t.MacroTokens}
	default:
		in.unknown++
		return TypeNode{Kind: TypeKindUnknown, Raw: t.Raw}
	}
}

// pathChildren interns generic arguments, Fn sugar inputs and outputs, and
// the qualified self and trait of a path type.
func (in *TypeInterner) pathChildren(t *ast.TypeExpr) []TypeID {
	var ids []TypeID
	if t.QSelf != nil {
		ids = append(ids, in.GetOrCreate(t.QSelf))
	}
	if t.QTrait != nil {
		ids = append(ids, in.GetOrCreate(t.QTrait))
	}
	for _, seg := range t.Segments {
		for _, a := range seg.Args {
			if a.Type != nil {
				ids = append(ids, in.GetOrCreate(a.Type))
			}
		}
		if seg.IsFnSugar {
			for _, p := range seg.Inputs {
				ids = append(ids, in.GetOrCreate(p))
			}
			if seg.Output != nil {
				ids = append(ids, in.GetOrCreate(seg.Output))
			}
		}
	}
	return ids
}

func (in *TypeInterner) bounds(bounds []*ast.TypeExpr, lifetimes []string) []TypeID {
	ids := make([]TypeID, 0, len(bounds)+len(lifetimes))
	for _, b := range bounds {
		ids = append(ids, in.Bound(b))
	}
	for _, l := range lifetimes {
		ids = append(ids, in.Lifetime(l))
	}
	return ids
}
