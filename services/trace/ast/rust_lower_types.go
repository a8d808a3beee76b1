// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// lowerType lowers any node in type position. Shapes the grammar can
// produce but this lowering does not model become TypeUnknown with the
// raw text kept.
func (l *lowerer) lowerType(n *sitter.Node) *TypeExpr {
	if n == nil {
		return nil
	}
	raw := l.text(n)
	if strings.TrimSpace(raw) == "_" {
		return &TypeExpr{Kind: TypeInfer, Raw: raw}
	}

	switch n.Type() {
	case "type_identifier", "primitive_type", "identifier", "self", "super", "crate",
		"scoped_type_identifier", "scoped_identifier", "generic_type",
		"generic_type_with_turbofish", "bracketed_type":
		return l.lowerPath(n)

	case "reference_type":
		return &TypeExpr{
			Kind:      TypeReference,
			Elem:      l.lowerType(n.ChildByFieldName("type")),
			Lifetime:  l.text(childOfType(n, "lifetime")),
			IsMutable: hasChildOfType(n, "mutable_specifier"),
			Raw:       raw,
		}

	case "pointer_type":
		return &TypeExpr{
			Kind:      TypePointer,
			Elem:      l.lowerType(n.ChildByFieldName("type")),
			IsMutable: hasChildOfType(n, "mutable_specifier"),
			Raw:       raw,
		}

	case "array_type":
		elem := l.lowerType(n.ChildByFieldName("element"))
		if length := n.ChildByFieldName("length"); length != nil {
			return &TypeExpr{Kind: TypeArray, Elem: elem, Len: l.text(length), Raw: raw}
		}
		return &TypeExpr{Kind: TypeSlice, Elem: elem, Raw: raw}

	case "tuple_type":
		t := &TypeExpr{Kind: TypeTuple, Raw: raw}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if isCommentNode(c) {
				continue
			}
			t.Elems = append(t.Elems, l.lowerType(c))
		}
		return t

	case "unit_type":
		return &TypeExpr{Kind: TypeTuple, Raw: raw}

	case "parenthesized_type":
		return &TypeExpr{Kind: TypeParen, Elem: l.lowerType(n.NamedChild(0)), Raw: raw}

	case "never_type":
		return &TypeExpr{Kind: TypeNever, Raw: raw}

	case "function_type":
		return l.lowerFunctionType(n)

	case "dynamic_type":
		t := &TypeExpr{Kind: TypeTraitObject, HasDyn: true, Raw: raw}
		if tr := n.ChildByFieldName("trait"); tr != nil {
			t.Bounds = append(t.Bounds, l.lowerType(tr))
		}
		return t

	case "abstract_type":
		t := &TypeExpr{Kind: TypeImplTrait, Raw: raw}
		tr := n.ChildByFieldName("trait")
		if tr == nil {
			return t
		}
		if tr.Type() == "bounded_type" {
			l.flattenBounded(tr, t)
		} else {
			t.Bounds = append(t.Bounds, l.lowerType(tr))
		}
		return t

	case "bounded_type":
		t := &TypeExpr{Kind: TypeTraitObject, Raw: raw}
		l.flattenBounded(n, t)
		return t

	case "removed_trait_bound":
		inner := l.lowerType(n.NamedChild(0))
		if inner != nil {
			inner.Maybe = true
		}
		return inner

	case "higher_ranked_trait_bound":
		return l.lowerType(n.ChildByFieldName("type"))

	case "macro_invocation":
		return &TypeExpr{
			Kind:        TypeMacro,
			MacroPath:   strings.ReplaceAll(l.text(n.ChildByFieldName("macro")), " ", ""),
			MacroTokens: l.text(childOfType(n, "token_tree")),
			Raw:         raw,
		}
	}
	return &TypeExpr{Kind: TypeUnknown, Raw: raw}
}

// flattenBounded collects the operands of nested `A + B + 'a` bounded types.
func (l *lowerer) flattenBounded(n *sitter.Node, into *TypeExpr) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "bounded_type":
			l.flattenBounded(c, into)
		case "lifetime":
			into.Lifetimes = append(into.Lifetimes, l.text(c))
		case "dynamic_type":
			into.HasDyn = true
			if tr := c.ChildByFieldName("trait"); tr != nil {
				into.Bounds = append(into.Bounds, l.lowerType(tr))
			}
		default:
			if !isCommentNode(c) {
				into.Bounds = append(into.Bounds, l.lowerType(c))
			}
		}
	}
}

func (l *lowerer) lowerFunctionType(n *sitter.Node) *TypeExpr {
	var inputs []*TypeExpr
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			c := params.NamedChild(i)
			switch {
			case c.Type() == "parameter":
				inputs = append(inputs, l.lowerType(c.ChildByFieldName("type")))
			case c.Type() == "attribute_item", isCommentNode(c):
			default:
				inputs = append(inputs, l.lowerType(c))
			}
		}
	}
	output := l.lowerType(n.ChildByFieldName("return_type"))

	// Fn(A) -> B sugar on a trait path.
	if tr := n.ChildByFieldName("trait"); tr != nil {
		t := l.lowerPath(tr)
		t.Raw = l.text(n)
		if len(t.Segments) > 0 {
			last := &t.Segments[len(t.Segments)-1]
			last.IsFnSugar = true
			last.Inputs = inputs
			last.Output = output
		}
		return t
	}

	t := &TypeExpr{Kind: TypeFn, Inputs: inputs, Output: output, Raw: l.text(n)}
	if mods := childOfType(n, "function_modifiers"); mods != nil {
		var async, konst bool
		l.applyModifiers(mods, &async, &konst, &t.IsUnsafe, &t.IsExtern, &t.ABI)
	}
	return t
}

// lowerPath lowers every path-shaped type node.
func (l *lowerer) lowerPath(n *sitter.Node) *TypeExpr {
	t := &TypeExpr{Kind: TypePath, Raw: l.text(n)}
	l.appendPath(t, n)
	if strings.HasPrefix(strings.TrimSpace(t.Raw), "::") && t.QSelf == nil {
		t.Global = true
	}
	return t
}

func (l *lowerer) appendPath(t *TypeExpr, n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "scoped_type_identifier", "scoped_identifier":
		l.appendPath(t, n.ChildByFieldName("path"))
		if name := n.ChildByFieldName("name"); name != nil {
			t.Segments = append(t.Segments, PathSegment{Name: l.text(name)})
		}
	case "generic_type", "generic_type_with_turbofish":
		l.appendPath(t, n.ChildByFieldName("type"))
		args := l.typeArguments(n.ChildByFieldName("type_arguments"))
		if len(t.Segments) > 0 {
			t.Segments[len(t.Segments)-1].Args = args
		}
	case "bracketed_type":
		inner := n.NamedChild(0)
		if inner != nil && inner.Type() == "qualified_type" {
			t.QSelf = l.lowerType(inner.ChildByFieldName("type"))
			t.QTrait = l.lowerType(inner.ChildByFieldName("alias"))
		} else {
			t.QSelf = l.lowerType(inner)
		}
	default:
		t.Segments = append(t.Segments, PathSegment{Name: strings.TrimSpace(l.text(n))})
	}
}

func (l *lowerer) typeArguments(n *sitter.Node) []GenericArg {
	if n == nil {
		return nil
	}
	var args []GenericArg
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "lifetime":
			args = append(args, GenericArg{Lifetime: l.text(c)})
		case "type_binding":
			args = append(args, GenericArg{
				Binding: l.text(c.ChildByFieldName("name")),
				Type:    l.lowerType(c.ChildByFieldName("type")),
			})
		case "block", "integer_literal", "string_literal", "boolean_literal",
			"char_literal", "float_literal", "negative_literal", "trait_bounds":
			args = append(args, GenericArg{Const: l.text(c)})
		default:
			if !isCommentNode(c) {
				args = append(args, GenericArg{Type: l.lowerType(c)})
			}
		}
	}
	return args
}

// generics lowers the type_parameters field and where clause of a
// declaration node.
func (l *lowerer) generics(n *sitter.Node) Generics {
	var g Generics
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		for i := 0; i < int(tp.NamedChildCount()); i++ {
			if p, ok := l.genericParam(tp.NamedChild(i)); ok {
				g.Params = append(g.Params, p)
			}
		}
	}
	if wc := childOfType(n, "where_clause"); wc != nil {
		for i := 0; i < int(wc.NamedChildCount()); i++ {
			c := wc.NamedChild(i)
			if c.Type() != "where_predicate" {
				continue
			}
			pred := WherePredicate{}
			left := c.ChildByFieldName("left")
			if left != nil && left.Type() == "lifetime" {
				pred.Bounded = &TypeExpr{Kind: TypeUnknown, Raw: l.text(left)}
			} else {
				pred.Bounded = l.lowerType(left)
			}
			if b := c.ChildByFieldName("bounds"); b != nil {
				pred.Bounds, pred.LifetimeBounds = l.lowerBounds(b)
			}
			g.Where = append(g.Where, pred)
		}
	}
	return g
}

func (l *lowerer) genericParam(c *sitter.Node) (GenericParam, bool) {
	switch c.Type() {
	case "lifetime":
		return GenericParam{Kind: GenericLifetime, Name: strings.TrimPrefix(l.text(c), "'")}, true

	case "lifetime_parameter":
		p := GenericParam{Kind: GenericLifetime, Name: strings.TrimPrefix(l.text(c.ChildByFieldName("name")), "'")}
		if b := c.ChildByFieldName("bounds"); b != nil {
			_, p.LifetimeBounds = l.lowerBounds(b)
		}
		return p, true

	case "type_identifier":
		return GenericParam{Kind: GenericType, Name: l.text(c)}, true

	case "type_parameter":
		p := GenericParam{Kind: GenericType, Name: l.text(c.ChildByFieldName("name"))}
		if b := c.ChildByFieldName("bounds"); b != nil {
			p.Bounds, p.LifetimeBounds = l.lowerBounds(b)
		}
		p.Default = l.lowerType(c.ChildByFieldName("default_type"))
		return p, true

	case "constrained_type_parameter":
		left := c.ChildByFieldName("left")
		var bounds []*TypeExpr
		var lifetimes []string
		if b := c.ChildByFieldName("bounds"); b != nil {
			bounds, lifetimes = l.lowerBounds(b)
		}
		if left != nil && left.Type() == "lifetime" {
			return GenericParam{
				Kind:           GenericLifetime,
				Name:           strings.TrimPrefix(l.text(left), "'"),
				LifetimeBounds: lifetimes,
			}, true
		}
		return GenericParam{
			Kind:           GenericType,
			Name:           l.text(left),
			Bounds:         bounds,
			LifetimeBounds: lifetimes,
		}, true

	case "optional_type_parameter":
		p, ok := l.genericParam(c.ChildByFieldName("name"))
		if !ok {
			return p, false
		}
		p.Default = l.lowerType(c.ChildByFieldName("default_type"))
		return p, true

	case "const_parameter":
		return GenericParam{
			Kind:         GenericConst,
			Name:         l.text(c.ChildByFieldName("name")),
			ConstType:    l.lowerType(c.ChildByFieldName("type")),
			ConstDefault: l.text(c.ChildByFieldName("value")),
		}, true
	}
	return GenericParam{}, false
}

// lowerBounds splits a trait_bounds node into type bounds and lifetimes.
func (l *lowerer) lowerBounds(n *sitter.Node) ([]*TypeExpr, []string) {
	var (
		types     []*TypeExpr
		lifetimes []string
	)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch {
		case c.Type() == "lifetime":
			lifetimes = append(lifetimes, l.text(c))
		case isCommentNode(c):
		default:
			if t := l.lowerType(c); t != nil {
				types = append(types, t)
			}
		}
	}
	return types, lifetimes
}

func isCommentNode(n *sitter.Node) bool {
	t := n.Type()
	return t == "line_comment" || t == "block_comment"
}
