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
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// lowerer turns tree-sitter nodes into Items for one file.
type lowerer struct {
	src    []byte
	path   string
	errors []string
}

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(l.src)
}

func (l *lowerer) location(n *sitter.Node) Location {
	return Location{
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

// childOfType returns the first direct child with the given node type.
func childOfType(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func hasChildOfType(n *sitter.Node, typ string) bool {
	return childOfType(n, typ) != nil
}

// lowerItems lowers the declarations of a source_file or declaration_list.
// Outer attributes and doc comments accumulate until the next item and
// attach to it.
func (l *lowerer) lowerItems(container *sitter.Node) ([]Item, []Attribute, []string) {
	var (
		items      []Item
		innerAttrs []Attribute
		innerDocs  []string
		attrs      []Attribute
		docs       []string
	)
	if container == nil {
		return nil, nil, nil
	}

	for i := 0; i < int(container.ChildCount()); i++ {
		c := container.Child(i)
		switch c.Type() {
		case "line_comment", "block_comment":
			if doc, inner, ok := docComment(l.text(c)); ok {
				if inner {
					innerDocs = append(innerDocs, doc...)
				} else {
					docs = append(docs, doc...)
				}
			}
			continue
		case "attribute_item":
			a := parseAttribute(l.text(c), false)
			attrs = append(attrs, a)
			if a.IsDoc() {
				docs = append(docs, docAttributeText(a))
			}
			continue
		case "inner_attribute_item":
			a := parseAttribute(l.text(c), true)
			innerAttrs = append(innerAttrs, a)
			if a.IsDoc() {
				innerDocs = append(innerDocs, docAttributeText(a))
			}
			continue
		case "{", "}", ";", "empty_statement":
			continue
		case "ERROR":
			l.errors = append(l.errors, fmt.Sprintf("%s:%d: skipped malformed region", l.path, c.StartPoint().Row+1))
			attrs, docs = nil, nil
			continue
		}

		meta := ItemMeta{Attributes: attrs, Docs: docs, Location: l.location(c)}
		items = append(items, l.lowerItem(c, meta)...)
		attrs, docs = nil, nil
	}
	return items, innerAttrs, innerDocs
}

// lowerItem dispatches one declaration node. Unsupported nodes lower to
// nothing.
func (l *lowerer) lowerItem(n *sitter.Node, meta ItemMeta) []Item {
	switch n.Type() {
	case "function_item", "function_signature_item":
		return []Item{l.lowerFunction(n, meta)}
	case "struct_item":
		return []Item{l.lowerStruct(n, meta)}
	case "enum_item":
		return []Item{l.lowerEnum(n, meta)}
	case "union_item":
		return []Item{l.lowerUnion(n, meta)}
	case "type_item":
		return []Item{l.lowerTypeAlias(n, meta)}
	case "associated_type":
		meta.Name = l.text(n.ChildByFieldName("name"))
		return []Item{&TypeAlias{ItemMeta: meta, Generics: l.generics(n)}}
	case "trait_item":
		return []Item{l.lowerTrait(n, meta)}
	case "impl_item":
		return []Item{l.lowerImpl(n, meta)}
	case "mod_item":
		return []Item{l.lowerModule(n, meta)}
	case "use_declaration":
		return []Item{l.lowerUse(n, meta)}
	case "extern_crate_declaration":
		meta.Name = l.text(n.ChildByFieldName("name"))
		meta.Visibility = l.visibility(n)
		return []Item{&ExternCrate{ItemMeta: meta, Alias: l.text(n.ChildByFieldName("alias"))}}
	case "const_item":
		meta.Name = l.text(n.ChildByFieldName("name"))
		meta.Visibility = l.visibility(n)
		return []Item{&Const{
			ItemMeta: meta,
			Type:     l.lowerType(n.ChildByFieldName("type")),
			Value:    l.text(n.ChildByFieldName("value")),
		}}
	case "static_item":
		meta.Name = l.text(n.ChildByFieldName("name"))
		meta.Visibility = l.visibility(n)
		return []Item{&Static{
			ItemMeta:  meta,
			Type:      l.lowerType(n.ChildByFieldName("type")),
			Value:     l.text(n.ChildByFieldName("value")),
			IsMutable: hasChildOfType(n, "mutable_specifier"),
		}}
	case "macro_definition":
		return []Item{l.lowerMacroRules(n, meta)}
	case "macro_invocation":
		return []Item{l.lowerMacroCall(n, meta)}
	case "expression_statement":
		if inner := n.NamedChild(0); inner != nil && inner.Type() == "macro_invocation" {
			return []Item{l.lowerMacroCall(inner, meta)}
		}
	case "foreign_mod_item":
		return l.lowerForeignMod(n)
	}
	return nil
}

func (l *lowerer) lowerFunction(n *sitter.Node, meta ItemMeta) *Function {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	f := &Function{ItemMeta: meta, Generics: l.generics(n)}

	if mods := childOfType(n, "function_modifiers"); mods != nil {
		l.applyModifiers(mods, &f.IsAsync, &f.IsConst, &f.IsUnsafe, &f.IsExtern, &f.ABI)
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		l.lowerParameters(params, f)
	}
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		f.Return = l.lowerType(rt)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		f.HasBody = true
		f.Body = l.text(body)
		f.MacroCalls = l.collectMacroCalls(body)
	}
	return f
}

func (l *lowerer) applyModifiers(mods *sitter.Node, async, konst, unsafe, extern *bool, abi *string) {
	for i := 0; i < int(mods.ChildCount()); i++ {
		c := mods.Child(i)
		switch c.Type() {
		case "async":
			*async = true
		case "const":
			*konst = true
		case "unsafe":
			*unsafe = true
		case "extern_modifier":
			*extern = true
			if lit := childOfType(c, "string_literal"); lit != nil {
				*abi = l.text(lit)
			}
		}
	}
}

func (l *lowerer) lowerParameters(params *sitter.Node, f *Function) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		c := params.NamedChild(i)
		switch c.Type() {
		case "self_parameter":
			f.Receiver = &Receiver{
				IsReference: strings.HasPrefix(strings.TrimSpace(l.text(c)), "&"),
				IsMutable:   hasChildOfType(c, "mutable_specifier"),
				Lifetime:    l.text(childOfType(c, "lifetime")),
			}
		case "parameter":
			pattern := c.ChildByFieldName("pattern")
			typ := l.lowerType(c.ChildByFieldName("type"))
			mutable := hasChildOfType(c, "mutable_specifier")
			patText := l.text(pattern)
			if pattern != nil && pattern.Type() == "mut_pattern" {
				mutable = true
				patText = strings.TrimSpace(strings.TrimPrefix(patText, "mut"))
			}
			if patText == "self" && len(f.Params) == 0 && f.Receiver == nil {
				f.Receiver = &Receiver{IsMutable: mutable, Explicit: typ}
				continue
			}
			p := Param{Pattern: patText, IsMutable: mutable, Type: typ}
			if isIdentifier(patText) {
				p.Name = patText
			}
			f.Params = append(f.Params, p)
		case "variadic_parameter":
			f.Params = append(f.Params, Param{Pattern: "...", Type: &TypeExpr{Kind: TypeUnknown, Raw: "..."}})
		}
	}
}

// collectMacroCalls finds macro invocations in a body in document order.
// Token trees are not descended into.
func (l *lowerer) collectMacroCalls(body *sitter.Node) []*MacroCall {
	var calls []*MacroCall
	stack := []*sitter.Node{body}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "macro_invocation" {
			calls = append(calls, l.lowerMacroCall(n, ItemMeta{Location: l.location(n)}))
			continue
		}
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
	return calls
}

func (l *lowerer) lowerMacroCall(n *sitter.Node, meta ItemMeta) *MacroCall {
	path := strings.ReplaceAll(l.text(n.ChildByFieldName("macro")), " ", "")
	meta.Name = LastSegment(path)
	return &MacroCall{
		ItemMeta: meta,
		Path:     path,
		Tokens:   l.text(childOfType(n, "token_tree")),
	}
}

func (l *lowerer) lowerMacroRules(n *sitter.Node, meta ItemMeta) *MacroRules {
	name := n.ChildByFieldName("name")
	meta.Name = l.text(name)
	body := ""
	if name != nil {
		body = strings.TrimSpace(string(l.src[name.EndByte():n.EndByte()]))
		body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
		body = stripDelimiters(body)
	}
	return &MacroRules{ItemMeta: meta, Body: body}
}

func (l *lowerer) lowerStruct(n *sitter.Node, meta ItemMeta) *Struct {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	s := &Struct{ItemMeta: meta, Generics: l.generics(n)}
	s.Shape, s.Fields = l.lowerFieldBody(n.ChildByFieldName("body"))
	return s
}

func (l *lowerer) lowerUnion(n *sitter.Node, meta ItemMeta) *Union {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	u := &Union{ItemMeta: meta, Generics: l.generics(n)}
	_, u.Fields = l.lowerFieldBody(n.ChildByFieldName("body"))
	return u
}

func (l *lowerer) lowerEnum(n *sitter.Node, meta ItemMeta) *Enum {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	e := &Enum{ItemMeta: meta, Generics: l.generics(n)}

	body := n.ChildByFieldName("body")
	if body == nil {
		return e
	}
	var (
		attrs []Attribute
		docs  []string
	)
	for i := 0; i < int(body.ChildCount()); i++ {
		c := body.Child(i)
		switch c.Type() {
		case "attribute_item":
			a := parseAttribute(l.text(c), false)
			attrs = append(attrs, a)
			if a.IsDoc() {
				docs = append(docs, docAttributeText(a))
			}
		case "line_comment", "block_comment":
			if doc, inner, ok := docComment(l.text(c)); ok && !inner {
				docs = append(docs, doc...)
			}
		case "enum_variant":
			v := Variant{
				Name:         l.text(c.ChildByFieldName("name")),
				Attributes:   attrs,
				Docs:         docs,
				Discriminant: l.text(c.ChildByFieldName("value")),
			}
			v.Shape, v.Fields = l.lowerFieldBody(c.ChildByFieldName("body"))
			e.Variants = append(e.Variants, v)
			attrs, docs = nil, nil
		}
	}
	return e
}

// lowerFieldBody handles field_declaration_list, ordered_field_declaration_list
// and the absent body of a unit declaration.
func (l *lowerer) lowerFieldBody(body *sitter.Node) (FieldShape, []Field) {
	if body == nil {
		return ShapeUnit, nil
	}
	var (
		fields []Field
		attrs  []Attribute
		docs   []string
		vis    string
	)
	shape := ShapeNamed
	if body.Type() == "ordered_field_declaration_list" {
		shape = ShapeTuple
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		c := body.Child(i)
		switch c.Type() {
		case "attribute_item":
			a := parseAttribute(l.text(c), false)
			attrs = append(attrs, a)
			if a.IsDoc() {
				docs = append(docs, docAttributeText(a))
			}
			continue
		case "line_comment", "block_comment":
			if doc, inner, ok := docComment(l.text(c)); ok && !inner {
				docs = append(docs, doc...)
			}
			continue
		case "visibility_modifier":
			vis = normalizeVisibility(l.text(c))
			continue
		case "field_declaration":
			fields = append(fields, Field{
				Name:       l.text(c.ChildByFieldName("name")),
				Visibility: l.visibility(c),
				Attributes: attrs,
				Docs:       docs,
				Type:       l.lowerType(c.ChildByFieldName("type")),
			})
		default:
			if shape != ShapeTuple || !c.IsNamed() {
				continue
			}
			fields = append(fields, Field{
				Visibility: vis,
				Attributes: attrs,
				Docs:       docs,
				Type:       l.lowerType(c),
			})
		}
		attrs, docs, vis = nil, nil, ""
	}
	return shape, fields
}

func (l *lowerer) lowerTypeAlias(n *sitter.Node, meta ItemMeta) *TypeAlias {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	return &TypeAlias{
		ItemMeta: meta,
		Generics: l.generics(n),
		Type:     l.lowerType(n.ChildByFieldName("type")),
	}
}

func (l *lowerer) lowerTrait(n *sitter.Node, meta ItemMeta) *Trait {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	t := &Trait{
		ItemMeta: meta,
		Generics: l.generics(n),
		IsUnsafe: hasChildOfType(n, "unsafe"),
		IsAuto:   hasChildOfType(n, "auto"),
	}
	if bounds := n.ChildByFieldName("bounds"); bounds != nil {
		t.SuperTraits, t.SuperLifetimes = l.lowerBounds(bounds)
	}
	items, _, _ := l.lowerItems(n.ChildByFieldName("body"))
	for _, it := range items {
		switch v := it.(type) {
		case *Function:
			t.Methods = append(t.Methods, v)
		case *TypeAlias:
			t.AssociatedTypes = append(t.AssociatedTypes, v.Name)
		}
	}
	return t
}

func (l *lowerer) lowerImpl(n *sitter.Node, meta ItemMeta) *Impl {
	im := &Impl{
		ItemMeta:   meta,
		Generics:   l.generics(n),
		SelfType:   l.lowerType(n.ChildByFieldName("type")),
		IsUnsafe:   hasChildOfType(n, "unsafe"),
		IsNegative: hasChildOfType(n, "!"),
	}
	if tr := n.ChildByFieldName("trait"); tr != nil {
		im.Trait = l.lowerType(tr)
	}
	items, _, _ := l.lowerItems(n.ChildByFieldName("body"))
	for _, it := range items {
		if f, ok := it.(*Function); ok {
			im.Methods = append(im.Methods, f)
		}
	}
	return im
}

func (l *lowerer) lowerModule(n *sitter.Node, meta ItemMeta) *Module {
	meta.Name = l.text(n.ChildByFieldName("name"))
	meta.Visibility = l.visibility(n)
	m := &Module{ItemMeta: meta}
	if body := n.ChildByFieldName("body"); body != nil {
		m.IsInline = true
		m.Items, m.InnerAttributes, m.InnerDocs = l.lowerItems(body)
	}
	return m
}

func (l *lowerer) lowerForeignMod(n *sitter.Node) []Item {
	abi := ""
	if ext := childOfType(n, "extern_modifier"); ext != nil {
		abi = l.text(childOfType(ext, "string_literal"))
	}
	items, _, _ := l.lowerItems(n.ChildByFieldName("body"))
	for _, it := range items {
		if f, ok := it.(*Function); ok {
			f.IsExtern = true
			f.ABI = abi
		}
	}
	return items
}

func (l *lowerer) lowerUse(n *sitter.Node, meta ItemMeta) *Use {
	meta.Visibility = l.visibility(n)
	u := &Use{ItemMeta: meta, Raw: l.text(n)}
	if arg := n.ChildByFieldName("argument"); arg != nil {
		u.Trees = l.expandUse(arg, nil)
	}
	return u
}

// expandUse flattens a use tree into its leaves.
func (l *lowerer) expandUse(n *sitter.Node, prefix []string) []UseTree {
	join := func(segs []string) []string {
		out := make([]string, 0, len(prefix)+len(segs))
		out = append(out, prefix...)
		return append(out, segs...)
	}
	switch n.Type() {
	case "use_as_clause":
		return []UseTree{{
			Path:  join(splitPath(l.text(n.ChildByFieldName("path")))),
			Alias: l.text(n.ChildByFieldName("alias")),
		}}
	case "use_list":
		var out []UseTree
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "line_comment" || c.Type() == "block_comment" {
				continue
			}
			out = append(out, l.expandUse(c, prefix)...)
		}
		return out
	case "scoped_use_list":
		next := join(splitPath(l.text(n.ChildByFieldName("path"))))
		if list := n.ChildByFieldName("list"); list != nil {
			return l.expandUse(list, next)
		}
		return nil
	case "use_wildcard":
		var segs []string
		if p := n.NamedChild(0); p != nil {
			segs = splitPath(l.text(p))
		}
		return []UseTree{{Path: join(segs), IsGlob: true}}
	default:
		segs := splitPath(l.text(n))
		if len(segs) == 1 && segs[0] == "self" && len(prefix) > 0 {
			return []UseTree{{Path: join(nil)}}
		}
		return []UseTree{{Path: join(segs)}}
	}
}

// visibility returns the normalized visibility_modifier of n, or "".
func (l *lowerer) visibility(n *sitter.Node) string {
	return normalizeVisibility(l.text(childOfType(n, "visibility_modifier")))
}

func normalizeVisibility(s string) string {
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), "")
	return strings.Replace(s, "(in", "(in ", 1)
}

func splitPath(s string) []string {
	var out []string
	for _, seg := range strings.Split(strings.Join(strings.Fields(s), ""), "::") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// stripDelimiters removes one matching outer (), [] or {} pair.
func stripDelimiters(s string) string {
	if len(s) < 2 {
		return s
	}
	open, close := s[0], s[len(s)-1]
	if (open == '(' && close == ')') || (open == '[' && close == ']') || (open == '{' && close == '}') {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// parseAttribute splits the text of #[...] or #![...] into path, group
// arguments and name-value right-hand side.
func parseAttribute(raw string, inner bool) Attribute {
	a := Attribute{Raw: raw, Inner: inner}
	body := raw
	if i := strings.IndexByte(body, '['); i >= 0 {
		body = body[i+1:]
	}
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "]"))

	end := 0
	for end < len(body) {
		c := body[end]
		if c == ':' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	a.Path = body[:end]
	rest := strings.TrimSpace(body[end:])
	switch {
	case rest == "":
	case rest[0] == '=':
		a.HasValue = true
		a.Value = strings.TrimSpace(rest[1:])
	default:
		a.HasArgs = true
		a.Args = stripDelimiters(rest)
	}
	return a
}

// docAttributeText returns the unquoted string of #[doc = "..."].
func docAttributeText(a Attribute) string {
	if !a.HasValue {
		return ""
	}
	if s, err := strconv.Unquote(a.Value); err == nil {
		return strings.TrimPrefix(s, " ")
	}
	return strings.Trim(a.Value, "\"")
}

// docComment recognizes ///, //!, /** */ and /*! */ comments and returns
// their lines with markers stripped.
func docComment(raw string) (lines []string, inner bool, ok bool) {
	raw = strings.TrimRight(raw, "\r\n")
	switch {
	case strings.HasPrefix(raw, "////"):
		return nil, false, false
	case strings.HasPrefix(raw, "///"):
		return []string{trimOneSpace(raw[3:])}, false, true
	case strings.HasPrefix(raw, "//!"):
		return []string{trimOneSpace(raw[3:])}, true, true
	case strings.HasPrefix(raw, "/**/"), strings.HasPrefix(raw, "/***"):
		return nil, false, false
	case strings.HasPrefix(raw, "/**"):
		return blockDocLines(raw[3:]), false, true
	case strings.HasPrefix(raw, "/*!"):
		return blockDocLines(raw[3:]), true, true
	}
	return nil, false, false
}

func blockDocLines(body string) []string {
	body = strings.TrimSuffix(body, "*/")
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "*")
		lines = append(lines, trimOneSpace(line))
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trimOneSpace(s string) string {
	return strings.TrimPrefix(strings.TrimRight(s, "\r"), " ")
}
