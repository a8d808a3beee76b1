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
	"sort"
	"strconv"
	"strings"
)

// SymbolKind is the declaration kind of a Symbol.
type SymbolKind string

const (
	SymbolModule    SymbolKind = "module"
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolStruct    SymbolKind = "struct"
	SymbolEnum      SymbolKind = "enum"
	SymbolUnion     SymbolKind = "union"
	SymbolTypeAlias SymbolKind = "type_alias"
	SymbolTrait     SymbolKind = "trait"
	SymbolImpl      SymbolKind = "impl"
	SymbolConst     SymbolKind = "const"
	SymbolStatic    SymbolKind = "static"
	SymbolMacro     SymbolKind = "macro"
)

// Symbol is a named declaration with the path it is reachable under.
//
// QualifiedName joins the enclosing module path and the name with "::".
// Methods are qualified by their impl self type or trait name. Signature
// is a one-line rendering that changes whenever the declaration's shape
// does, and is what snapshot diffs compare.
type Symbol struct {
	ID            GraphID    `json:"id"`
	Kind          SymbolKind `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Signature     string     `json:"signature"`
	Visibility    Visibility `json:"visibility"`
	Docs          string     `json:"docs,omitempty"`
}

// Symbols lists every named declaration in g, sorted by qualified name
// then kind. The root module is omitted.
//
// Thread Safety: Safe for concurrent use on a finished graph.
func Symbols(g *CodeGraph) []Symbol {
	if g == nil {
		return nil
	}

	parent := make(map[GraphID][]string)
	for _, m := range g.Modules {
		for _, item := range m.Items {
			parent[item] = m.Path
		}
		for _, sub := range m.Submodules {
			parent[sub.GraphID()] = m.Path
		}
	}
	qualify := func(id GraphID, name string) string {
		return joinQualified(parent[id], name)
	}

	var out []Symbol
	add := func(s Symbol) { out = append(out, s) }

	for i, m := range g.Modules {
		if i == 0 {
			continue
		}
		add(Symbol{
			ID:            m.ID.GraphID(),
			Kind:          SymbolModule,
			Name:          m.Name,
			QualifiedName: strings.Join(m.Path, "::"),
			Signature:     joinNonEmpty(m.Visibility.String(), "mod", strings.Join(m.Path, "::")),
			Visibility:    m.Visibility,
			Docs:          m.Docs,
		})
	}

	for _, f := range g.Functions {
		q := qualify(f.ID.GraphID(), f.Name)
		add(Symbol{
			ID:            f.ID.GraphID(),
			Kind:          SymbolFunction,
			Name:          f.Name,
			QualifiedName: q,
			Signature:     functionSignature(g, &f, q),
			Visibility:    f.Visibility,
			Docs:          f.Docs,
		})
	}

	for _, d := range g.DefinedTypes {
		id := d.ID().GraphID()
		q := qualify(id, d.Name())
		s := Symbol{ID: id, Name: d.Name(), QualifiedName: q, Visibility: d.Visibility()}
		switch d.Kind {
		case TypeDefStruct:
			s.Kind, s.Docs = SymbolStruct, d.Struct.Docs
			s.Signature = joinNonEmpty(d.Visibility().String(), "struct", q+genericsText(d.Struct.Generics)) + fieldsText(g, d.Struct.Shape, d.Struct.Fields)
		case TypeDefEnum:
			s.Kind, s.Docs = SymbolEnum, d.Enum.Docs
			variants := make([]string, 0, len(d.Enum.Variants))
			for _, v := range d.Enum.Variants {
				variants = append(variants, v.Name+fieldsText(g, v.Shape, v.Fields))
			}
			s.Signature = joinNonEmpty(d.Visibility().String(), "enum", q+genericsText(d.Enum.Generics)) + " { " + strings.Join(variants, ", ") + " }"
		case TypeDefUnion:
			s.Kind, s.Docs = SymbolUnion, d.Union.Docs
			s.Signature = joinNonEmpty(d.Visibility().String(), "union", q+genericsText(d.Union.Generics)) + fieldsText(g, ShapeNamed, d.Union.Fields)
		case TypeDefTypeAlias:
			s.Kind, s.Docs = SymbolTypeAlias, d.TypeAlias.Docs
			s.Signature = joinNonEmpty(d.Visibility().String(), "type", q+genericsText(d.TypeAlias.Generics)) + " = " + g.TypeText(d.TypeAlias.TypeID)
		}
		add(s)
	}

	traits := append(append([]TraitNode(nil), g.Traits...), g.PrivateTraits...)
	for _, t := range traits {
		q := qualify(t.ID.GraphID(), t.Name)
		sig := joinNonEmpty(t.Visibility.String(), "trait", q+genericsText(t.Generics))
		if len(t.SuperTraits) > 0 {
			supers := make([]string, 0, len(t.SuperTraits))
			for _, st := range t.SuperTraits {
				supers = append(supers, g.TypeText(st))
			}
			sig += ": " + strings.Join(supers, " + ")
		}
		add(Symbol{
			ID:            t.ID.GraphID(),
			Kind:          SymbolTrait,
			Name:          t.Name,
			QualifiedName: q,
			Signature:     sig,
			Visibility:    t.Visibility,
			Docs:          t.Docs,
		})
		for _, m := range t.Methods {
			mq := q + "::" + m.Name
			add(Symbol{
				ID:            m.ID.GraphID(),
				Kind:          SymbolMethod,
				Name:          m.Name,
				QualifiedName: mq,
				Signature:     functionSignature(g, &m, mq),
				Visibility:    t.Visibility,
				Docs:          m.Docs,
			})
		}
	}

	for _, im := range g.Impls {
		selfText := g.TypeText(im.SelfType)
		name := "impl " + selfText
		if im.Trait != nil {
			name = "impl " + g.TypeText(im.Trait.Type) + " for " + selfText
		}
		add(Symbol{
			ID:            im.ID.GraphID(),
			Kind:          SymbolImpl,
			Name:          name,
			QualifiedName: qualify(im.ID.GraphID(), name),
			Signature:     name,
			Visibility:    Visibility{Kind: VisibilityInherited},
		})
		prefix := joinQualified(parent[im.ID.GraphID()], selfText)
		for _, m := range im.Methods {
			mq := prefix + "::" + m.Name
			add(Symbol{
				ID:            m.ID.GraphID(),
				Kind:          SymbolMethod,
				Name:          m.Name,
				QualifiedName: mq,
				Signature:     functionSignature(g, &m, mq),
				Visibility:    m.Visibility,
				Docs:          m.Docs,
			})
		}
	}

	for _, v := range g.Values {
		q := qualify(v.ID.GraphID(), v.Name)
		kind, keyword := SymbolConst, "const"
		if v.Kind == ValueStatic {
			kind, keyword = SymbolStatic, "static"
			if v.IsMutable {
				keyword = "static mut"
			}
		}
		add(Symbol{
			ID:            v.ID.GraphID(),
			Kind:          kind,
			Name:          v.Name,
			QualifiedName: q,
			Signature:     joinNonEmpty(v.Visibility.String(), keyword, q) + ": " + g.TypeText(v.TypeID),
			Visibility:    v.Visibility,
			Docs:          v.Docs,
		})
	}

	for _, m := range g.Macros {
		q := qualify(m.ID.GraphID(), m.Name)
		sig := joinNonEmpty(m.Visibility.String(), "macro", q)
		if m.Kind == MacroProcedural {
			sig += " (" + string(m.ProcKind) + ")"
		} else {
			sig += " (" + pluralRules(len(m.Rules)) + ")"
		}
		add(Symbol{
			ID:            m.ID.GraphID(),
			Kind:          SymbolMacro,
			Name:          m.Name,
			QualifiedName: q,
			Signature:     sig,
			Visibility:    m.Visibility,
			Docs:          m.Docs,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualifiedName != out[j].QualifiedName {
			return out[i].QualifiedName < out[j].QualifiedName
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func functionSignature(g *CodeGraph, f *FunctionNode, qualified string) string {
	var b strings.Builder
	b.WriteString(joinNonEmpty(
		f.Visibility.String(),
		flag(f.IsConst, "const"),
		flag(f.IsAsync, "async"),
		flag(f.IsUnsafe, "unsafe"),
		flag(f.ABI != "", `extern "`+f.ABI+`"`),
		"fn",
		qualified+genericsText(f.Generics),
	))
	b.WriteByte('(')
	for i, p := range f.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case p.IsSelf:
			b.WriteString(receiverText(g, p.TypeID))
		case p.Name != "":
			b.WriteString(p.Name + ": " + g.TypeText(p.TypeID))
		default:
			b.WriteString(g.TypeText(p.TypeID))
		}
	}
	b.WriteByte(')')
	if f.ReturnType != nil {
		b.WriteString(" -> " + g.TypeText(*f.ReturnType))
	}
	return b.String()
}

// receiverText renders the receiver form, such as "&mut Self", kept as
// the first related type of the Self entry.
func receiverText(g *CodeGraph, id TypeID) string {
	if t, ok := g.Type(id); ok && len(t.Related) > 0 {
		return g.TypeText(t.Related[0])
	}
	return g.TypeText(id)
}

func fieldsText(g *CodeGraph, shape FieldShape, fields []FieldNode) string {
	switch shape {
	case ShapeTuple:
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, g.TypeText(f.TypeID))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ShapeNamed:
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Name+": "+g.TypeText(f.TypeID))
		}
		return " { " + strings.Join(parts, ", ") + " }"
	}
	return ""
}

func genericsText(params []GenericParamNode) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for _, p := range params {
		switch p.Kind {
		case GenericParamLifetime:
			names = append(names, "'"+p.Name)
		case GenericParamConst:
			names = append(names, "const "+p.Name)
		default:
			names = append(names, p.Name)
		}
	}
	return "<" + strings.Join(names, ", ") + ">"
}

func joinQualified(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, "::") + "::" + name
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func flag(on bool, s string) string {
	if on {
		return s
	}
	return ""
}

func pluralRules(n int) string {
	if n == 1 {
		return "1 rule"
	}
	return strconv.Itoa(n) + " rules"
}
