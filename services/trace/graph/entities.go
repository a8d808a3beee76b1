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

import "sort"

// Entity is one addressable element of a graph, flattened for export.
//
// Every relation endpoint of a valid graph is an Entity. Declarations
// carry the qualified name and signature of their Symbol; nested nodes
// such as parameters and fields carry only their local name.
type Entity struct {
	ID            GraphID `json:"id"`
	Kind          string  `json:"kind"`
	Name          string  `json:"name,omitempty"`
	QualifiedName string  `json:"qualified_name,omitempty"`
	Signature     string  `json:"signature,omitempty"`
	Visibility    string  `json:"visibility,omitempty"`
}

// Entities lists every node, type and trait of g ordered by id space and
// value.
func Entities(g *CodeGraph) []Entity {
	if g == nil {
		return nil
	}
	syms := make(map[GraphID]Symbol)
	for _, s := range Symbols(g) {
		syms[s.ID] = s
	}

	var out []Entity
	add := func(id GraphID, kind, name string) {
		e := Entity{ID: id, Kind: kind, Name: name}
		if s, ok := syms[id]; ok {
			e.Kind = string(s.Kind)
			e.Name = s.Name
			e.QualifiedName = s.QualifiedName
			e.Signature = s.Signature
			e.Visibility = s.Visibility.String()
		}
		out = append(out, e)
	}
	generics := func(gs []GenericParamNode) {
		for _, p := range gs {
			add(p.ID.GraphID(), "generic_param", p.Name)
		}
	}
	function := func(f FunctionNode) {
		add(f.ID.GraphID(), "function", f.Name)
		for _, p := range f.Parameters {
			add(p.ID.GraphID(), "parameter", p.Name)
		}
		generics(f.Generics)
	}
	fields := func(fs []FieldNode) {
		for _, f := range fs {
			add(f.ID.GraphID(), "field", f.Name)
		}
	}

	for _, f := range g.Functions {
		function(f)
	}
	for _, d := range g.DefinedTypes {
		switch d.Kind {
		case TypeDefStruct:
			add(d.Struct.ID.GraphID(), "struct", d.Struct.Name)
			fields(d.Struct.Fields)
			generics(d.Struct.Generics)
		case TypeDefEnum:
			add(d.Enum.ID.GraphID(), "enum", d.Enum.Name)
			for _, v := range d.Enum.Variants {
				add(v.ID.GraphID(), "variant", v.Name)
				fields(v.Fields)
			}
			generics(d.Enum.Generics)
		case TypeDefUnion:
			add(d.Union.ID.GraphID(), "union", d.Union.Name)
			fields(d.Union.Fields)
			generics(d.Union.Generics)
		case TypeDefTypeAlias:
			add(d.TypeAlias.ID.GraphID(), "type_alias", d.TypeAlias.Name)
			generics(d.TypeAlias.Generics)
		}
	}
	for _, im := range g.Impls {
		add(im.ID.GraphID(), "impl", "")
		for _, m := range im.Methods {
			function(m)
		}
		generics(im.Generics)
	}
	for _, list := range [][]TraitNode{g.Traits, g.PrivateTraits} {
		for _, t := range list {
			add(t.ID.GraphID(), "trait", t.Name)
			for _, m := range t.Methods {
				function(m)
			}
			generics(t.Generics)
		}
	}
	for _, m := range g.Modules {
		add(m.ID.GraphID(), "module", m.Name)
	}
	for _, v := range g.Values {
		add(v.ID.GraphID(), "value", v.Name)
	}
	for _, m := range g.Macros {
		add(m.ID.GraphID(), "macro", m.Name)
		for _, r := range m.Rules {
			add(r.ID.GraphID(), "macro_rule", "")
		}
	}
	for _, inv := range g.MacroInvocations {
		add(inv.ID.GraphID(), "macro_invocation", inv.Name)
	}
	for _, imp := range g.Imports {
		add(imp.ID.GraphID(), "import", imp.Name())
	}
	for _, t := range g.TypeGraph {
		add(t.ID.GraphID(), "type", t.Text)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Value < b.Value
	})
	return out
}
