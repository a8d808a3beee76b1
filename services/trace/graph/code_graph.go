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

// CodeGraph is the result of analyzing one file. Collections are in
// creation order and are never reordered.
type CodeGraph struct {
	SourcePath string `json:"source_path"`
	SourceHash string `json:"source_hash"`

	Functions        []FunctionNode        `json:"functions"`
	DefinedTypes     []TypeDefNode         `json:"defined_types"`
	TypeGraph        []TypeNode            `json:"type_graph"`
	Impls            []ImplNode            `json:"impls"`
	Traits           []TraitNode           `json:"traits"`
	PrivateTraits    []TraitNode           `json:"private_traits"`
	Relations        []Relation            `json:"relations"`
	Modules          []ModuleNode          `json:"modules"`
	Values           []ValueNode           `json:"values"`
	Macros           []MacroNode           `json:"macros"`
	MacroInvocations []MacroInvocationNode `json:"macro_invocations"`
	Imports          []ImportNode          `json:"imports"`
}

// NewCodeGraph returns an empty graph with non-nil collections, so that
// persisted documents always carry every collection.
func NewCodeGraph(sourcePath, sourceHash string) *CodeGraph {
	return &CodeGraph{
		SourcePath:       sourcePath,
		SourceHash:       sourceHash,
		Functions:        []FunctionNode{},
		DefinedTypes:     []TypeDefNode{},
		TypeGraph:        []TypeNode{},
		Impls:            []ImplNode{},
		Traits:           []TraitNode{},
		PrivateTraits:    []TraitNode{},
		Relations:        []Relation{},
		Modules:          []ModuleNode{},
		Values:           []ValueNode{},
		Macros:           []MacroNode{},
		MacroInvocations: []MacroInvocationNode{},
		Imports:          []ImportNode{},
	}
}

// Root returns the synthetic root module, or nil for an empty graph.
func (g *CodeGraph) Root() *ModuleNode {
	if len(g.Modules) == 0 {
		return nil
	}
	return &g.Modules[0]
}

// Type returns the type-table entry for id.
func (g *CodeGraph) Type(id TypeID) (*TypeNode, bool) {
	i := int(id)
	if i < 0 || i >= len(g.TypeGraph) || g.TypeGraph[i].ID != id {
		for j := range g.TypeGraph {
			if g.TypeGraph[j].ID == id {
				return &g.TypeGraph[j], true
			}
		}
		return nil, false
	}
	return &g.TypeGraph[i], true
}

// TypeText returns the canonical text of id, or "" when unknown.
func (g *CodeGraph) TypeText(id TypeID) string {
	if t, ok := g.Type(id); ok {
		return t.Text
	}
	return ""
}

// FindFunction returns the first free function with the given name.
func (g *CodeGraph) FindFunction(name string) (*FunctionNode, bool) {
	for i := range g.Functions {
		if g.Functions[i].Name == name {
			return &g.Functions[i], true
		}
	}
	return nil, false
}

// FindModule returns the first module with the given name.
func (g *CodeGraph) FindModule(name string) (*ModuleNode, bool) {
	for i := range g.Modules {
		if g.Modules[i].Name == name {
			return &g.Modules[i], true
		}
	}
	return nil, false
}

// FindTypeDef returns the first type definition with the given name.
func (g *CodeGraph) FindTypeDef(name string) (*TypeDefNode, bool) {
	for i := range g.DefinedTypes {
		if g.DefinedTypes[i].Name() == name {
			return &g.DefinedTypes[i], true
		}
	}
	return nil, false
}

// FindTrait searches public then private traits by name.
func (g *CodeGraph) FindTrait(name string) (*TraitNode, bool) {
	for i := range g.Traits {
		if g.Traits[i].Name == name {
			return &g.Traits[i], true
		}
	}
	for i := range g.PrivateTraits {
		if g.PrivateTraits[i].Name == name {
			return &g.PrivateTraits[i], true
		}
	}
	return nil, false
}

// FindMacro returns the first recorded macro with the given name.
func (g *CodeGraph) FindMacro(name string) (*MacroNode, bool) {
	for i := range g.Macros {
		if g.Macros[i].Name == name {
			return &g.Macros[i], true
		}
	}
	return nil, false
}

// RelationsOfKind returns the relations of one kind in creation order.
func (g *CodeGraph) RelationsOfKind(kind RelationKind) []Relation {
	var out []Relation
	for _, r := range g.Relations {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// RelationsFrom returns the relations whose source is id.
func (g *CodeGraph) RelationsFrom(id GraphID) []Relation {
	var out []Relation
	for _, r := range g.Relations {
		if r.Source == id {
			out = append(out, r)
		}
	}
	return out
}

// GraphStats summarizes a graph.
type GraphStats struct {
	Functions        int                  `json:"functions"`
	Methods          int                  `json:"methods"`
	DefinedTypes     int                  `json:"defined_types"`
	Types            int                  `json:"types"`
	Impls            int                  `json:"impls"`
	Traits           int                  `json:"traits"`
	PrivateTraits    int                  `json:"private_traits"`
	Modules          int                  `json:"modules"`
	Values           int                  `json:"values"`
	Macros           int                  `json:"macros"`
	MacroInvocations int                  `json:"macro_invocations"`
	Imports          int                  `json:"imports"`
	Relations        int                  `json:"relations"`
	RelationsByKind  map[RelationKind]int `json:"relations_by_kind"`
}

// Stats counts every collection and every relation kind.
func (g *CodeGraph) Stats() GraphStats {
	s := GraphStats{
		Functions:        len(g.Functions),
		DefinedTypes:     len(g.DefinedTypes),
		Types:            len(g.TypeGraph),
		Impls:            len(g.Impls),
		Traits:           len(g.Traits),
		PrivateTraits:    len(g.PrivateTraits),
		Modules:          len(g.Modules),
		Values:           len(g.Values),
		Macros:           len(g.Macros),
		MacroInvocations: len(g.MacroInvocations),
		Imports:          len(g.Imports),
		Relations:        len(g.Relations),
		RelationsByKind:  make(map[RelationKind]int),
	}
	for _, im := range g.Impls {
		s.Methods += len(im.Methods)
	}
	for _, t := range g.Traits {
		s.Methods += len(t.Methods)
	}
	for _, t := range g.PrivateTraits {
		s.Methods += len(t.Methods)
	}
	for _, r := range g.Relations {
		s.RelationsByKind[r.Kind]++
	}
	return s
}

// idIndex records which ids exist in a graph and what they are.
type idIndex struct {
	nodes         map[NodeID]string
	types         map[TypeID]bool
	traits        map[TraitID]bool
	genericParams map[NodeID]bool
}

// index walks every collection, nested nodes included.
func (g *CodeGraph) index() idIndex {
	ix := idIndex{
		nodes:         make(map[NodeID]string),
		types:         make(map[TypeID]bool, len(g.TypeGraph)),
		traits:        make(map[TraitID]bool),
		genericParams: make(map[NodeID]bool),
	}
	addGenerics := func(gs []GenericParamNode) {
		for _, p := range gs {
			ix.nodes[p.ID] = "generic_param"
			ix.genericParams[p.ID] = true
		}
	}
	addFunction := func(f FunctionNode) {
		ix.nodes[f.ID] = "function"
		for _, p := range f.Parameters {
			ix.nodes[p.ID] = "parameter"
		}
		addGenerics(f.Generics)
	}
	addFields := func(fs []FieldNode) {
		for _, f := range fs {
			ix.nodes[f.ID] = "field"
		}
	}

	for _, t := range g.TypeGraph {
		ix.types[t.ID] = true
	}
	for _, f := range g.Functions {
		addFunction(f)
	}
	for _, d := range g.DefinedTypes {
		switch d.Kind {
		case TypeDefStruct:
			ix.nodes[d.Struct.ID] = "struct"
			addFields(d.Struct.Fields)
			addGenerics(d.Struct.Generics)
		case TypeDefEnum:
			ix.nodes[d.Enum.ID] = "enum"
			for _, v := range d.Enum.Variants {
				ix.nodes[v.ID] = "variant"
				addFields(v.Fields)
			}
			addGenerics(d.Enum.Generics)
		case TypeDefUnion:
			ix.nodes[d.Union.ID] = "union"
			addFields(d.Union.Fields)
			addGenerics(d.Union.Generics)
		case TypeDefTypeAlias:
			ix.nodes[d.TypeAlias.ID] = "type_alias"
			addGenerics(d.TypeAlias.Generics)
		}
	}
	for _, im := range g.Impls {
		ix.nodes[im.ID] = "impl"
		for _, m := range im.Methods {
			addFunction(m)
		}
		addGenerics(im.Generics)
	}
	for _, list := range [][]TraitNode{g.Traits, g.PrivateTraits} {
		for _, t := range list {
			ix.traits[t.ID] = true
			for _, m := range t.Methods {
				addFunction(m)
			}
			addGenerics(t.Generics)
		}
	}
	for _, m := range g.Modules {
		ix.nodes[m.ID] = "module"
	}
	for _, v := range g.Values {
		ix.nodes[v.ID] = "value"
	}
	for _, m := range g.Macros {
		ix.nodes[m.ID] = "macro"
		for _, r := range m.Rules {
			ix.nodes[r.ID] = "macro_rule"
		}
	}
	for _, inv := range g.MacroInvocations {
		ix.nodes[inv.ID] = "macro_invocation"
	}
	for _, imp := range g.Imports {
		ix.nodes[imp.ID] = "import"
	}
	return ix
}

func (ix idIndex) has(id GraphID) bool {
	switch id.Kind {
	case IDKindNode:
		_, ok := ix.nodes[NodeID(id.Value)]
		return ok
	case IDKindType:
		return ix.types[TypeID(id.Value)]
	case IDKindTrait:
		return ix.traits[TraitID(id.Value)]
	}
	return false
}
