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

func convertShape(s ast.FieldShape) FieldShape {
	switch s {
	case ast.ShapeNamed:
		return ShapeNamed
	case ast.ShapeTuple:
		return ShapeTuple
	default:
		return ShapeUnit
	}
}

// buildFields creates field nodes owned by owner, emitting field_of and
// has_type per field. Positional fields are named by ordinal.
func (s *buildState) buildFields(owner NodeID, ownerName string, fields []ast.Field) []FieldNode {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldNode, 0, len(fields))
	for i, f := range fields {
		name := f.Name
		positional := name == ""
		if positional {
			name = strconv.Itoa(i)
		}
		node := FieldNode{
			ID:         s.alloc.NextNodeID(),
			Name:       name,
			Positional: positional,
			TypeID:     s.resolveType(f.Type, "field "+ownerName+"."+name),
			Visibility: s.resolveVisibility(f.Visibility),
			Attributes: convertAttributes(f.Attributes),
			Docs:       joinDocs(f.Docs),
		}
		s.relate(owner.GraphID(), node.ID.GraphID(), RelFieldOf)
		s.relate(node.ID.GraphID(), node.TypeID.GraphID(), RelHasType)
		out = append(out, node)
	}
	return out
}

// defineSelfType emits type_definition from a declaration to the named
// type of its own name.
func (s *buildState) defineSelfType(id NodeID, name string) {
	s.relate(id.GraphID(), s.types.Named(name).GraphID(), RelTypeDefinition)
}

func (s *buildState) buildStruct(st *ast.Struct) TypeDefNode {
	id := s.alloc.NextNodeID()
	node := &StructNode{
		ID:         id,
		Name:       st.Name,
		Visibility: s.resolveVisibility(st.Visibility),
		Shape:      convertShape(st.Shape),
		Attributes: convertAttributes(st.Attributes),
		Docs:       joinDocs(st.Docs),
	}
	node.Generics = s.processGenerics(id.GraphID(), st.Generics)
	node.Fields = s.buildFields(id, st.Name, st.Fields)
	s.defineSelfType(id, st.Name)
	return TypeDefNode{Kind: TypeDefStruct, Struct: node}
}

func (s *buildState) buildUnion(u *ast.Union) TypeDefNode {
	id := s.alloc.NextNodeID()
	node := &UnionNode{
		ID:         id,
		Name:       u.Name,
		Visibility: s.resolveVisibility(u.Visibility),
		Attributes: convertAttributes(u.Attributes),
		Docs:       joinDocs(u.Docs),
	}
	node.Generics = s.processGenerics(id.GraphID(), u.Generics)
	node.Fields = s.buildFields(id, u.Name, u.Fields)
	s.defineSelfType(id, u.Name)
	return TypeDefNode{Kind: TypeDefUnion, Union: node}
}

// buildEnum creates the enum and its variants. Variant fields are owned by
// the variant; the discriminant is kept as raw text.
func (s *buildState) buildEnum(e *ast.Enum) TypeDefNode {
	id := s.alloc.NextNodeID()
	node := &EnumNode{
		ID:         id,
		Name:       e.Name,
		Visibility: s.resolveVisibility(e.Visibility),
		Attributes: convertAttributes(e.Attributes),
		Docs:       joinDocs(e.Docs),
	}
	node.Generics = s.processGenerics(id.GraphID(), e.Generics)
	for _, v := range e.Variants {
		vid := s.alloc.NextNodeID()
		variant := VariantNode{
			ID:           vid,
			Name:         v.Name,
			Shape:        convertShape(v.Shape),
			Discriminant: strings.TrimSpace(v.Discriminant),
			Attributes:   convertAttributes(v.Attributes),
			Docs:         joinDocs(v.Docs),
		}
		s.relate(id.GraphID(), vid.GraphID(), RelVariantOf)
		variant.Fields = s.buildFields(vid, e.Name+"::"+v.Name, v.Fields)
		node.Variants = append(node.Variants, variant)
	}
	s.defineSelfType(id, e.Name)
	return TypeDefNode{Kind: TypeDefEnum, Enum: node}
}

func (s *buildState) buildTypeAlias(t *ast.TypeAlias) TypeDefNode {
	id := s.alloc.NextNodeID()
	node := &TypeAliasNode{
		ID:         id,
		Name:       t.Name,
		Visibility: s.resolveVisibility(t.Visibility),
		Attributes: convertAttributes(t.Attributes),
		Docs:       joinDocs(t.Docs),
	}
	node.Generics = s.processGenerics(id.GraphID(), t.Generics)
	node.TypeID = s.resolveType(t.Type, "alias "+t.Name)
	s.relate(id.GraphID(), node.TypeID.GraphID(), RelTypeDefinition)
	return TypeDefNode{Kind: TypeDefTypeAlias, TypeAlias: node}
}

// buildValue creates a const or static node with its value_type relation.
func (s *buildState) buildValue(meta *ast.ItemMeta, typ *ast.TypeExpr, value string, kind ValueKind, mutable bool) ValueNode {
	v := ValueNode{
		ID:         s.alloc.NextNodeID(),
		Name:       meta.Name,
		Visibility: s.resolveVisibility(meta.Visibility),
		Kind:       kind,
		IsMutable:  mutable,
		Value:      strings.TrimSpace(value),
		Attributes: convertAttributes(meta.Attributes),
		Docs:       joinDocs(meta.Docs),
	}
	v.TypeID = s.resolveType(typ, string(kind)+" "+meta.Name)
	s.relate(v.ID.GraphID(), v.TypeID.GraphID(), RelValueType)
	return v
}
