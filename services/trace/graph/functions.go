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
	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// functionContext carries what the enclosing declaration imposes on a
// function.
type functionContext struct {
	// forcePublic makes the function Public regardless of its token, as
	// for trait methods and trait impl methods.
	forcePublic bool

	// implSelf is the self type of the enclosing impl, if any.
	implSelf *TypeID
}

// buildFunction creates a function or method node.
//
// Description:
//
//	Emits parameter_of per parameter (receiver included) and returns when
//	a return type is declared. Macro calls in the body become invocation
//	nodes parented by the function. A function marked proc_macro,
//	proc_macro_derive or proc_macro_attribute also yields a procedural
//	MacroNode and a macro_definition relation.
func (s *buildState) buildFunction(f *ast.Function, fc functionContext) FunctionNode {
	id := s.alloc.NextNodeID()
	vis := s.resolveVisibility(f.Visibility)
	if fc.forcePublic {
		vis = Public
	}
	fn := FunctionNode{
		ID:         id,
		Name:       f.Name,
		Visibility: vis,
		Attributes: convertAttributes(f.Attributes),
		Docs:       joinDocs(f.Docs),
		Body:       f.Body,
		IsAsync:    f.IsAsync,
		IsConst:    f.IsConst,
		IsUnsafe:   f.IsUnsafe,
		ABI:        f.ABI,
	}
	fn.Generics = s.processGenerics(id.GraphID(), f.Generics)

	if f.Receiver != nil {
		p := s.buildReceiver(f.Receiver, fc.implSelf)
		fn.Parameters = append(fn.Parameters, p)
		s.relate(id.GraphID(), p.TypeID.GraphID(), RelParameterOf)
	}
	for _, param := range f.Params {
		p := ParameterNode{
			ID:        s.alloc.NextNodeID(),
			Name:      param.Name,
			TypeID:    s.resolveType(param.Type, "parameter "+param.Pattern+" of "+f.Name),
			IsMutable: param.IsMutable,
		}
		fn.Parameters = append(fn.Parameters, p)
		s.relate(id.GraphID(), p.TypeID.GraphID(), RelParameterOf)
	}
	if f.Return != nil {
		rt := s.resolveType(f.Return, "return of "+f.Name)
		fn.ReturnType = &rt
		s.relate(id.GraphID(), rt.GraphID(), RelReturns)
	}

	for _, call := range f.MacroCalls {
		s.buildMacroCall(call, id)
	}

	if kind, ok := procMacroKind(f.Attributes); ok {
		m := MacroNode{
			ID:         s.alloc.NextNodeID(),
			Name:       f.Name,
			Visibility: vis,
			Kind:       MacroProcedural,
			ProcKind:   kind,
			Body:       f.Body,
			Attributes: fn.Attributes,
			Docs:       fn.Docs,
		}
		s.graph.Macros = append(s.graph.Macros, m)
		s.relate(id.GraphID(), m.ID.GraphID(), RelMacroDefinition)
	}
	return fn
}

// buildReceiver turns a self parameter into a ParameterNode named "self"
// whose type is the dedicated Self entry.
func (s *buildState) buildReceiver(r *ast.Receiver, implSelf *TypeID) ParameterNode {
	var form *ast.TypeExpr
	switch {
	case r.Explicit != nil:
		form = r.Explicit
	case r.IsReference:
		form = &ast.TypeExpr{
			Kind:      ast.TypeReference,
			Lifetime:  r.Lifetime,
			IsMutable: r.IsMutable,
			Elem:      ast.PathType("Self"),
		}
	default:
		form = ast.PathType("Self")
	}
	formID := s.resolveType(form, "receiver")
	return ParameterNode{
		ID:        s.alloc.NextNodeID(),
		Name:      "self",
		TypeID:    s.types.internSelf(formID, implSelf),
		IsMutable: r.IsMutable,
		IsSelf:    true,
	}
}

// procMacroKind reports the procedural macro flavor declared by attrs.
func procMacroKind(attrs []ast.Attribute) (ProcMacroKind, bool) {
	switch {
	case hasAttribute(attrs, "proc_macro_derive"):
		return ProcMacroDerive, true
	case hasAttribute(attrs, "proc_macro_attribute"):
		return ProcMacroAttribute, true
	case hasAttribute(attrs, "proc_macro"):
		return ProcMacroFunction, true
	}
	return "", false
}
