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
	"log/slog"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// processGenerics normalizes a generic clause owned by owner.
//
// Description:
//
//	Type parameters intern their bounds (lifetime bounds as named lifetime
//	types) and resolve their default. Lifetime parameters keep their
//	bounds as raw names. Const parameters intern their value type. A where
//	predicate whose left side is a bare declared type parameter adds its
//	bounds to that parameter; other predicates are ignored. Every
//	parameter emits a generic_parameter relation from owner.
//
// Inputs:
//
//	owner - The declaration the clause belongs to, a node or a trait.
//	g - The lowered clause.
//
// Outputs:
//
//	[]GenericParamNode - One entry per parameter in declaration order.
func (s *buildState) processGenerics(owner GraphID, g ast.Generics) []GenericParamNode {
	if len(g.Params) == 0 {
		return nil
	}
	params := make([]GenericParamNode, 0, len(g.Params))
	byName := make(map[string]int, len(g.Params))

	for _, p := range g.Params {
		node := GenericParamNode{ID: s.alloc.NextNodeID(), Name: p.Name}
		switch p.Kind {
		case ast.GenericType:
			node.Kind = GenericParamType
			for _, b := range p.Bounds {
				node.Bounds = append(node.Bounds, s.types.Bound(b))
			}
			for _, lt := range p.LifetimeBounds {
				node.Bounds = append(node.Bounds, s.types.Lifetime(lt))
			}
			if p.Default != nil {
				def := s.resolveType(p.Default, "generic default of "+p.Name)
				node.Default = &def
			}
			byName[p.Name] = len(params)
		case ast.GenericLifetime:
			node.Kind = GenericParamLifetime
			node.LifetimeBounds = append([]string(nil), p.LifetimeBounds...)
		case ast.GenericConst:
			node.Kind = GenericParamConst
			ct := s.resolveType(p.ConstType, "const generic "+p.Name)
			node.ConstType = &ct
		}
		params = append(params, node)
	}

	for _, pred := range g.Where {
		name := bareParamName(pred.Bounded)
		i, ok := byName[name]
		if !ok {
			s.logger.Debug("where predicate not bound to a type parameter",
				slog.String("bounded", pred.Bounded.String()))
			continue
		}
		for _, b := range pred.Bounds {
			params[i].Bounds = append(params[i].Bounds, s.types.Bound(b))
		}
		for _, lt := range pred.LifetimeBounds {
			params[i].Bounds = append(params[i].Bounds, s.types.Lifetime(lt))
		}
	}

	for _, p := range params {
		s.relate(owner, p.ID.GraphID(), RelGenericParameter)
	}
	return params
}

// bareParamName returns the name of a single-segment path without
// arguments, or "".
func bareParamName(t *ast.TypeExpr) string {
	if t == nil || t.Kind != ast.TypePath || t.QSelf != nil || t.Global || len(t.Segments) != 1 {
		return ""
	}
	seg := t.Segments[0]
	if len(seg.Args) > 0 || seg.IsFnSugar {
		return ""
	}
	return seg.Name
}
