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
	"errors"
)

// ValidateGraph checks a finished graph and returns every finding.
//
// Description:
//
//	Runs Relation.Validate on each relation, then checks that endpoints
//	exist (missing_required_id), that module containment is acyclic
//	(circular_dependency), that generic_parameter targets are generic
//	parameters (generic_constraint_violation) and that every
//	implements_trait relation is backed by an impl of that trait for that
//	type (invalid_implementation_pairing). Validation is advisory; the
//	graph is not modified.
//
// Outputs:
//
//	[]*RelationError - Findings in relation order, nil for a valid graph.
//
// Thread Safety: Safe for concurrent use on a finished graph.
func ValidateGraph(g *CodeGraph) []*RelationError {
	if g == nil {
		return nil
	}
	ix := g.index()

	pairs := make(map[[2]int]bool)
	for _, im := range g.Impls {
		if im.Trait != nil && im.Trait.Decl != nil {
			pairs[[2]int{int(im.SelfType), int(*im.Trait.Decl)}] = true
		}
	}

	var errs []*RelationError
	for _, r := range g.Relations {
		if err := r.Validate(); err != nil {
			var re *RelationError
			if errors.As(err, &re) {
				errs = append(errs, re)
			}
			continue
		}
		if !ix.has(r.Source) || !ix.has(r.Target) {
			errs = append(errs, &RelationError{
				Code: RelationMissingID, Kind: r.Kind, Source: r.Source, Target: r.Target,
				Detail: "endpoint not present in graph",
			})
			continue
		}
		switch r.Kind {
		case RelGenericParameter:
			if target, _ := r.Target.NodeID(); !ix.genericParams[target] {
				errs = append(errs, &RelationError{
					Code: RelationGenericConstraint, Kind: r.Kind, Source: r.Source, Target: r.Target,
					Detail: "target is not a generic parameter",
				})
			}
		case RelImplementsTrait:
			if !pairs[[2]int{r.Source.Value, r.Target.Value}] {
				errs = append(errs, &RelationError{
					Code: RelationImplPairing, Kind: r.Kind, Source: r.Source, Target: r.Target,
					Detail: "no impl of this trait for this type",
				})
			}
		}
	}
	errs = append(errs, containmentCycles(g, ix)...)
	recordValidationMetrics(errs)
	return errs
}

// containmentCycles reports one circular_dependency per contains relation
// that closes a cycle among modules.
func containmentCycles(g *CodeGraph, ix idIndex) []*RelationError {
	children := make(map[NodeID][]NodeID)
	var order []NodeID
	for _, r := range g.Relations {
		if r.Kind != RelContains {
			continue
		}
		src, ok1 := r.Source.NodeID()
		dst, ok2 := r.Target.NodeID()
		if !ok1 || !ok2 || ix.nodes[src] != "module" || ix.nodes[dst] != "module" {
			continue
		}
		if _, seen := children[src]; !seen {
			order = append(order, src)
		}
		children[src] = append(children[src], dst)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int)
	var errs []*RelationError
	var visit func(n NodeID)
	visit = func(n NodeID) {
		color[n] = grey
		for _, c := range children[n] {
			switch color[c] {
			case grey:
				errs = append(errs, &RelationError{
					Code: RelationCircular, Kind: RelContains, Source: n.GraphID(), Target: c.GraphID(),
					Detail: "module containment cycle",
				})
			case white:
				visit(c)
			}
		}
		color[n] = black
	}
	for _, n := range order {
		if color[n] == white {
			visit(n)
		}
	}
	return errs
}
