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
	"fmt"
	"strings"
)

// RelationKind is the type of a directed relation.
type RelationKind string

const (
	RelParameterOf      RelationKind = "parameter_of"
	RelReturns          RelationKind = "returns"
	RelFieldOf          RelationKind = "field_of"
	RelVariantOf        RelationKind = "variant_of"
	RelImplementsSelf   RelationKind = "implements_self"
	RelImplementsTrait  RelationKind = "implements_trait"
	RelInherits         RelationKind = "inherits"
	RelReferences       RelationKind = "references"
	RelContains         RelationKind = "contains"
	RelTypeDefinition   RelationKind = "type_definition"
	RelUses             RelationKind = "uses"
	RelValueType        RelationKind = "value_type"
	RelMacroUse         RelationKind = "macro_use"
	RelMacroExpansion   RelationKind = "macro_expansion"
	RelMacroDefinition  RelationKind = "macro_definition"
	RelMacroInvocation  RelationKind = "macro_invocation"
	RelGenericParameter RelationKind = "generic_parameter"
	RelHasType          RelationKind = "has_type"
)

// AllRelationKinds lists every kind in declaration order.
var AllRelationKinds = []RelationKind{
	RelParameterOf, RelReturns, RelFieldOf, RelVariantOf,
	RelImplementsSelf, RelImplementsTrait, RelInherits, RelReferences,
	RelContains, RelTypeDefinition, RelUses, RelValueType,
	RelMacroUse, RelMacroExpansion, RelMacroDefinition, RelMacroInvocation,
	RelGenericParameter, RelHasType,
}

// endpointRule is the set of tags a kind accepts on each side.
type endpointRule struct {
	source []IDKind
	target []IDKind
	// noSelfLoop rejects Source == Target.
	noSelfLoop bool
}

var (
	onlyNode  = []IDKind{IDKindNode}
	onlyType  = []IDKind{IDKindType}
	onlyTrait = []IDKind{IDKindTrait}
)

var relationRules = map[RelationKind]endpointRule{
	RelParameterOf:      {source: onlyNode, target: onlyType},
	RelReturns:          {source: onlyNode, target: onlyType},
	RelHasType:          {source: onlyNode, target: onlyType},
	RelValueType:        {source: onlyNode, target: onlyType},
	RelTypeDefinition:   {source: onlyNode, target: onlyType},
	RelUses:             {source: onlyNode, target: onlyType},
	RelImplementsSelf:   {source: onlyNode, target: onlyType},
	RelFieldOf:          {source: onlyNode, target: onlyNode},
	RelVariantOf:        {source: onlyNode, target: onlyNode},
	RelMacroUse:         {source: onlyNode, target: onlyNode},
	RelMacroExpansion:   {source: onlyNode, target: onlyNode},
	RelMacroDefinition:  {source: onlyNode, target: onlyNode},
	RelMacroInvocation:  {source: onlyNode, target: onlyNode},
	RelImplementsTrait:  {source: onlyType, target: onlyTrait},
	RelInherits:         {source: onlyTrait, target: []IDKind{IDKindTrait, IDKindType}, noSelfLoop: true},
	RelContains:         {source: onlyNode, target: []IDKind{IDKindNode, IDKindTrait}, noSelfLoop: true},
	RelReferences:       {source: onlyNode, target: []IDKind{IDKindNode, IDKindTrait}},
	RelGenericParameter: {source: []IDKind{IDKindNode, IDKindTrait}, target: onlyNode},
}

// Relation is a typed, directed edge between two graph entities.
type Relation struct {
	Source GraphID      `json:"source"`
	Target GraphID      `json:"target"`
	Kind   RelationKind `json:"kind"`
}

// NewRelation builds a relation. It does not validate; forward references
// are legal while a build is in progress.
func NewRelation(source, target GraphID, kind RelationKind) Relation {
	return Relation{Source: source, Target: target, Kind: kind}
}

// String renders "source -kind-> target".
func (r Relation) String() string {
	return fmt.Sprintf("%s -%s-> %s", r.Source, r.Kind, r.Target)
}

// Validate checks the endpoint tags against the kind and rejects an
// immediate self-loop for containment and inheritance.
//
// Outputs:
//   - error: nil, or a *RelationError
func (r Relation) Validate() error {
	rule, ok := relationRules[r.Kind]
	if !ok {
		return &RelationError{Code: RelationInvalidSource, Kind: r.Kind, Source: r.Source, Target: r.Target,
			Detail: "unknown relation kind"}
	}
	if !r.Source.IsValid() || !r.Target.IsValid() {
		return &RelationError{Code: RelationMissingID, Kind: r.Kind, Source: r.Source, Target: r.Target}
	}
	if !containsKind(rule.source, r.Source.Kind) {
		return &RelationError{Code: RelationInvalidSource, Kind: r.Kind, Source: r.Source, Target: r.Target,
			Detail: "expected " + kindList(rule.source) + ", found " + r.Source.Kind.String()}
	}
	if !containsKind(rule.target, r.Target.Kind) {
		return &RelationError{Code: RelationInvalidTarget, Kind: r.Kind, Source: r.Source, Target: r.Target,
			Detail: "expected " + kindList(rule.target) + ", found " + r.Target.Kind.String()}
	}
	if rule.noSelfLoop && r.Source == r.Target {
		return &RelationError{Code: RelationCircular, Kind: r.Kind, Source: r.Source, Target: r.Target,
			Detail: "self-loop"}
	}
	return nil
}

func containsKind(kinds []IDKind, k IDKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func kindList(kinds []IDKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, " or ")
}

// RelationErrorCode classifies a validation failure.
type RelationErrorCode string

const (
	RelationInvalidSource     RelationErrorCode = "invalid_source_type"
	RelationInvalidTarget     RelationErrorCode = "invalid_target_type"
	RelationMissingID         RelationErrorCode = "missing_required_id"
	RelationCircular          RelationErrorCode = "circular_dependency"
	RelationGenericConstraint RelationErrorCode = "generic_constraint_violation"
	RelationImplPairing       RelationErrorCode = "invalid_implementation_pairing"
)

// RelationError is a relation validation failure, reported as data.
type RelationError struct {
	Code   RelationErrorCode `json:"code"`
	Kind   RelationKind      `json:"kind"`
	Source GraphID           `json:"source"`
	Target GraphID           `json:"target"`
	Detail string            `json:"detail,omitempty"`
}

// Error implements error.
func (e *RelationError) Error() string {
	msg := fmt.Sprintf("%s: %s relation %s -> %s", e.Code, e.Kind, e.Source, e.Target)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the sentinel matching Code.
func (e *RelationError) Unwrap() error {
	switch e.Code {
	case RelationInvalidSource:
		return ErrInvalidSourceType
	case RelationInvalidTarget:
		return ErrInvalidTargetType
	case RelationMissingID:
		return ErrMissingRequiredID
	case RelationCircular:
		return ErrCircularDependency
	case RelationGenericConstraint:
		return ErrGenericConstraintViolation
	case RelationImplPairing:
		return ErrInvalidImplementationPairing
	}
	return nil
}
