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
	"strconv"
	"strings"
)

// NodeID identifies a declaration-level node: functions, parameters,
// fields, variants, generic params, values, macros, imports, modules.
type NodeID int

// TypeID identifies an entry of the type table.
type TypeID int

// TraitID identifies a trait declaration.
type TraitID int

// IDKind tags which identifier space a GraphID value belongs to.
type IDKind int

const (
	// IDKindInvalid is the zero value and marks a missing endpoint.
	IDKindInvalid IDKind = iota
	IDKindNode
	IDKindType
	IDKindTrait
)

// String returns the tag name.
func (k IDKind) String() string {
	switch k {
	case IDKindNode:
		return "node"
	case IDKindType:
		return "type"
	case IDKindTrait:
		return "trait"
	default:
		return "invalid"
	}
}

// MarshalText encodes the tag name.
func (k IDKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a tag name.
func (k *IDKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "node":
		*k = IDKindNode
	case "type":
		*k = IDKindType
	case "trait":
		*k = IDKindTrait
	case "invalid", "":
		*k = IDKindInvalid
	default:
		return fmt.Errorf("unknown id kind %q", b)
	}
	return nil
}

// GraphID is the tagged identifier used by every relation endpoint.
type GraphID struct {
	Kind  IDKind `json:"kind" yaml:"kind"`
	Value int    `json:"value" yaml:"value"`
}

// GraphID tags n as a node identifier.
func (n NodeID) GraphID() GraphID { return GraphID{Kind: IDKindNode, Value: int(n)} }

// GraphID tags t as a type identifier.
func (t TypeID) GraphID() GraphID { return GraphID{Kind: IDKindType, Value: int(t)} }

// GraphID tags t as a trait identifier.
func (t TraitID) GraphID() GraphID { return GraphID{Kind: IDKindTrait, Value: int(t)} }

// IsValid reports whether the id carries a real tag.
func (g GraphID) IsValid() bool { return g.Kind != IDKindInvalid }

// NodeID returns the node value and whether the tag is node.
func (g GraphID) NodeID() (NodeID, bool) { return NodeID(g.Value), g.Kind == IDKindNode }

// TypeID returns the type value and whether the tag is type.
func (g GraphID) TypeID() (TypeID, bool) { return TypeID(g.Value), g.Kind == IDKindType }

// TraitID returns the trait value and whether the tag is trait.
func (g GraphID) TraitID() (TraitID, bool) { return TraitID(g.Value), g.Kind == IDKindTrait }

// String renders the id as "kind:value", e.g. "node:12".
func (g GraphID) String() string {
	return g.Kind.String() + ":" + strconv.Itoa(g.Value)
}

// ParseGraphID parses the output of GraphID.String.
func ParseGraphID(s string) (GraphID, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return GraphID{}, fmt.Errorf("malformed graph id %q", s)
	}
	var g GraphID
	if err := g.Kind.UnmarshalText([]byte(kind)); err != nil {
		return GraphID{}, err
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return GraphID{}, fmt.Errorf("malformed graph id %q: %w", s, err)
	}
	g.Value = v
	return g, nil
}

// IDAllocator hands out monotonically increasing ids per space, starting
// at zero. It is not safe for concurrent use; a build owns one allocator.
type IDAllocator struct {
	nextNode  int
	nextType  int
	nextTrait int
}

// NewIDAllocator returns an allocator with every counter at zero.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// NextNodeID returns a fresh NodeID.
func (a *IDAllocator) NextNodeID() NodeID {
	id := NodeID(a.nextNode)
	a.nextNode++
	return id
}

// NextTypeID returns a fresh TypeID.
func (a *IDAllocator) NextTypeID() TypeID {
	id := TypeID(a.nextType)
	a.nextType++
	return id
}

// NextTraitID returns a fresh TraitID.
func (a *IDAllocator) NextTraitID() TraitID {
	id := TraitID(a.nextTrait)
	a.nextTrait++
	return id
}

// IDCounts is how many ids each space has handed out.
type IDCounts struct {
	Nodes  int `json:"nodes" yaml:"nodes"`
	Types  int `json:"types" yaml:"types"`
	Traits int `json:"traits" yaml:"traits"`
}

// Counts reports how many ids were allocated so far.
func (a *IDAllocator) Counts() IDCounts {
	return IDCounts{Nodes: a.nextNode, Types: a.nextType, Traits: a.nextTrait}
}
