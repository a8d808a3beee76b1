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

// TypeKind is the shape of a type-table entry.
type TypeKind int

const (
	TypeKindNamed TypeKind = iota
	TypeKindReference
	TypeKindSlice
	TypeKindArray
	TypeKindTuple
	TypeKindFunction
	TypeKindNever
	TypeKindInferred
	TypeKindRawPointer
	TypeKindTraitObject
	TypeKindImplTrait
	TypeKindParen
	TypeKindMacro
	TypeKindUnknown
)

var typeKindNames = [...]string{
	TypeKindNamed:       "named",
	TypeKindReference:   "reference",
	TypeKindSlice:       "slice",
	TypeKindArray:       "array",
	TypeKindTuple:       "tuple",
	TypeKindFunction:    "function",
	TypeKindNever:       "never",
	TypeKindInferred:    "inferred",
	TypeKindRawPointer:  "raw_pointer",
	TypeKindTraitObject: "trait_object",
	TypeKindImplTrait:   "impl_trait",
	TypeKindParen:       "paren",
	TypeKindMacro:       "macro",
	TypeKindUnknown:     "unknown",
}

// String returns the snake_case kind name.
func (k TypeKind) String() string {
	if k >= 0 && int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "unknown"
}

// MarshalText encodes the kind name.
func (k TypeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *TypeKind) UnmarshalText(b []byte) error {
	for i, name := range typeKindNames {
		if name == string(b) {
			*k = TypeKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown type kind %q", b)
}

// TypeNode is one entry of the shared type table.
//
// Related holds, depending on Kind: generic arguments (named), the
// referent (reference, raw pointer, paren), the element (slice, array),
// the elements (tuple), parameters then return (function), or the bounds
// (trait object, impl trait).
type TypeNode struct {
	ID   TypeID   `json:"id"`
	Kind TypeKind `json:"kind"`

	// Text is the canonical rendering used as the interning key.
	Text string `json:"text"`

	Path             []string `json:"path,omitempty"`
	IsFullyQualified bool     `json:"is_fully_qualified,omitempty"`
	Lifetime         string   `json:"lifetime,omitempty"`
	IsMutable        bool     `json:"is_mutable,omitempty"`
	Size             string   `json:"size,omitempty"`
	IsUnsafe         bool     `json:"is_unsafe,omitempty"`
	IsExtern         bool     `json:"is_extern,omitempty"`
	ABI              string   `json:"abi,omitempty"`
	HasDyn           bool     `json:"has_dyn,omitempty"`
	MacroName        string   `json:"macro_name,omitempty"`
	MacroTokens      string   `json:"macro_tokens,omitempty"`
	Raw              string   `json:"raw,omitempty"`
	Related          []TypeID `json:"related,omitempty"`
}

// VisibilityKind is the declared accessibility of an item.
type VisibilityKind int

const (
	VisibilityInherited VisibilityKind = iota
	VisibilityPublic
	VisibilityCrate
	VisibilityRestricted
)

var visibilityNames = [...]string{
	VisibilityInherited:  "inherited",
	VisibilityPublic:     "public",
	VisibilityCrate:      "crate",
	VisibilityRestricted: "restricted",
}

// String returns the kind name.
func (k VisibilityKind) String() string {
	if k >= 0 && int(k) < len(visibilityNames) {
		return visibilityNames[k]
	}
	return "inherited"
}

// MarshalText encodes the kind name.
func (k VisibilityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *VisibilityKind) UnmarshalText(b []byte) error {
	for i, name := range visibilityNames {
		if name == string(b) {
			*k = VisibilityKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown visibility %q", b)
}

// Visibility is a resolved visibility. Path is set only for restricted.
type Visibility struct {
	Kind VisibilityKind `json:"kind"`
	Path []string       `json:"path,omitempty"`
}

// Public is the public visibility.
var Public = Visibility{Kind: VisibilityPublic}

// IsPublic reports whether v is public.
func (v Visibility) IsPublic() bool { return v.Kind == VisibilityPublic }

// String renders v the way Rust spells it; inherited renders empty.
func (v Visibility) String() string {
	switch v.Kind {
	case VisibilityPublic:
		return "pub"
	case VisibilityCrate:
		return "pub(crate)"
	case VisibilityRestricted:
		if len(v.Path) == 1 && (v.Path[0] == "self" || v.Path[0] == "super" || v.Path[0] == "crate") {
			return "pub(" + v.Path[0] + ")"
		}
		return "pub(in " + strings.Join(v.Path, "::") + ")"
	default:
		return ""
	}
}

// Attribute is a non-doc attribute in uniform form.
type Attribute struct {
	Name  string   `json:"name"`
	Args  []string `json:"args,omitempty"`
	Value string   `json:"value,omitempty"`
}

// GenericParamKind is the kind of a generic parameter.
type GenericParamKind int

const (
	GenericParamType GenericParamKind = iota
	GenericParamLifetime
	GenericParamConst
)

var genericParamNames = [...]string{
	GenericParamType:     "type",
	GenericParamLifetime: "lifetime",
	GenericParamConst:    "const",
}

// String returns the kind name.
func (k GenericParamKind) String() string {
	if k >= 0 && int(k) < len(genericParamNames) {
		return genericParamNames[k]
	}
	return "type"
}

// MarshalText encodes the kind name.
func (k GenericParamKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *GenericParamKind) UnmarshalText(b []byte) error {
	for i, name := range genericParamNames {
		if name == string(b) {
			*k = GenericParamKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown generic param kind %q", b)
}

// GenericParamNode is a normalized generic parameter.
//
//	type     Name, Bounds, Default
//	lifetime Name, LifetimeBounds (raw, unresolved)
//	const    Name, ConstType
type GenericParamNode struct {
	ID             NodeID           `json:"id"`
	Kind           GenericParamKind `json:"kind"`
	Name           string           `json:"name"`
	Bounds         []TypeID         `json:"bounds,omitempty"`
	Default        *TypeID          `json:"default,omitempty"`
	LifetimeBounds []string         `json:"lifetime_bounds,omitempty"`
	ConstType      *TypeID          `json:"const_type,omitempty"`
}
