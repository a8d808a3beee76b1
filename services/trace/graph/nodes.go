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

import "fmt"

// FunctionNode is a free function, a method, or a trait method signature.
type FunctionNode struct {
	ID         NodeID             `json:"id"`
	Name       string             `json:"name"`
	Visibility Visibility         `json:"visibility"`
	Parameters []ParameterNode    `json:"parameters"`
	ReturnType *TypeID            `json:"return_type,omitempty"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	Docs       string             `json:"docs,omitempty"`
	Body       string             `json:"body,omitempty"`
	IsAsync    bool               `json:"is_async,omitempty"`
	IsConst    bool               `json:"is_const,omitempty"`
	IsUnsafe   bool               `json:"is_unsafe,omitempty"`
	ABI        string             `json:"abi,omitempty"`
}

// ParameterNode is one function parameter; the receiver has IsSelf set.
type ParameterNode struct {
	ID        NodeID `json:"id"`
	Name      string `json:"name,omitempty"`
	TypeID    TypeID `json:"type_id"`
	IsMutable bool   `json:"is_mutable,omitempty"`
	IsSelf    bool   `json:"is_self,omitempty"`
}

// FieldShape is how a struct, union or variant declares its fields.
type FieldShape string

const (
	ShapeNamed FieldShape = "named"
	ShapeTuple FieldShape = "tuple"
	ShapeUnit  FieldShape = "unit"
)

// FieldNode is a struct, union or variant field. Positional fields carry
// their ordinal as Name.
type FieldNode struct {
	ID         NodeID      `json:"id"`
	Name       string      `json:"name"`
	Positional bool        `json:"positional,omitempty"`
	TypeID     TypeID      `json:"type_id"`
	Visibility Visibility  `json:"visibility"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Docs       string      `json:"docs,omitempty"`
}

// VariantNode is an enum variant.
type VariantNode struct {
	ID           NodeID      `json:"id"`
	Name         string      `json:"name"`
	Shape        FieldShape  `json:"shape"`
	Fields       []FieldNode `json:"fields,omitempty"`
	Discriminant string      `json:"discriminant,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
	Docs         string      `json:"docs,omitempty"`
}

// StructNode is a struct declaration.
type StructNode struct {
	ID         NodeID             `json:"id"`
	Name       string             `json:"name"`
	Visibility Visibility         `json:"visibility"`
	Shape      FieldShape         `json:"shape"`
	Fields     []FieldNode        `json:"fields,omitempty"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	Docs       string             `json:"docs,omitempty"`
}

// EnumNode is an enum declaration.
type EnumNode struct {
	ID         NodeID             `json:"id"`
	Name       string             `json:"name"`
	Visibility Visibility         `json:"visibility"`
	Variants   []VariantNode      `json:"variants,omitempty"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	Docs       string             `json:"docs,omitempty"`
}

// UnionNode is a union declaration.
type UnionNode struct {
	ID         NodeID             `json:"id"`
	Name       string             `json:"name"`
	Visibility Visibility         `json:"visibility"`
	Fields     []FieldNode        `json:"fields,omitempty"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	Docs       string             `json:"docs,omitempty"`
}

// TypeAliasNode is `type Name = T;`.
type TypeAliasNode struct {
	ID         NodeID             `json:"id"`
	Name       string             `json:"name"`
	Visibility Visibility         `json:"visibility"`
	TypeID     TypeID             `json:"type_id"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	Docs       string             `json:"docs,omitempty"`
}

// TypeDefKind tags a TypeDefNode.
type TypeDefKind string

const (
	TypeDefStruct    TypeDefKind = "struct"
	TypeDefEnum      TypeDefKind = "enum"
	TypeDefUnion     TypeDefKind = "union"
	TypeDefTypeAlias TypeDefKind = "type_alias"
)

// TypeDefNode is the tagged union of type definitions. Exactly the member
// named by Kind is non-nil.
type TypeDefNode struct {
	Kind      TypeDefKind    `json:"kind"`
	Struct    *StructNode    `json:"struct,omitempty"`
	Enum      *EnumNode      `json:"enum,omitempty"`
	Union     *UnionNode     `json:"union,omitempty"`
	TypeAlias *TypeAliasNode `json:"type_alias,omitempty"`
}

// ID returns the node id of the populated member.
func (d TypeDefNode) ID() NodeID {
	switch d.Kind {
	case TypeDefStruct:
		return d.Struct.ID
	case TypeDefEnum:
		return d.Enum.ID
	case TypeDefUnion:
		return d.Union.ID
	default:
		return d.TypeAlias.ID
	}
}

// Name returns the declared name of the populated member.
func (d TypeDefNode) Name() string {
	switch d.Kind {
	case TypeDefStruct:
		return d.Struct.Name
	case TypeDefEnum:
		return d.Enum.Name
	case TypeDefUnion:
		return d.Union.Name
	default:
		return d.TypeAlias.Name
	}
}

// Visibility returns the visibility of the populated member.
func (d TypeDefNode) Visibility() Visibility {
	switch d.Kind {
	case TypeDefStruct:
		return d.Struct.Visibility
	case TypeDefEnum:
		return d.Enum.Visibility
	case TypeDefUnion:
		return d.Union.Visibility
	default:
		return d.TypeAlias.Visibility
	}
}

// Validate checks that exactly the tagged member is set.
func (d TypeDefNode) Validate() error {
	set := 0
	for _, ok := range []bool{d.Struct != nil, d.Enum != nil, d.Union != nil, d.TypeAlias != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("type definition %q has %d members set", d.Kind, set)
	}
	switch {
	case d.Kind == TypeDefStruct && d.Struct != nil,
		d.Kind == TypeDefEnum && d.Enum != nil,
		d.Kind == TypeDefUnion && d.Union != nil,
		d.Kind == TypeDefTypeAlias && d.TypeAlias != nil:
		return nil
	}
	return fmt.Errorf("type definition tagged %q has the wrong member set", d.Kind)
}

// TraitRef is the trait an impl implements. Decl is set when the trait is
// declared in the analyzed file.
type TraitRef struct {
	Path []string `json:"path"`
	Type TypeID   `json:"type_id"`
	Decl *TraitID `json:"decl,omitempty"`
}

// ImplNode is an implementation block. It has no visibility of its own.
type ImplNode struct {
	ID         NodeID             `json:"id"`
	SelfType   TypeID             `json:"self_type"`
	Trait      *TraitRef          `json:"trait,omitempty"`
	Methods    []FunctionNode     `json:"methods,omitempty"`
	Generics   []GenericParamNode `json:"generics,omitempty"`
	Attributes []Attribute        `json:"attributes,omitempty"`
	IsNegative bool               `json:"is_negative,omitempty"`
	IsUnsafe   bool               `json:"is_unsafe,omitempty"`
}

// TraitNode is a trait declaration.
type TraitNode struct {
	ID              TraitID            `json:"id"`
	Name            string             `json:"name"`
	Visibility      Visibility         `json:"visibility"`
	Methods         []FunctionNode     `json:"methods,omitempty"`
	Generics        []GenericParamNode `json:"generics,omitempty"`
	SuperTraits     []TypeID           `json:"super_traits,omitempty"`
	AssociatedTypes []string           `json:"associated_types,omitempty"`
	Attributes      []Attribute        `json:"attributes,omitempty"`
	Docs            string             `json:"docs,omitempty"`
	IsUnsafe        bool               `json:"is_unsafe,omitempty"`
	IsAuto          bool               `json:"is_auto,omitempty"`
}

// ModuleNode is a module, including the synthetic root.
type ModuleNode struct {
	ID         NodeID      `json:"id"`
	Name       string      `json:"name"`
	Path       []string    `json:"path"`
	Visibility Visibility  `json:"visibility"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Docs       string      `json:"docs,omitempty"`
	Submodules []NodeID    `json:"submodules,omitempty"`
	Items      []GraphID   `json:"items,omitempty"`
	Imports    []NodeID    `json:"imports,omitempty"`
	IsInline   bool        `json:"is_inline"`
}

// ValueKind distinguishes constants from statics.
type ValueKind string

const (
	ValueConstant ValueKind = "constant"
	ValueStatic   ValueKind = "static"
)

// ValueNode is a const or static item.
type ValueNode struct {
	ID         NodeID      `json:"id"`
	Name       string      `json:"name"`
	Visibility Visibility  `json:"visibility"`
	TypeID     TypeID      `json:"type_id"`
	Kind       ValueKind   `json:"kind"`
	IsMutable  bool        `json:"is_mutable,omitempty"`
	Value      string      `json:"value,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Docs       string      `json:"docs,omitempty"`
}

// MacroKind distinguishes macro_rules from procedural macros.
type MacroKind string

const (
	MacroDeclarative MacroKind = "declarative"
	MacroProcedural  MacroKind = "procedural"
)

// ProcMacroKind is the flavor of a procedural macro.
type ProcMacroKind string

const (
	ProcMacroDerive    ProcMacroKind = "derive"
	ProcMacroAttribute ProcMacroKind = "attribute"
	ProcMacroFunction  ProcMacroKind = "function"
)

// MacroRuleNode is one pattern => expansion arm of a macro_rules!.
type MacroRuleNode struct {
	ID        NodeID `json:"id"`
	Pattern   string `json:"pattern"`
	Expansion string `json:"expansion"`
}

// MacroNode is a recorded macro definition.
type MacroNode struct {
	ID         NodeID          `json:"id"`
	Name       string          `json:"name"`
	Visibility Visibility      `json:"visibility"`
	Kind       MacroKind       `json:"kind"`
	ProcKind   ProcMacroKind   `json:"proc_kind,omitempty"`
	Rules      []MacroRuleNode `json:"rules,omitempty"`
	Body       string          `json:"body,omitempty"`
	Attributes []Attribute     `json:"attributes,omitempty"`
	Docs       string          `json:"docs,omitempty"`
}

// MacroInvocationNode is a macro call site.
type MacroInvocationNode struct {
	ID       NodeID  `json:"id"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Tokens   string  `json:"tokens,omitempty"`
	Parent   NodeID  `json:"parent"`
	Resolved *NodeID `json:"resolved,omitempty"`
	Line     int     `json:"line,omitempty"`
}

// ImportKind distinguishes use declarations from extern crate items.
type ImportKind string

const (
	ImportUse         ImportKind = "use"
	ImportExternCrate ImportKind = "extern_crate"
)

// ImportNode is one leaf of a use tree or one extern crate.
type ImportNode struct {
	ID         NodeID      `json:"id"`
	Kind       ImportKind  `json:"kind"`
	Path       []string    `json:"path"`
	Alias      string      `json:"alias,omitempty"`
	IsGlob     bool        `json:"is_glob,omitempty"`
	Visibility Visibility  `json:"visibility"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Name is the local name the import binds: the alias, else the last
// path segment. Globs bind no single name and return "".
func (i ImportNode) Name() string {
	if i.Alias != "" {
		return i.Alias
	}
	if i.IsGlob || len(i.Path) == 0 {
		return ""
	}
	return i.Path[len(i.Path)-1]
}
