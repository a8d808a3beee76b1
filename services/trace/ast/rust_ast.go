// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast lowers Rust source text into a typed declaration tree.
//
// The tree is deliberately shallow: it keeps every declaration, its
// signature, its generics and its attributes, and keeps expressions and
// bodies as raw text. The graph package consumes *File and never looks at
// source text itself.
package ast

import "strings"

// ItemKind identifies the declaration kind of an Item.
type ItemKind int

const (
	ItemFunction ItemKind = iota
	ItemStruct
	ItemEnum
	ItemUnion
	ItemTypeAlias
	ItemTrait
	ItemImpl
	ItemModule
	ItemUse
	ItemExternCrate
	ItemConst
	ItemStatic
	ItemMacroRules
	ItemMacroCall
)

var itemKindNames = [...]string{
	ItemFunction:    "function",
	ItemStruct:      "struct",
	ItemEnum:        "enum",
	ItemUnion:       "union",
	ItemTypeAlias:   "type_alias",
	ItemTrait:       "trait",
	ItemImpl:        "impl",
	ItemModule:      "module",
	ItemUse:         "use",
	ItemExternCrate: "extern_crate",
	ItemConst:       "const",
	ItemStatic:      "static",
	ItemMacroRules:  "macro_rules",
	ItemMacroCall:   "macro_call",
}

// String returns the snake_case name of the kind.
func (k ItemKind) String() string {
	if k >= 0 && int(k) < len(itemKindNames) {
		return itemKindNames[k]
	}
	return "unknown"
}

// Item is one top-level or module-level declaration.
type Item interface {
	Kind() ItemKind
	Meta() *ItemMeta
}

// Location is a 1-based line span in the source file.
type Location struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// ItemMeta holds what every declaration has in common.
type ItemMeta struct {
	// Name is the declared identifier. Empty for impls and use statements.
	Name string

	// Visibility is the raw visibility token as written, e.g. "pub",
	// "pub(crate)", "pub(in crate::a)". Empty means no token.
	Visibility string

	// Attributes are the outer attributes in source order, docs included.
	Attributes []Attribute

	// Docs are outer doc comment lines with the comment marker stripped.
	Docs []string

	Location Location
}

// Attribute is one #[...] or #![...] attribute.
type Attribute struct {
	// Path is the attribute path, e.g. "derive", "serde", "cfg_attr".
	Path string

	// Args is the raw text inside the delimiter group, without the
	// delimiters. Empty when the attribute has no group.
	Args string

	// HasArgs distinguishes #[a()] from #[a].
	HasArgs bool

	// Value is the raw right-hand side of #[path = value].
	Value string

	// HasValue distinguishes #[a = ""] from #[a].
	HasValue bool

	Inner bool
	Raw   string
}

// IsDoc reports whether the attribute is a doc attribute.
func (a Attribute) IsDoc() bool {
	return a.Path == "doc"
}

// Generics is a declaration's generic parameter clause plus its where clause.
type Generics struct {
	Params []GenericParam
	Where  []WherePredicate
}

// IsEmpty reports whether no parameters and no predicates are present.
func (g Generics) IsEmpty() bool {
	return len(g.Params) == 0 && len(g.Where) == 0
}

// GenericParamKind is the kind of a generic parameter.
type GenericParamKind int

const (
	GenericType GenericParamKind = iota
	GenericLifetime
	GenericConst
)

// GenericParam is a single generic parameter.
type GenericParam struct {
	Kind GenericParamKind

	// Name excludes the leading apostrophe for lifetimes.
	Name string

	// Bounds are the trait bounds of a type parameter.
	Bounds []*TypeExpr

	// LifetimeBounds are lifetime names (with apostrophe) bounding a type
	// parameter or a lifetime parameter.
	LifetimeBounds []string

	// Default is the default type of a type parameter.
	Default *TypeExpr

	// ConstType is the value type of a const parameter.
	ConstType *TypeExpr

	// ConstDefault is the raw default expression of a const parameter.
	ConstDefault string
}

// WherePredicate is one `Bounded: Bound + Bound` entry of a where clause.
type WherePredicate struct {
	Bounded        *TypeExpr
	Bounds         []*TypeExpr
	LifetimeBounds []string
}

// Function is a free function, a method, or a trait method signature.
type Function struct {
	ItemMeta
	Generics   Generics
	Receiver   *Receiver
	Params     []Param
	Return     *TypeExpr
	IsAsync    bool
	IsConst    bool
	IsUnsafe   bool
	IsExtern   bool
	ABI        string
	HasBody    bool
	Body       string
	MacroCalls []*MacroCall
}

// Kind implements Item.
func (*Function) Kind() ItemKind { return ItemFunction }

// Meta implements Item.
func (f *Function) Meta() *ItemMeta { return &f.ItemMeta }

// Receiver is the self parameter of a method.
type Receiver struct {
	// IsReference is true for &self and &mut self.
	IsReference bool

	// IsMutable is true for mut self and &mut self.
	IsMutable bool

	Lifetime string

	// Explicit is the declared type of a `self: T` receiver.
	Explicit *TypeExpr
}

// Param is one non-receiver function parameter.
type Param struct {
	// Name is the bound identifier for simple patterns, empty otherwise.
	Name      string
	Pattern   string
	IsMutable bool
	Type      *TypeExpr
}

// FieldShape is how a struct, union or variant declares its fields.
type FieldShape int

const (
	ShapeNamed FieldShape = iota
	ShapeTuple
	ShapeUnit
)

// String returns the shape name.
func (s FieldShape) String() string {
	switch s {
	case ShapeNamed:
		return "named"
	case ShapeTuple:
		return "tuple"
	default:
		return "unit"
	}
}

// Field is a named or positional field.
type Field struct {
	// Name is empty for positional fields.
	Name       string
	Visibility string
	Attributes []Attribute
	Docs       []string
	Type       *TypeExpr
}

// Struct is a struct declaration.
type Struct struct {
	ItemMeta
	Generics Generics
	Shape    FieldShape
	Fields   []Field
}

// Kind implements Item.
func (*Struct) Kind() ItemKind { return ItemStruct }

// Meta implements Item.
func (s *Struct) Meta() *ItemMeta { return &s.ItemMeta }

// Variant is an enum variant.
type Variant struct {
	Name         string
	Attributes   []Attribute
	Docs         []string
	Shape        FieldShape
	Fields       []Field
	Discriminant string
}

// Enum is an enum declaration.
type Enum struct {
	ItemMeta
	Generics Generics
	Variants []Variant
}

// Kind implements Item.
func (*Enum) Kind() ItemKind { return ItemEnum }

// Meta implements Item.
func (e *Enum) Meta() *ItemMeta { return &e.ItemMeta }

// Union is a union declaration.
type Union struct {
	ItemMeta
	Generics Generics
	Fields   []Field
}

// Kind implements Item.
func (*Union) Kind() ItemKind { return ItemUnion }

// Meta implements Item.
func (u *Union) Meta() *ItemMeta { return &u.ItemMeta }

// TypeAlias is `type Name<..> = T;`.
type TypeAlias struct {
	ItemMeta
	Generics Generics
	Type     *TypeExpr
}

// Kind implements Item.
func (*TypeAlias) Kind() ItemKind { return ItemTypeAlias }

// Meta implements Item.
func (t *TypeAlias) Meta() *ItemMeta { return &t.ItemMeta }

// Trait is a trait declaration.
type Trait struct {
	ItemMeta
	Generics        Generics
	SuperTraits     []*TypeExpr
	SuperLifetimes  []string
	Methods         []*Function
	AssociatedTypes []string
	IsUnsafe        bool
	IsAuto          bool
}

// Kind implements Item.
func (*Trait) Kind() ItemKind { return ItemTrait }

// Meta implements Item.
func (t *Trait) Meta() *ItemMeta { return &t.ItemMeta }

// Impl is an inherent or trait implementation block.
type Impl struct {
	ItemMeta
	Generics   Generics
	SelfType   *TypeExpr
	Trait      *TypeExpr
	IsNegative bool
	IsUnsafe   bool
	Methods    []*Function
}

// Kind implements Item.
func (*Impl) Kind() ItemKind { return ItemImpl }

// Meta implements Item.
func (i *Impl) Meta() *ItemMeta { return &i.ItemMeta }

// Module is `mod name { ... }` or `mod name;`.
type Module struct {
	ItemMeta

	// IsInline is false for `mod name;`, whose items live in another file.
	IsInline        bool
	Items           []Item
	InnerAttributes []Attribute
	InnerDocs       []string
}

// Kind implements Item.
func (*Module) Kind() ItemKind { return ItemModule }

// Meta implements Item.
func (m *Module) Meta() *ItemMeta { return &m.ItemMeta }

// UseTree is one leaf of an expanded use declaration.
type UseTree struct {
	Path   []string
	Alias  string
	IsGlob bool
}

// Use is a use declaration, expanded into its leaves.
type Use struct {
	ItemMeta
	Trees []UseTree
	Raw   string
}

// Kind implements Item.
func (*Use) Kind() ItemKind { return ItemUse }

// Meta implements Item.
func (u *Use) Meta() *ItemMeta { return &u.ItemMeta }

// ExternCrate is `extern crate name [as alias];`.
type ExternCrate struct {
	ItemMeta
	Alias string
}

// Kind implements Item.
func (*ExternCrate) Kind() ItemKind { return ItemExternCrate }

// Meta implements Item.
func (e *ExternCrate) Meta() *ItemMeta { return &e.ItemMeta }

// Const is a const item.
type Const struct {
	ItemMeta
	Type  *TypeExpr
	Value string
}

// Kind implements Item.
func (*Const) Kind() ItemKind { return ItemConst }

// Meta implements Item.
func (c *Const) Meta() *ItemMeta { return &c.ItemMeta }

// Static is a static item.
type Static struct {
	ItemMeta
	Type      *TypeExpr
	Value     string
	IsMutable bool
}

// Kind implements Item.
func (*Static) Kind() ItemKind { return ItemStatic }

// Meta implements Item.
func (s *Static) Meta() *ItemMeta { return &s.ItemMeta }

// MacroRules is a macro_rules! definition.
type MacroRules struct {
	ItemMeta

	// Body is the text between the outermost delimiters.
	Body string
}

// Kind implements Item.
func (*MacroRules) Kind() ItemKind { return ItemMacroRules }

// Meta implements Item.
func (m *MacroRules) Meta() *ItemMeta { return &m.ItemMeta }

// MacroCall is a macro invocation in item or expression position.
type MacroCall struct {
	ItemMeta

	// Path is the macro path as written, e.g. "std::println".
	Path string

	// Tokens is the raw token tree including its delimiters.
	Tokens string
}

// Kind implements Item.
func (*MacroCall) Kind() ItemKind { return ItemMacroCall }

// Meta implements Item.
func (m *MacroCall) Meta() *ItemMeta { return &m.ItemMeta }

// File is one lowered source file.
type File struct {
	Path            string
	Hash            string
	Items           []Item
	InnerAttributes []Attribute
	InnerDocs       []string
	ParsedAtMilli   int64

	// Errors lists syntax problems found in non-strict mode.
	Errors []string
}

// CountItems returns the number of items in the file, modules included,
// recursing into inline modules.
func (f *File) CountItems() int {
	return countItems(f.Items)
}

func countItems(items []Item) int {
	n := 0
	for _, it := range items {
		n++
		if m, ok := it.(*Module); ok {
			n += countItems(m.Items)
		}
	}
	return n
}

// LastSegment returns the part of a `::` separated path after the last
// separator.
func LastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}
