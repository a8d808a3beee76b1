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
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// parseSource lowers Rust source for a test.
func parseSource(t *testing.T, src string) *ast.File {
	t.Helper()
	file, err := ast.NewRustParser().Parse(context.Background(), []byte(src), "lib.rs")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return file
}

// buildSource parses and builds Rust source for a test.
func buildSource(t *testing.T, src string, opts ...BuilderOption) *BuildResult {
	t.Helper()
	result, err := NewBuilder(opts...).Build(context.Background(), parseSource(t, src))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return result
}

// hasRelation reports whether g holds a relation of kind between the ids.
func hasRelation(g *CodeGraph, source, target GraphID, kind RelationKind) bool {
	for _, r := range g.Relations {
		if r.Kind == kind && r.Source == source && r.Target == target {
			return true
		}
	}
	return false
}

func TestBuilder_NewBuilder(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		opts := NewBuilder().Options()
		if !opts.IncludePrivateItems {
			t.Error("expected IncludePrivateItems=true by default")
		}
		if opts.FreshBoundTypes {
			t.Error("expected FreshBoundTypes=false by default")
		}
		if len(opts.PrivateModuleMarkers) != 1 || opts.PrivateModuleMarkers[0] != DefaultPrivateModuleMarker {
			t.Errorf("expected default marker %q, got %v", DefaultPrivateModuleMarker, opts.PrivateModuleMarkers)
		}
		if opts.Logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("custom options", func(t *testing.T) {
		opts := NewBuilder(
			WithPrivateModuleMarkers("hidden", "internal"),
			WithIncludePrivateItems(false),
			WithFreshBoundTypes(true),
			WithValidateOnBuild(true),
		).Options()
		if len(opts.PrivateModuleMarkers) != 2 {
			t.Errorf("expected 2 markers, got %v", opts.PrivateModuleMarkers)
		}
		if opts.IncludePrivateItems || !opts.FreshBoundTypes || !opts.ValidateOnBuild {
			t.Errorf("options not applied: %+v", opts)
		}
	})
}

func TestBuilder_Build_NilFile(t *testing.T) {
	_, err := NewBuilder().Build(context.Background(), nil)
	if !errors.Is(err, ErrNilFile) {
		t.Fatalf("expected ErrNilFile, got %v", err)
	}
}

func TestBuilder_Build_EmptyFile(t *testing.T) {
	result := buildSource(t, "")
	g := result.Graph

	if len(g.Modules) != 1 {
		t.Fatalf("expected only the root module, got %d modules", len(g.Modules))
	}
	root := g.Root()
	if root.Name != RootModuleName || root.ID != 0 || len(root.Path) != 0 {
		t.Errorf("unexpected root module: %+v", root)
	}
	if root.Visibility.Kind != VisibilityInherited {
		t.Errorf("expected inherited root visibility, got %s", root.Visibility.Kind)
	}
	if len(g.Relations) != 0 {
		t.Errorf("expected no relations, got %d", len(g.Relations))
	}
}

func TestBuilder_Build_ScenarioFunction(t *testing.T) {
	g := buildSource(t, "pub fn f(x: i32) -> i32 { x }").Graph

	if len(g.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(g.Functions))
	}
	fn := g.Functions[0]
	if fn.Name != "f" || !fn.Visibility.IsPublic() {
		t.Errorf("expected public f, got %q %s", fn.Name, fn.Visibility)
	}
	if len(fn.Parameters) != 1 || fn.Parameters[0].Name != "x" {
		t.Fatalf("expected parameter x, got %+v", fn.Parameters)
	}
	param := fn.Parameters[0]
	if g.TypeText(param.TypeID) != "i32" {
		t.Errorf("expected i32 parameter, got %q", g.TypeText(param.TypeID))
	}
	if fn.ReturnType == nil || *fn.ReturnType != param.TypeID {
		t.Errorf("expected return type to share TypeID %d", param.TypeID)
	}
	if !hasRelation(g, fn.ID.GraphID(), param.TypeID.GraphID(), RelReturns) {
		t.Error("missing returns relation")
	}
	if !hasRelation(g, fn.ID.GraphID(), param.TypeID.GraphID(), RelParameterOf) {
		t.Error("missing parameter_of relation")
	}
	if typ, _ := g.Type(param.TypeID); typ.Kind != TypeKindNamed {
		t.Errorf("expected named type, got %s", typ.Kind)
	}
}

func TestBuilder_Build_ScenarioStructSharedFieldType(t *testing.T) {
	g := buildSource(t, "struct S { a: i32, a2: i32 }").Graph

	def, ok := g.FindTypeDef("S")
	if !ok || def.Kind != TypeDefStruct {
		t.Fatalf("expected struct S, got %+v", def)
	}
	fields := def.Struct.Fields
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].TypeID != fields[1].TypeID {
		t.Errorf("fields reference different TypeIDs: %d and %d", fields[0].TypeID, fields[1].TypeID)
	}

	i32s := 0
	for _, typ := range g.TypeGraph {
		if typ.Text == "i32" {
			i32s++
		}
	}
	if i32s != 1 {
		t.Errorf("expected one i32 entry, got %d", i32s)
	}
	if n := len(g.RelationsOfKind(RelFieldOf)); n != 2 {
		t.Errorf("expected 2 field_of relations, got %d", n)
	}
	if n := len(g.RelationsOfKind(RelHasType)); n != 2 {
		t.Errorf("expected 2 has_type relations, got %d", n)
	}
}

func TestBuilder_Build_ScenarioPrivateTraitImpl(t *testing.T) {
	result := buildSource(t, "trait T {}\nstruct S;\nimpl T for S {}")
	g := result.Graph

	if len(g.Impls) != 0 {
		t.Errorf("expected impl of private trait to be excluded, got %d impls", len(g.Impls))
	}
	if len(g.PrivateTraits) != 1 || g.PrivateTraits[0].Name != "T" {
		t.Errorf("expected T in private traits, got %+v", g.PrivateTraits)
	}
	if len(g.Traits) != 0 {
		t.Errorf("expected no public traits, got %d", len(g.Traits))
	}
	if result.Stats.FilteredImpls != 1 {
		t.Errorf("expected FilteredImpls=1, got %d", result.Stats.FilteredImpls)
	}
	if n := len(g.RelationsOfKind(RelImplementsSelf)); n != 0 {
		t.Errorf("excluded impl still emitted %d implements_self relations", n)
	}
}

func TestBuilder_Build_ScenarioInlineModule(t *testing.T) {
	g := buildSource(t, "mod inner { pub fn g() {} }").Graph

	inner, ok := g.FindModule("inner")
	if !ok {
		t.Fatal("module inner not found")
	}
	fn, ok := g.FindFunction("g")
	if !ok {
		t.Fatal("function g not found")
	}
	found := false
	for _, id := range inner.Items {
		if id == fn.ID.GraphID() {
			found = true
		}
	}
	if !found {
		t.Errorf("module inner items %v do not include g", inner.Items)
	}
	if !hasRelation(g, g.Root().ID.GraphID(), inner.ID.GraphID(), RelContains) {
		t.Error("missing contains relation from root to inner")
	}
	if !reflect.DeepEqual(inner.Path, []string{"inner"}) {
		t.Errorf("expected path [inner], got %v", inner.Path)
	}
	if len(g.Root().Submodules) != 1 || g.Root().Submodules[0] != inner.ID {
		t.Errorf("expected root submodules [%d], got %v", inner.ID, g.Root().Submodules)
	}
}

func TestBuilder_Build_RootContainsEveryItem(t *testing.T) {
	src := `
use std::fmt;
pub struct A;
pub fn b() {}
pub const C: u8 = 1;
pub mod d {}
pub trait E {}
`
	g := buildSource(t, src).Graph
	root := g.Root()

	if len(root.Items) != 4 {
		t.Errorf("expected 4 items (struct, fn, const, trait), got %v", root.Items)
	}
	if len(root.Submodules) != 1 || len(root.Imports) != 1 {
		t.Errorf("expected 1 submodule and 1 import, got %v / %v", root.Submodules, root.Imports)
	}
	contains := 0
	for _, r := range g.RelationsFrom(root.ID.GraphID()) {
		if r.Kind == RelContains {
			contains++
		}
	}
	if contains != 6 {
		t.Errorf("expected 6 contains relations from root, got %d", contains)
	}
	trait, _ := g.FindTrait("E")
	if !hasRelation(g, root.ID.GraphID(), trait.ID.GraphID(), RelContains) {
		t.Error("expected root to contain trait by TraitID")
	}
}

func TestBuilder_Build_PublicTraitImplRetained(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"trait first", "pub trait T {}\npub struct S;\nimpl T for S { fn run(&self) {} }"},
		{"impl before trait", "impl T for S { fn run(&self) {} }\npub trait T {}\npub struct S;"},
		{"path through module", "pub mod api { pub trait T {} }\npub struct S;\nimpl api::T for S { fn run(&self) {} }"},
		{"crate path", "pub mod api { pub trait T {} }\npub struct S;\nimpl crate::api::T for S { fn run(&self) {} }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildSource(t, tt.src, WithValidateOnBuild(true))
			g := result.Graph

			if len(g.Impls) != 1 {
				t.Fatalf("expected 1 impl, got %d", len(g.Impls))
			}
			im := g.Impls[0]
			trait, ok := g.FindTrait("T")
			if !ok {
				t.Fatal("trait T not found")
			}
			if im.Trait == nil || im.Trait.Decl == nil || *im.Trait.Decl != trait.ID {
				t.Fatalf("expected impl to resolve to trait %d, got %+v", trait.ID, im.Trait)
			}
			if !hasRelation(g, im.SelfType.GraphID(), trait.ID.GraphID(), RelImplementsTrait) {
				t.Error("missing implements_trait relation")
			}
			if !hasRelation(g, im.ID.GraphID(), im.SelfType.GraphID(), RelImplementsSelf) {
				t.Error("missing implements_self relation")
			}
			if !im.Methods[0].Visibility.IsPublic() {
				t.Error("expected trait impl method to be public")
			}
			if len(result.ValidationErrors) != 0 {
				t.Errorf("unexpected validation errors: %v", result.ValidationErrors)
			}
		})
	}
}

func TestBuilder_Build_PrivateTraitImplBeforeTrait(t *testing.T) {
	result := buildSource(t, "impl T for S {}\ntrait T {}\npub struct S;")
	if len(result.Graph.Impls) != 0 {
		t.Errorf("expected forward impl of private trait to be excluded, got %d", len(result.Graph.Impls))
	}
	if result.Stats.FilteredImpls != 1 {
		t.Errorf("expected FilteredImpls=1, got %d", result.Stats.FilteredImpls)
	}
}

func TestBuilder_Build_ExternalTraitImpl(t *testing.T) {
	g := buildSource(t, "pub struct S;\nimpl std::fmt::Display for S {}").Graph

	if len(g.Impls) != 1 {
		t.Fatalf("expected 1 impl, got %d", len(g.Impls))
	}
	im := g.Impls[0]
	if im.Trait == nil || im.Trait.Decl != nil {
		t.Fatalf("expected unresolved trait reference, got %+v", im.Trait)
	}
	if g.TypeText(im.Trait.Type) != "std::fmt::Display" {
		t.Errorf("unexpected trait type %q", g.TypeText(im.Trait.Type))
	}
	if !hasRelation(g, im.ID.GraphID(), im.Trait.Type.GraphID(), RelUses) {
		t.Error("missing uses relation to external trait")
	}
	if n := len(g.RelationsOfKind(RelImplementsTrait)); n != 0 {
		t.Errorf("expected no implements_trait, got %d", n)
	}
}

func TestBuilder_Build_InherentImplMethodVisibility(t *testing.T) {
	src := `
pub struct S;
impl S {
    pub fn open(&self) {}
    fn closed(&self) {}
    pub(crate) fn crate_only(&self) {}
}
`
	g := buildSource(t, src).Graph
	methods := g.Impls[0].Methods
	if len(methods) != 3 {
		t.Fatalf("expected 3 methods, got %d", len(methods))
	}
	want := []VisibilityKind{VisibilityPublic, VisibilityInherited, VisibilityCrate}
	for i, m := range methods {
		if m.Visibility.Kind != want[i] {
			t.Errorf("method %s: expected %s, got %s", m.Name, want[i], m.Visibility.Kind)
		}
	}
}

func TestBuilder_Build_Receivers(t *testing.T) {
	src := `
pub struct S;
impl S {
    pub fn by_ref(&self) {}
    pub fn by_mut(&mut self) {}
    pub fn by_value(self) {}
    pub fn by_mut_value(mut self) {}
}
`
	g := buildSource(t, src).Graph
	methods := g.Impls[0].Methods

	tests := []struct {
		method  string
		form    string
		mutable bool
	}{
		{"by_ref", "&Self", false},
		{"by_mut", "&mut Self", true},
		{"by_value", "Self", false},
		{"by_mut_value", "Self", true},
	}
	for i, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m := methods[i]
			if m.Name != tt.method {
				t.Fatalf("expected %s, got %s", tt.method, m.Name)
			}
			p := m.Parameters[0]
			if !p.IsSelf || p.Name != "self" || p.IsMutable != tt.mutable {
				t.Errorf("unexpected receiver %+v", p)
			}
			typ, ok := g.Type(p.TypeID)
			if !ok || typ.Text != "Self("+tt.form+" for S)" || len(typ.Related) != 2 {
				t.Fatalf("expected Self type with form and impl self, got %+v", typ)
			}
			if got := g.TypeText(typ.Related[0]); got != tt.form {
				t.Errorf("expected form %q, got %q", tt.form, got)
			}
			if got := g.TypeText(typ.Related[1]); got != "S" {
				t.Errorf("expected impl self S, got %q", got)
			}
		})
	}
}

func TestBuilder_Build_PositionalFieldsAndVariants(t *testing.T) {
	src := `
pub struct Pair(pub i32, String);
pub enum Shape {
    Empty = 0,
    Circle(f64),
    Rect { w: f64, h: f64 },
}
`
	g := buildSource(t, src).Graph

	pair, _ := g.FindTypeDef("Pair")
	if pair.Struct.Shape != ShapeTuple {
		t.Errorf("expected tuple shape, got %s", pair.Struct.Shape)
	}
	for i, f := range pair.Struct.Fields {
		if !f.Positional || f.Name != []string{"0", "1"}[i] {
			t.Errorf("field %d: unexpected %+v", i, f)
		}
	}
	if pair.Struct.Fields[0].Visibility.Kind != VisibilityPublic {
		t.Error("expected first field public")
	}

	shape, _ := g.FindTypeDef("Shape")
	variants := shape.Enum.Variants
	if len(variants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(variants))
	}
	if variants[0].Discriminant != "0" || variants[0].Shape != ShapeUnit {
		t.Errorf("unexpected unit variant %+v", variants[0])
	}
	if variants[1].Shape != ShapeTuple || variants[1].Fields[0].Name != "0" {
		t.Errorf("unexpected tuple variant %+v", variants[1])
	}
	if variants[2].Shape != ShapeNamed || len(variants[2].Fields) != 2 {
		t.Errorf("unexpected struct variant %+v", variants[2])
	}
	for _, v := range variants {
		if !hasRelation(g, shape.ID().GraphID(), v.ID.GraphID(), RelVariantOf) {
			t.Errorf("missing variant_of for %s", v.Name)
		}
		for _, f := range v.Fields {
			if !hasRelation(g, v.ID.GraphID(), f.ID.GraphID(), RelFieldOf) {
				t.Errorf("variant %s does not own field %s", v.Name, f.Name)
			}
		}
	}
	if n := len(g.RelationsOfKind(RelTypeDefinition)); n != 2 {
		t.Errorf("expected 2 type_definition relations, got %d", n)
	}
}

func TestBuilder_Build_TypeAliasAndValues(t *testing.T) {
	src := `
pub type Map = std::collections::HashMap<String, u32>;
pub const MAX: usize = 10;
static mut COUNT: u32 = 0;
`
	g := buildSource(t, src).Graph

	alias, _ := g.FindTypeDef("Map")
	if alias.Kind != TypeDefTypeAlias {
		t.Fatalf("expected alias, got %s", alias.Kind)
	}
	if got := g.TypeText(alias.TypeAlias.TypeID); got != "std::collections::HashMap<String, u32>" {
		t.Errorf("unexpected aliased type %q", got)
	}
	if !hasRelation(g, alias.ID().GraphID(), alias.TypeAlias.TypeID.GraphID(), RelTypeDefinition) {
		t.Error("missing type_definition for alias")
	}
	mapType, _ := g.Type(alias.TypeAlias.TypeID)
	if len(mapType.Related) != 2 {
		t.Errorf("expected 2 generic arguments, got %v", mapType.Related)
	}

	if len(g.Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(g.Values))
	}
	max, count := g.Values[0], g.Values[1]
	if max.Kind != ValueConstant || max.Value != "10" || g.TypeText(max.TypeID) != "usize" {
		t.Errorf("unexpected const %+v", max)
	}
	if count.Kind != ValueStatic || !count.IsMutable {
		t.Errorf("unexpected static %+v", count)
	}
	// u32 is shared between the alias argument and the static
	if count.TypeID != mapType.Related[1] {
		t.Errorf("expected shared u32 TypeID")
	}
	if n := len(g.RelationsOfKind(RelValueType)); n != 2 {
		t.Errorf("expected 2 value_type relations, got %d", n)
	}
}

func TestBuilder_Build_TraitSuperTraits(t *testing.T) {
	src := `
pub trait Base {}
pub trait Derived: Base + Clone + 'static {
    type Output;
    fn make(&self) -> Self::Output;
}
`
	g := buildSource(t, src).Graph
	base, _ := g.FindTrait("Base")
	derived, _ := g.FindTrait("Derived")

	if len(derived.SuperTraits) != 3 {
		t.Fatalf("expected 3 super traits, got %d", len(derived.SuperTraits))
	}
	if !hasRelation(g, derived.ID.GraphID(), base.ID.GraphID(), RelInherits) {
		t.Error("expected inherits to the local trait")
	}
	if !hasRelation(g, derived.ID.GraphID(), derived.SuperTraits[1].GraphID(), RelInherits) {
		t.Error("expected inherits to the Clone bound type")
	}
	if n := len(g.RelationsOfKind(RelInherits)); n != 2 {
		t.Errorf("expected 2 inherits relations, got %d", n)
	}
	if g.TypeText(derived.SuperTraits[2]) != "'static" {
		t.Errorf("expected lifetime super trait, got %q", g.TypeText(derived.SuperTraits[2]))
	}
	if !reflect.DeepEqual(derived.AssociatedTypes, []string{"Output"}) {
		t.Errorf("unexpected associated types %v", derived.AssociatedTypes)
	}
	if len(derived.Methods) != 1 || !derived.Methods[0].Visibility.IsPublic() {
		t.Errorf("expected one public method, got %+v", derived.Methods)
	}
}

func TestBuilder_Build_Generics(t *testing.T) {
	src := "pub fn f<'a, T: Clone + 'a, const N: usize>(x: &'a T) where T: Send {}"
	g := buildSource(t, src).Graph
	fn := g.Functions[0]

	if len(fn.Generics) != 3 {
		t.Fatalf("expected 3 generic params, got %d", len(fn.Generics))
	}
	lt, ty, cn := fn.Generics[0], fn.Generics[1], fn.Generics[2]
	if lt.Kind != GenericParamLifetime || lt.Name != "a" {
		t.Errorf("unexpected lifetime param %+v", lt)
	}
	if ty.Kind != GenericParamType || len(ty.Bounds) != 3 {
		t.Fatalf("expected T with Clone, 'a and Send bounds, got %+v", ty)
	}
	var texts []string
	for _, b := range ty.Bounds {
		texts = append(texts, g.TypeText(b))
	}
	if !reflect.DeepEqual(texts, []string{"Clone", "'a", "Send"}) {
		t.Errorf("unexpected bounds %v", texts)
	}
	if cn.Kind != GenericParamConst || cn.ConstType == nil || g.TypeText(*cn.ConstType) != "usize" {
		t.Errorf("unexpected const param %+v", cn)
	}
	for _, p := range fn.Generics {
		if !hasRelation(g, fn.ID.GraphID(), p.ID.GraphID(), RelGenericParameter) {
			t.Errorf("missing generic_parameter for %s", p.Name)
		}
	}
}

func TestBuilder_Build_BoundDeduplication(t *testing.T) {
	src := "pub fn a<T: Clone>() {}\npub fn b<U: Clone>() {}"

	t.Run("interned by default", func(t *testing.T) {
		g := buildSource(t, src).Graph
		a, b := g.Functions[0].Generics[0], g.Functions[1].Generics[0]
		if a.Bounds[0] != b.Bounds[0] {
			t.Errorf("expected shared bound TypeID, got %d and %d", a.Bounds[0], b.Bounds[0])
		}
	})

	t.Run("fresh when enabled", func(t *testing.T) {
		g := buildSource(t, src, WithFreshBoundTypes(true)).Graph
		a, b := g.Functions[0].Generics[0], g.Functions[1].Generics[0]
		if a.Bounds[0] == b.Bounds[0] {
			t.Error("expected distinct bound TypeIDs")
		}
		if g.TypeText(a.Bounds[0]) != "Clone" || g.TypeText(b.Bounds[0]) != "Clone" {
			t.Error("expected both bounds to render as Clone")
		}
	})
}

func TestBuilder_Build_Macros(t *testing.T) {
	src := `
#[macro_export]
macro_rules! square {
    ($x:expr) => { $x * $x };
    () => { 0 };
}

macro_rules! hidden {
    () => {};
}

pub fn f() -> i32 {
    square!(2)
}

square!();
`
	result := buildSource(t, src)
	g := result.Graph

	if len(g.Macros) != 1 {
		t.Fatalf("expected only the exported macro, got %d", len(g.Macros))
	}
	m := g.Macros[0]
	if m.Name != "square" || m.Kind != MacroDeclarative || !m.Visibility.IsPublic() {
		t.Errorf("unexpected macro %+v", m)
	}
	if len(m.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(m.Rules))
	}
	if m.Rules[0].Pattern != "$x:expr" || m.Rules[0].Expansion != "$x * $x" {
		t.Errorf("unexpected first rule %+v", m.Rules[0])
	}
	if result.Stats.SkippedMacros != 1 {
		t.Errorf("expected SkippedMacros=1, got %d", result.Stats.SkippedMacros)
	}
	if n := len(g.RelationsOfKind(RelMacroExpansion)); n != 2 {
		t.Errorf("expected 2 macro_expansion relations, got %d", n)
	}

	if len(g.MacroInvocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(g.MacroInvocations))
	}
	fn, _ := g.FindFunction("f")
	parents := map[NodeID]bool{}
	for _, inv := range g.MacroInvocations {
		parents[inv.Parent] = true
		if inv.Resolved == nil || *inv.Resolved != m.ID {
			t.Errorf("invocation %d not resolved to square", inv.ID)
		}
		if !hasRelation(g, inv.Parent.GraphID(), inv.ID.GraphID(), RelMacroInvocation) {
			t.Errorf("missing macro_invocation for %d", inv.ID)
		}
		if !hasRelation(g, inv.ID.GraphID(), m.ID.GraphID(), RelMacroUse) {
			t.Errorf("missing macro_use for %d", inv.ID)
		}
	}
	if !parents[fn.ID] || !parents[g.Root().ID] {
		t.Errorf("expected invocations parented by f and root, got %v", parents)
	}
	for _, inv := range g.MacroInvocations {
		listed := false
		for _, id := range g.Root().Items {
			listed = listed || id == inv.ID.GraphID()
		}
		contained := hasRelation(g, g.Root().ID.GraphID(), inv.ID.GraphID(), RelContains)
		if inv.Parent == g.Root().ID && (!listed || !contained) {
			t.Errorf("module-level invocation %d: listed=%v contains=%v", inv.ID, listed, contained)
		}
		if inv.Parent == fn.ID && (listed || contained) {
			t.Errorf("invocation %d inside f must not be a module item", inv.ID)
		}
	}
}

func TestBuilder_Build_NestedModuleMacroInvocations(t *testing.T) {
	src := `
macro_rules! m { () => {} }
m!();
mod inner {
    m!();
}
`
	result := buildSource(t, src)
	g := result.Graph

	if len(g.MacroInvocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(g.MacroInvocations))
	}
	modules := map[NodeID]ModuleNode{}
	for _, m := range g.Modules {
		modules[m.ID] = m
	}
	for _, inv := range g.MacroInvocations {
		parent, ok := modules[inv.Parent]
		if !ok {
			t.Fatalf("invocation %d parented by non-module %d", inv.ID, inv.Parent)
		}
		listed := false
		for _, id := range parent.Items {
			listed = listed || id == inv.ID.GraphID()
		}
		if !listed {
			t.Errorf("invocation %d missing from %s items %v", inv.ID, parent.Path, parent.Items)
		}
		if !hasRelation(g, parent.ID.GraphID(), inv.ID.GraphID(), RelContains) {
			t.Errorf("missing contains %s -> invocation %d", parent.Path, inv.ID)
		}
		if !hasRelation(g, parent.ID.GraphID(), inv.ID.GraphID(), RelMacroInvocation) {
			t.Errorf("missing macro_invocation %s -> invocation %d", parent.Path, inv.ID)
		}
	}
	if errs := ValidateGraph(g); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestBuilder_Build_ProcMacros(t *testing.T) {
	src := `
#[proc_macro_derive(Builder)]
pub fn derive_builder(input: TokenStream) -> TokenStream { input }

#[proc_macro_attribute]
pub fn route(attr: TokenStream, item: TokenStream) -> TokenStream { item }

#[proc_macro]
pub fn sql(input: TokenStream) -> TokenStream { input }
`
	g := buildSource(t, src).Graph
	want := []ProcMacroKind{ProcMacroDerive, ProcMacroAttribute, ProcMacroFunction}

	if len(g.Macros) != 3 {
		t.Fatalf("expected 3 procedural macros, got %d", len(g.Macros))
	}
	for i, m := range g.Macros {
		if m.Kind != MacroProcedural || m.ProcKind != want[i] || len(m.Rules) != 0 {
			t.Errorf("macro %s: unexpected %+v", m.Name, m)
		}
		fn := g.Functions[i]
		if fn.Name != m.Name {
			t.Errorf("expected macro named after %s, got %s", fn.Name, m.Name)
		}
		if !hasRelation(g, fn.ID.GraphID(), m.ID.GraphID(), RelMacroDefinition) {
			t.Errorf("missing macro_definition for %s", m.Name)
		}
	}
}

func TestBuilder_Build_UseTreeExpansion(t *testing.T) {
	src := `
use std::collections::{HashMap, HashSet as Set};
use std::io::{self, Read};
pub use serde::*;
extern crate alloc as heap;
`
	g := buildSource(t, src).Graph

	type leaf struct {
		path  string
		alias string
		glob  bool
		kind  ImportKind
	}
	want := []leaf{
		{"std::collections::HashMap", "", false, ImportUse},
		{"std::collections::HashSet", "Set", false, ImportUse},
		{"std::io", "", false, ImportUse},
		{"std::io::Read", "", false, ImportUse},
		{"serde", "", true, ImportUse},
		{"alloc", "heap", false, ImportExternCrate},
	}
	if len(g.Imports) != len(want) {
		t.Fatalf("expected %d imports, got %d", len(want), len(g.Imports))
	}
	for i, w := range want {
		imp := g.Imports[i]
		got := leaf{joinPath(imp.Path), imp.Alias, imp.IsGlob, imp.Kind}
		if got != w {
			t.Errorf("import %d: expected %+v, got %+v", i, w, got)
		}
		if !hasRelation(g, imp.ID.GraphID(), g.typeIDByText(t, w.path).GraphID(), RelUses) {
			t.Errorf("import %d: missing uses relation", i)
		}
	}
	if !g.Imports[4].Visibility.IsPublic() {
		t.Error("expected pub use to be public")
	}
	if len(g.Root().Imports) != len(want) {
		t.Errorf("expected root to list every import, got %v", g.Root().Imports)
	}
}

func TestBuilder_Build_ImportReferences(t *testing.T) {
	src := `
pub mod a {
    pub fn f() {}
    pub mod b {
        use super::f;
    }
}
use a::f;
use crate::a::f as g;
use std::fmt::Debug;
`
	g := buildSource(t, src).Graph
	fn, _ := g.FindFunction("f")

	references := g.RelationsOfKind(RelReferences)
	if len(references) != 3 {
		t.Fatalf("expected 3 references, got %v", references)
	}
	for _, r := range references {
		if r.Target != fn.ID.GraphID() {
			t.Errorf("expected reference to f, got %s", r.Target)
		}
	}
}

func TestBuilder_Build_PrivateModuleMarker(t *testing.T) {
	src := "mod private_module { pub fn x() {} }\nmod plain {}\npub(crate) mod shared {}"

	t.Run("default marker", func(t *testing.T) {
		g := buildSource(t, src).Graph
		m, _ := g.FindModule("private_module")
		if m.Visibility.Kind != VisibilityRestricted || !reflect.DeepEqual(m.Visibility.Path, []string{"super"}) {
			t.Errorf("expected restricted super, got %+v", m.Visibility)
		}
		plain, _ := g.FindModule("plain")
		if plain.Visibility.Kind != VisibilityInherited {
			t.Errorf("expected inherited, got %+v", plain.Visibility)
		}
		shared, _ := g.FindModule("shared")
		if shared.Visibility.Kind != VisibilityCrate {
			t.Errorf("expected crate, got %+v", shared.Visibility)
		}
	})

	t.Run("custom marker", func(t *testing.T) {
		g := buildSource(t, src, WithPrivateModuleMarkers("plain")).Graph
		m, _ := g.FindModule("private_module")
		if m.Visibility.Kind != VisibilityInherited {
			t.Errorf("expected inherited, got %+v", m.Visibility)
		}
		plain, _ := g.FindModule("plain")
		if plain.Visibility.Kind != VisibilityRestricted {
			t.Errorf("expected restricted, got %+v", plain.Visibility)
		}
	})
}

func TestBuilder_Build_ExcludePrivateItems(t *testing.T) {
	src := `
fn hidden() {}
pub fn shown() {}
pub struct S;
impl S {
    fn private_method(&self) {}
    pub fn public_method(&self) {}
}
`
	result := buildSource(t, src, WithIncludePrivateItems(false))
	g := result.Graph

	if len(g.Functions) != 1 || g.Functions[0].Name != "shown" {
		t.Errorf("expected only shown, got %+v", g.Functions)
	}
	if len(g.Impls) != 1 || len(g.Impls[0].Methods) != 1 || g.Impls[0].Methods[0].Name != "public_method" {
		t.Errorf("expected impl with public_method only, got %+v", g.Impls)
	}
	if result.Stats.SkippedPrivate != 2 {
		t.Errorf("expected SkippedPrivate=2, got %d", result.Stats.SkippedPrivate)
	}
}

func TestBuilder_Build_AttributesAndDocs(t *testing.T) {
	src := `//! Crate docs.
#![allow(dead_code)]

/// Adds numbers.
/// Twice.
#[inline]
#[deprecated = "use add2"]
#[cfg_attr(test, derive(Debug, Clone))]
pub fn add() {}
`
	g := buildSource(t, src).Graph

	root := g.Root()
	if root.Docs != "Crate docs." {
		t.Errorf("unexpected root docs %q", root.Docs)
	}
	if len(root.Attributes) != 1 || root.Attributes[0].Name != "allow" {
		t.Errorf("unexpected root attributes %+v", root.Attributes)
	}

	fn := g.Functions[0]
	if fn.Docs != "Adds numbers.\nTwice." {
		t.Errorf("unexpected docs %q", fn.Docs)
	}
	want := []Attribute{
		{Name: "inline"},
		{Name: "deprecated", Args: []string{"use add2"}, Value: "use add2"},
		{Name: "cfg_attr", Args: []string{"test", "derive(Debug, Clone)"}},
	}
	if !reflect.DeepEqual(fn.Attributes, want) {
		t.Errorf("expected %+v, got %+v", want, fn.Attributes)
	}
}

func TestBuilder_Build_Determinism(t *testing.T) {
	src := `
pub trait Shape { fn area(&self) -> f64; }
pub struct Circle { r: f64 }
impl Shape for Circle { fn area(&self) -> f64 { 3.14 * self.r * self.r } }
pub mod util { pub fn clamp<T: PartialOrd>(x: T, lo: T, hi: T) -> T { x } }
`
	first := buildSource(t, src).Graph
	second := buildSource(t, src).Graph
	if !reflect.DeepEqual(first, second) {
		t.Error("two builds of the same source produced different graphs")
	}
}

func TestBuilder_Build_InterningIdempotence(t *testing.T) {
	src := `
pub struct S { a: Vec<Option<String>>, b: Vec<Option<String>>, c: &'static str }
pub fn f(x: Vec<Option<String>>, y: &'static str) -> Option<String> { None }
impl S {
    pub fn get(&self) -> &Self { self }
    pub fn take(self) -> Self { self }
    pub fn peek(&self) {}
}
`
	g := buildSource(t, src).Graph

	seen := make(map[string]TypeID)
	for _, typ := range g.TypeGraph {
		if prev, ok := seen[typ.Text]; ok {
			t.Errorf("text %q interned twice: %d and %d", typ.Text, prev, typ.ID)
		}
		seen[typ.Text] = typ.ID
		for _, child := range typ.Related {
			if child >= typ.ID {
				t.Errorf("child %d of %q allocated after its parent %d", child, typ.Text, typ.ID)
			}
		}
	}
	for _, text := range []string{"Self", "&Self", "Self(&Self for S)", "Self(Self for S)"} {
		if _, ok := seen[text]; !ok {
			t.Errorf("expected a type entry %q", text)
		}
	}
}

func TestBuilder_Build_RelationsValid(t *testing.T) {
	src := `
//! Everything at once.
use std::fmt::{self, Display};
pub trait Named: Display { fn name(&self) -> String; }
pub struct User<T> where T: Clone { id: T, name: String }
impl<T: Clone> Named for User<T> { fn name(&self) -> String { self.name.clone() } }
impl<T: Clone> fmt::Display for User<T> {
    fn fmt(&self, f: &mut fmt::Formatter<'_>) -> fmt::Result { write!(f, "{}", self.name) }
}
pub enum Event { Created(u64), Deleted { id: u64 } }
pub mod store {
    pub const LIMIT: usize = 100;
    pub static mut HITS: u64 = 0;
    pub type Ids = Vec<u64>;
    pub union Raw { a: u32, b: f32 }
}
#[macro_export]
macro_rules! log { ($($t:tt)*) => { println!($($t)*) }; }
`
	result := buildSource(t, src, WithValidateOnBuild(true))
	if len(result.ValidationErrors) != 0 {
		t.Errorf("expected a valid graph, got %v", result.ValidationErrors)
	}
	for _, r := range result.Graph.Relations {
		if err := r.Validate(); err != nil {
			t.Errorf("invalid relation %s: %v", r, err)
		}
	}
	if len(result.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", result.Diagnostics)
	}
}

func TestBuilder_Build_ContextCancellation(t *testing.T) {
	file := parseSource(t, "pub fn a() {}\npub fn b() {}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewBuilder().Build(ctx, file)
	if !errors.Is(err, ErrBuildCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrBuildCancelled wrapping context.Canceled, got %v", err)
	}
	if result == nil || !result.Incomplete {
		t.Fatal("expected an incomplete partial result")
	}
	if len(result.Graph.Functions) != 0 {
		t.Errorf("expected no functions before the first item, got %d", len(result.Graph.Functions))
	}
	if result.Graph.Root() == nil {
		t.Error("expected the root module in the partial graph")
	}
}

func TestBuilder_Build_ProgressCallback(t *testing.T) {
	var updates []BuildProgress
	builder := NewBuilder(WithProgressCallback(func(p BuildProgress) {
		updates = append(updates, p)
	}))

	file := parseSource(t, "pub fn a() {}\npub mod m { pub fn b() {} }")
	if _, err := builder.Build(context.Background(), file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []ProgressPhase{ProgressPhaseIndexing, ProgressPhaseVisiting, ProgressPhaseFinalizing}
	if len(updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(updates))
	}
	for i, p := range updates {
		if p.Phase != want[i] {
			t.Errorf("update %d: expected %s, got %s", i, want[i], p.Phase)
		}
		if p.ItemsTotal != 3 {
			t.Errorf("update %d: expected ItemsTotal=3, got %d", i, p.ItemsTotal)
		}
	}
	if last := updates[len(updates)-1]; last.ItemsProcessed != 3 || last.NodesCreated == 0 {
		t.Errorf("unexpected final progress %+v", last)
	}
}

func TestBuilder_Build_StatsAccuracy(t *testing.T) {
	result := buildSource(t, "pub trait T {}\npub struct S;\nimpl T for S {}\npub fn f(x: u8) {}")
	g := result.Graph
	counts := result.Stats

	if counts.Items != 4 {
		t.Errorf("expected 4 items, got %d", counts.Items)
	}
	if counts.Types != len(g.TypeGraph) {
		t.Errorf("Types=%d but type table has %d", counts.Types, len(g.TypeGraph))
	}
	if counts.Traits != 1 || counts.Relations != len(g.Relations) {
		t.Errorf("unexpected stats %+v", counts)
	}
	stats := g.Stats()
	if stats.Functions != 1 || stats.Impls != 1 || stats.RelationsByKind[RelImplementsTrait] != 1 {
		t.Errorf("unexpected graph stats %+v", stats)
	}
}

func TestResolveVisibility(t *testing.T) {
	tests := []struct {
		token string
		kind  VisibilityKind
		path  []string
	}{
		{"", VisibilityInherited, nil},
		{"pub", VisibilityPublic, nil},
		{"crate", VisibilityCrate, nil},
		{"pub(crate)", VisibilityCrate, nil},
		{"pub(self)", VisibilityRestricted, []string{"self"}},
		{"pub(super)", VisibilityRestricted, []string{"super"}},
		{"pub(in crate::a::b)", VisibilityRestricted, []string{"crate", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			v := ResolveVisibility(tt.token)
			if v.Kind != tt.kind || !reflect.DeepEqual(v.Path, tt.path) {
				t.Errorf("ResolveVisibility(%q) = %+v", tt.token, v)
			}
			if tt.token != "crate" && v.String() != tt.token {
				t.Errorf("String() = %q, want %q", v.String(), tt.token)
			}
		})
	}
}

func TestAbsolutePath(t *testing.T) {
	tests := []struct {
		name string
		cur  []string
		segs []string
		want []string
		ok   bool
	}{
		{"crate", []string{"a"}, []string{"crate", "b", "T"}, []string{"b", "T"}, true},
		{"self", []string{"a"}, []string{"self", "T"}, []string{"a", "T"}, true},
		{"super", []string{"a", "b"}, []string{"super", "T"}, []string{"a", "T"}, true},
		{"super twice", []string{"a", "b"}, []string{"super", "super", "T"}, []string{"T"}, true},
		{"super above root", nil, []string{"super", "T"}, nil, false},
		{"relative", []string{"a"}, []string{"b", "T"}, []string{"a", "b", "T"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := absolutePath(tt.cur, tt.segs)
			if ok != tt.ok || (ok && !reflect.DeepEqual(got, tt.want)) {
				t.Errorf("absolutePath(%v, %v) = %v, %v", tt.cur, tt.segs, got, ok)
			}
		})
	}
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "::"
		}
		out += s
	}
	return out
}

// typeIDByText finds a type table entry by text or fails the test.
func (g *CodeGraph) typeIDByText(t *testing.T, text string) TypeID {
	t.Helper()
	for _, typ := range g.TypeGraph {
		if typ.Text == text {
			return typ.ID
		}
	}
	t.Fatalf("type %q not in table", text)
	return 0
}
