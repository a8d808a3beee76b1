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

import "strings"

// ExternalReason says why a type was classified as external.
type ExternalReason string

const (
	// ExternalStd marks paths rooted at std, core or alloc.
	ExternalStd ExternalReason = "std"

	// ExternalCrate marks paths rooted at an extern crate or at a name
	// brought in by a use of another crate.
	ExternalCrate ExternalReason = "extern_crate"

	// ExternalUndeclared marks single-segment names not declared in the
	// file, not generic parameters and not primitives.
	ExternalUndeclared ExternalReason = "undeclared"
)

// ExternalType is a named type whose declaration lies outside the file.
//
// Thread Safety: This type is safe for concurrent use (immutable after creation).
type ExternalType struct {
	TypeID TypeID         `json:"type_id"`
	Text   string         `json:"text"`
	Crate  string         `json:"crate,omitempty"`
	Reason ExternalReason `json:"reason"`

	// UsedBy are the sources of relations targeting the type, in
	// relation order.
	UsedBy []GraphID `json:"used_by,omitempty"`
}

var stdCrates = map[string]bool{"std": true, "core": true, "alloc": true}

// preludeTypes are std names in scope in every module.
var preludeTypes = map[string]bool{
	"String": true, "Vec": true, "Option": true, "Result": true, "Box": true,
	"ToString": true, "ToOwned": true, "Clone": true, "Copy": true, "Send": true,
	"Sync": true, "Sized": true, "Unpin": true, "Drop": true, "Fn": true,
	"FnMut": true, "FnOnce": true, "Iterator": true, "IntoIterator": true,
	"Default": true, "Eq": true, "PartialEq": true, "Ord": true, "PartialOrd": true,
	"AsRef": true, "AsMut": true, "Into": true, "From": true,
}

var primitiveTypes = map[string]bool{
	"bool": true, "char": true, "str": true,
	"i8": true, "i16": true, "i32": true, "i64": true, "i128": true, "isize": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true, "usize": true,
	"f32": true, "f64": true, "Self": true,
}

// ClassifyExternalTypes identifies the external dependency boundary of a
// graph.
//
// Description:
//
//	Walks the Named entries of the type table and classifies those whose
//	declaration is not in the file: paths rooted at std, core or alloc,
//	bare prelude names, paths rooted at an extern crate or at a name
//	imported from another crate, and bare names that are neither
//	declared, generic parameters nor primitives. Paths starting with
//	crate, self or super are local.
//
// Inputs:
//   - g: The graph to classify. Must not be nil.
//
// Outputs:
//   - []ExternalType: In type-table order. Nil if none are found.
//
// Thread Safety: Safe for concurrent use (reads only).
func ClassifyExternalTypes(g *CodeGraph) []ExternalType {
	if g == nil || len(g.TypeGraph) == 0 {
		return nil
	}

	local := declaredNames(g)
	crates := importedCrates(g)

	usedBy := make(map[TypeID][]GraphID)
	for _, r := range g.Relations {
		if id, ok := r.Target.TypeID(); ok {
			usedBy[id] = append(usedBy[id], r.Source)
		}
	}

	var out []ExternalType
	for _, t := range g.TypeGraph {
		if t.Kind != TypeKindNamed || len(t.Path) == 0 {
			continue
		}
		first := t.Path[0]
		if strings.HasPrefix(first, "'") {
			continue
		}
		ext := ExternalType{TypeID: t.ID, Text: t.Text, UsedBy: usedBy[t.ID]}
		switch {
		case first == "crate" || first == "self" || first == "super":
			continue
		case stdCrates[first]:
			ext.Crate, ext.Reason = first, ExternalStd
		case len(t.Path) == 1 && preludeTypes[first] && !local[first]:
			ext.Crate, ext.Reason = "std", ExternalStd
		case crates[first] != "":
			ext.Crate, ext.Reason = crates[first], ExternalCrate
			if stdCrates[ext.Crate] {
				ext.Reason = ExternalStd
			}
		case len(t.Path) == 1 && !local[first] && !primitiveTypes[first]:
			ext.Reason = ExternalUndeclared
		default:
			continue
		}
		out = append(out, ext)
	}
	return out
}

// inferCrateFromPath returns the first segment of a multi-segment path.
//
// Examples:
//
//	"std::collections::HashMap" → "std"
//	"serde::Serialize" → "serde"
//	"HashMap" → ""
func inferCrateFromPath(text string) string {
	i := strings.Index(text, "::")
	if i <= 0 {
		return ""
	}
	return text[:i]
}

// declaredNames collects every name a bare path could resolve to inside
// the file: type definitions, traits, and generic parameters.
func declaredNames(g *CodeGraph) map[string]bool {
	names := make(map[string]bool)
	addGenerics := func(ps []GenericParamNode) {
		for _, p := range ps {
			names[p.Name] = true
		}
	}
	addFunctions := func(fs []FunctionNode) {
		for _, f := range fs {
			addGenerics(f.Generics)
		}
	}
	for _, d := range g.DefinedTypes {
		names[d.Name()] = true
		switch d.Kind {
		case TypeDefStruct:
			addGenerics(d.Struct.Generics)
		case TypeDefEnum:
			addGenerics(d.Enum.Generics)
		case TypeDefUnion:
			addGenerics(d.Union.Generics)
		case TypeDefTypeAlias:
			addGenerics(d.TypeAlias.Generics)
		}
	}
	for _, list := range [][]TraitNode{g.Traits, g.PrivateTraits} {
		for _, t := range list {
			names[t.Name] = true
			for _, a := range t.AssociatedTypes {
				names[a] = true
			}
			addGenerics(t.Generics)
			addFunctions(t.Methods)
		}
	}
	for _, im := range g.Impls {
		addGenerics(im.Generics)
		addFunctions(im.Methods)
	}
	addFunctions(g.Functions)
	return names
}

// importedCrates maps a local name to the crate it comes from, for extern
// crates and for use imports rooted outside the crate. A use rooted at a
// module declared in the file is local.
func importedCrates(g *CodeGraph) map[string]string {
	modules := make(map[string]bool, len(g.Modules))
	for _, m := range g.Modules {
		modules[m.Name] = true
	}
	crates := make(map[string]string)
	for _, imp := range g.Imports {
		if len(imp.Path) == 0 {
			continue
		}
		root := imp.Path[0]
		switch imp.Kind {
		case ImportExternCrate:
			crates[root] = root
			if imp.Alias != "" {
				crates[imp.Alias] = root
			}
		case ImportUse:
			if root == "crate" || root == "self" || root == "super" || modules[root] || imp.IsGlob {
				continue
			}
			if name := imp.Name(); name != "" && len(imp.Path) > 1 {
				crates[name] = inferCrateFromPath(strings.Join(imp.Path, "::"))
			}
			crates[root] = root
		}
	}
	return crates
}
