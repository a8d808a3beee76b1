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

// buildTrait creates a trait node using the TraitID assigned by the
// pre-scan. Methods are always Public. Each super-trait bound emits
// inherits, to the local trait when the bound names one declared in the
// file and to the interned bound type otherwise.
func (s *buildState) buildTrait(t *ast.Trait) TraitNode {
	var id TraitID
	if s.nextTrait < len(s.traits) && s.traits[s.nextTrait].name == t.Name {
		id = s.traits[s.nextTrait].id
		s.nextTrait++
	} else {
		id = s.alloc.NextTraitID()
		s.diagnose("trait %s was not pre-indexed", t.Name)
	}

	node := TraitNode{
		ID:              id,
		Name:            t.Name,
		Visibility:      s.resolveVisibility(t.Visibility),
		Attributes:      convertAttributes(t.Attributes),
		Docs:            joinDocs(t.Docs),
		AssociatedTypes: append([]string(nil), t.AssociatedTypes...),
		IsUnsafe:        t.IsUnsafe,
		IsAuto:          t.IsAuto,
	}
	node.Generics = s.processGenerics(id.GraphID(), t.Generics)

	for _, bound := range t.SuperTraits {
		bt := s.types.Bound(bound)
		node.SuperTraits = append(node.SuperTraits, bt)

		if bound.QSelf == nil && !bound.Maybe {
			if d, ok := s.resolveTraitPath(bound.PathNames()); ok && d.id != id {
				s.relate(id.GraphID(), d.id.GraphID(), RelInherits)
				continue
			}
		}
		s.relate(id.GraphID(), bt.GraphID(), RelInherits)
	}
	for _, lt := range t.SuperLifetimes {
		node.SuperTraits = append(node.SuperTraits, s.types.Lifetime(lt))
	}

	for _, m := range t.Methods {
		node.Methods = append(node.Methods, s.buildFunction(m, functionContext{forcePublic: true}))
	}
	return node
}

// buildImpl creates an impl node, or reports false when the impl is
// excluded by policy.
//
// Description:
//
//	An impl of a trait declared in the file with non-public visibility is
//	excluded before any id is allocated and counted in FilteredImpls.
//	Otherwise implements_self links the impl to its self type. A trait
//	declared in the file adds implements_trait from the self type to the
//	trait; an external trait adds uses from the impl to the trait path
//	type instead. Trait impl methods are Public; inherent methods keep
//	their own visibility.
func (s *buildState) buildImpl(im *ast.Impl) (ImplNode, bool) {
	var (
		decl     *traitDecl
		resolved bool
	)
	if im.Trait != nil && im.Trait.Kind == ast.TypePath && im.Trait.QSelf == nil {
		decl, resolved = s.resolveTraitPath(im.Trait.PathNames())
	}
	if resolved && !decl.vis.IsPublic() {
		s.result.Stats.FilteredImpls++
		s.logger.Debug("excluding impl of private trait",
			slog.String("trait", decl.name),
			slog.String("self", im.SelfType.String()))
		return ImplNode{}, false
	}

	id := s.alloc.NextNodeID()
	selfType := s.resolveType(im.SelfType, "impl self type")
	node := ImplNode{
		ID:         id,
		SelfType:   selfType,
		Attributes: convertAttributes(im.Attributes),
		IsNegative: im.IsNegative,
		IsUnsafe:   im.IsUnsafe,
	}
	node.Generics = s.processGenerics(id.GraphID(), im.Generics)
	s.relate(id.GraphID(), selfType.GraphID(), RelImplementsSelf)

	if im.Trait != nil {
		ref := &TraitRef{
			Path: im.Trait.PathNames(),
			Type: s.resolveType(im.Trait, "impl trait"),
		}
		if resolved {
			traitID := decl.id
			ref.Decl = &traitID
			s.relate(selfType.GraphID(), traitID.GraphID(), RelImplementsTrait)
		} else {
			s.relate(id.GraphID(), ref.Type.GraphID(), RelUses)
		}
		node.Trait = ref
	}

	for _, m := range im.Methods {
		if im.Trait == nil && !s.builder.options.IncludePrivateItems && m.Visibility == "" {
			s.result.Stats.SkippedPrivate++
			continue
		}
		fc := functionContext{forcePublic: im.Trait != nil, implSelf: &selfType}
		node.Methods = append(node.Methods, s.buildFunction(m, fc))
	}
	return node, true
}
