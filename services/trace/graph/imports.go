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
	"strings"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// buildUse creates one ImportNode per leaf of the use tree, each with a
// uses relation to the named type of its path.
func (s *buildState) buildUse(u *ast.Use) []NodeID {
	if len(u.Trees) == 0 {
		s.diagnose("use declaration has no leaves: %s", ast.NormalizeSpace(u.Raw))
		return nil
	}
	vis := s.resolveVisibility(u.Visibility)
	attrs := convertAttributes(u.Attributes)
	ids := make([]NodeID, 0, len(u.Trees))
	for _, tree := range u.Trees {
		imp := ImportNode{
			ID:         s.alloc.NextNodeID(),
			Kind:       ImportUse,
			Path:       append([]string(nil), tree.Path...),
			Alias:      tree.Alias,
			IsGlob:     tree.IsGlob,
			Visibility: vis,
			Attributes: attrs,
		}
		s.graph.Imports = append(s.graph.Imports, imp)
		s.importScopes[imp.ID] = append([]string(nil), s.modulePath...)
		if len(imp.Path) > 0 {
			s.relate(imp.ID.GraphID(), s.types.Named(imp.Path...).GraphID(), RelUses)
		}
		ids = append(ids, imp.ID)
	}
	return ids
}

// buildExternCrate creates an ImportNode of kind extern_crate.
func (s *buildState) buildExternCrate(e *ast.ExternCrate) NodeID {
	imp := ImportNode{
		ID:         s.alloc.NextNodeID(),
		Kind:       ImportExternCrate,
		Path:       []string{e.Name},
		Alias:      e.Alias,
		Visibility: s.resolveVisibility(e.Visibility),
		Attributes: convertAttributes(e.Attributes),
	}
	s.graph.Imports = append(s.graph.Imports, imp)
	s.relate(imp.ID.GraphID(), s.types.Named(e.Name).GraphID(), RelUses)
	return imp.ID
}

// resolveImports links non-glob use imports to the local declaration at
// their module-qualified path with a references relation.
func (s *buildState) resolveImports() {
	for _, imp := range s.graph.Imports {
		if imp.Kind != ImportUse || imp.IsGlob || len(imp.Path) == 0 {
			continue
		}
		abs, ok := absolutePath(s.importScopes[imp.ID], imp.Path)
		if !ok {
			continue
		}
		target, ok := s.declarations[strings.Join(abs, "::")]
		if !ok {
			// fall back to the path taken from the crate root
			target, ok = s.declarations[strings.Join(imp.Path, "::")]
		}
		if ok && target != imp.ID.GraphID() {
			s.relate(imp.ID.GraphID(), target, RelReferences)
		}
	}
}
