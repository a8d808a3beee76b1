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
	"log/slog"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// moduleScope accumulates what one module directly encloses.
type moduleScope struct {
	id         NodeID
	submodules []NodeID
	items      []GraphID
	imports    []NodeID
}

func newModuleScope(id NodeID) *moduleScope {
	return &moduleScope{id: id}
}

// addItem records containment of a non-module, non-import item.
func (s *buildState) addItem(scope *moduleScope, id GraphID) {
	scope.items = append(scope.items, id)
	s.relate(scope.id.GraphID(), id, RelContains)
}

func (s *buildState) addSubmodule(scope *moduleScope, id NodeID) {
	scope.submodules = append(scope.submodules, id)
	s.relate(scope.id.GraphID(), id.GraphID(), RelContains)
}

func (s *buildState) addImport(scope *moduleScope, id NodeID) {
	scope.imports = append(scope.imports, id)
	s.relate(scope.id.GraphID(), id.GraphID(), RelContains)
}

// visitItems dispatches each item to its builder and records containment
// in scope. The context is checked before every item.
func (s *buildState) visitItems(ctx context.Context, scope *moduleScope, items []ast.Item) error {
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.itemsDone++
		meta := it.Meta()
		s.currentItem = it.Kind().String() + " " + meta.Name
		s.currentLine = meta.Location.StartLine

		if s.isSkippedPrivate(it) {
			s.result.Stats.SkippedPrivate++
			s.logger.Debug("skipping private item",
				slog.String("kind", it.Kind().String()),
				slog.String("name", meta.Name))
			continue
		}

		switch v := it.(type) {
		case *ast.Function:
			fn := s.buildFunction(v, functionContext{})
			s.graph.Functions = append(s.graph.Functions, fn)
			s.declare(fn.Name, fn.ID.GraphID())
			s.addItem(scope, fn.ID.GraphID())
		case *ast.Struct:
			s.addTypeDef(scope, s.buildStruct(v))
		case *ast.Enum:
			s.addTypeDef(scope, s.buildEnum(v))
		case *ast.Union:
			s.addTypeDef(scope, s.buildUnion(v))
		case *ast.TypeAlias:
			s.addTypeDef(scope, s.buildTypeAlias(v))
		case *ast.Trait:
			t := s.buildTrait(v)
			if t.Visibility.IsPublic() {
				s.graph.Traits = append(s.graph.Traits, t)
			} else {
				s.graph.PrivateTraits = append(s.graph.PrivateTraits, t)
			}
			s.declare(t.Name, t.ID.GraphID())
			s.addItem(scope, t.ID.GraphID())
		case *ast.Impl:
			if im, ok := s.buildImpl(v); ok {
				s.graph.Impls = append(s.graph.Impls, im)
				s.addItem(scope, im.ID.GraphID())
			}
		case *ast.Module:
			id, err := s.buildModule(ctx, v)
			s.addSubmodule(scope, id)
			if err != nil {
				return err
			}
		case *ast.Use:
			for _, id := range s.buildUse(v) {
				s.addImport(scope, id)
			}
		case *ast.ExternCrate:
			s.addImport(scope, s.buildExternCrate(v))
		case *ast.Const:
			val := s.buildValue(&v.ItemMeta, v.Type, v.Value, ValueConstant, false)
			s.addValue(scope, val)
		case *ast.Static:
			val := s.buildValue(&v.ItemMeta, v.Type, v.Value, ValueStatic, v.IsMutable)
			s.addValue(scope, val)
		case *ast.MacroRules:
			if m, ok := s.buildMacroRules(v); ok {
				s.graph.Macros = append(s.graph.Macros, m)
				s.declare(m.Name, m.ID.GraphID())
				s.addItem(scope, m.ID.GraphID())
			}
		case *ast.MacroCall:
			id := s.buildMacroCall(v, scope.id)
			s.addItem(scope, id.GraphID())
		default:
			s.diagnose("unsupported item kind %s", it.Kind())
		}
	}
	return nil
}

func (s *buildState) addTypeDef(scope *moduleScope, d TypeDefNode) {
	s.graph.DefinedTypes = append(s.graph.DefinedTypes, d)
	s.declare(d.Name(), d.ID().GraphID())
	s.addItem(scope, d.ID().GraphID())
}

func (s *buildState) addValue(scope *moduleScope, v ValueNode) {
	s.graph.Values = append(s.graph.Values, v)
	s.declare(v.Name, v.ID.GraphID())
	s.addItem(scope, v.ID.GraphID())
}

// buildModule creates a module node, recursing into inline bodies.
//
// Modules are appended in pre-order: the slot is reserved before the
// children are visited and filled once they are done, so a parent always
// precedes its submodules in CodeGraph.Modules.
func (s *buildState) buildModule(ctx context.Context, m *ast.Module) (NodeID, error) {
	id := s.alloc.NextNodeID()
	path := s.qualify(m.Name)

	attrs := append(append([]ast.Attribute(nil), m.Attributes...), m.InnerAttributes...)
	docs := append(append([]string(nil), m.Docs...), m.InnerDocs...)

	node := ModuleNode{
		ID:         id,
		Name:       m.Name,
		Path:       path,
		Visibility: s.itemVisibility(m),
		Attributes: convertAttributes(attrs),
		Docs:       joinDocs(docs),
		IsInline:   m.IsInline,
	}
	s.declare(m.Name, id.GraphID())

	slot := len(s.graph.Modules)
	s.graph.Modules = append(s.graph.Modules, node)

	scope := newModuleScope(id)
	parentPath := s.modulePath
	s.modulePath = path
	err := s.visitItems(ctx, scope, m.Items)
	s.modulePath = parentPath

	s.graph.Modules[slot].Submodules = scope.submodules
	s.graph.Modules[slot].Items = scope.items
	s.graph.Modules[slot].Imports = scope.imports
	return id, err
}
