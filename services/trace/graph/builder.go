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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
)

// Default builder configuration values.
const (
	// DefaultPrivateModuleMarker is the module name treated as private
	// when it carries no visibility token.
	DefaultPrivateModuleMarker = "private_module"

	// RootModuleName is the name of the synthetic root module.
	RootModuleName = "root"
)

// ProgressPhase indicates which phase of building is in progress.
type ProgressPhase int

const (
	// ProgressPhaseIndexing indicates trait declarations are being indexed.
	ProgressPhaseIndexing ProgressPhase = iota

	// ProgressPhaseVisiting indicates items are being turned into nodes.
	ProgressPhaseVisiting

	// ProgressPhaseFinalizing indicates cross references are being resolved.
	ProgressPhaseFinalizing
)

// String returns the string representation of the ProgressPhase.
func (p ProgressPhase) String() string {
	switch p {
	case ProgressPhaseIndexing:
		return "indexing"
	case ProgressPhaseVisiting:
		return "visiting"
	case ProgressPhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// BuildProgress contains progress information during a build.
type BuildProgress struct {
	Phase ProgressPhase

	// ItemsTotal is the number of items in the file, nested ones included.
	ItemsTotal int

	// ItemsProcessed is the number of items visited so far.
	ItemsProcessed int

	NodesCreated     int
	RelationsCreated int
}

// ProgressFunc is a callback function for build progress updates.
type ProgressFunc func(progress BuildProgress)

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// PrivateModuleMarkers are module names that become restricted to
	// super when declared without a visibility token.
	// Default: ["private_module"]
	PrivateModuleMarkers []string

	// IncludePrivateItems keeps items declared without a visibility token.
	// Default: true
	IncludePrivateItems bool

	// FreshBoundTypes allocates a new Named type per bound instead of
	// interning bounds through the cache.
	// Default: false
	FreshBoundTypes bool

	// ValidateOnBuild runs ValidateGraph after the build and stores the
	// findings in BuildResult.ValidationErrors.
	ValidateOnBuild bool

	// ProgressCallback is called after each phase. May be nil.
	ProgressCallback ProgressFunc

	// Logger receives debug and warning records. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		PrivateModuleMarkers: []string{DefaultPrivateModuleMarker},
		IncludePrivateItems:  true,
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithPrivateModuleMarkers replaces the private module marker names.
func WithPrivateModuleMarkers(names ...string) BuilderOption {
	return func(o *BuilderOptions) {
		o.PrivateModuleMarkers = append([]string(nil), names...)
	}
}

// WithIncludePrivateItems controls whether token-less items are kept.
func WithIncludePrivateItems(include bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.IncludePrivateItems = include
	}
}

// WithFreshBoundTypes restores fresh allocation of bound types.
func WithFreshBoundTypes(fresh bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.FreshBoundTypes = fresh
	}
}

// WithValidateOnBuild runs ValidateGraph at the end of every build.
func WithValidateOnBuild(validate bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.ValidateOnBuild = validate
	}
}

// WithProgressCallback sets the progress callback function.
func WithProgressCallback(fn ProgressFunc) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProgressCallback = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		o.Logger = logger
	}
}

// Builder constructs code graphs from lowered Rust files.
//
// The builder is stateless and can be reused across multiple builds.
// Each Build() call creates a new graph with its own id spaces.
//
// Thread Safety:
//
//	Builder is safe for concurrent use. Each Build() call operates
//	independently with its own internal state.
type Builder struct {
	options BuilderOptions
	markers map[string]bool
}

// NewBuilder creates a new Builder with the given options.
//
// Example:
//
//	builder := NewBuilder(
//	    WithPrivateModuleMarkers("internal"),
//	    WithValidateOnBuild(true),
//	)
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	markers := make(map[string]bool, len(options.PrivateModuleMarkers))
	for _, m := range options.PrivateModuleMarkers {
		markers[m] = true
	}
	return &Builder{options: options, markers: markers}
}

// Options returns a copy of the builder's options.
func (b *Builder) Options() BuilderOptions { return b.options }

// BuildStats summarizes one build.
type BuildStats struct {
	Items     int `json:"items"`
	Nodes     int `json:"nodes"`
	Types     int `json:"types"`
	Traits    int `json:"traits"`
	Relations int `json:"relations"`

	// FilteredImpls counts impls of private in-file traits.
	FilteredImpls int `json:"filtered_impls"`

	// SkippedMacros counts macro_rules without #[macro_export].
	SkippedMacros int `json:"skipped_macros"`

	// SkippedPrivate counts items dropped because IncludePrivateItems is off.
	SkippedPrivate int `json:"skipped_private"`

	UnknownTypes  int   `json:"unknown_types"`
	DurationMicro int64 `json:"duration_micro,omitempty"`
}

// Diagnostic is a construction irregularity that did not stop the build.
type Diagnostic struct {
	Line    int    `json:"line,omitempty"`
	Item    string `json:"item,omitempty"`
	Message string `json:"message"`
}

// String renders "line N: item: message".
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", d.Line)
	}
	if d.Item != "" {
		b.WriteString(d.Item)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// BuildResult is the output of Build.
type BuildResult struct {
	Graph            *CodeGraph       `json:"graph"`
	Stats            BuildStats       `json:"stats"`
	Diagnostics      []Diagnostic     `json:"diagnostics,omitempty"`
	ValidationErrors []*RelationError `json:"validation_errors,omitempty"`

	// Incomplete is true when the build was cancelled part way.
	Incomplete bool `json:"incomplete,omitempty"`
}

// traitDecl is one entry of the trait pre-scan.
type traitDecl struct {
	id   TraitID
	name string
	path []string
	vis  Visibility
}

// buildState holds mutable state during a single build operation.
type buildState struct {
	builder *Builder
	logger  *slog.Logger
	alloc   *IDAllocator
	types   *TypeInterner
	graph   *CodeGraph
	result  *BuildResult

	// traits is the pre-scan in traversal order; nextTrait is the cursor
	// the trait builder consumes.
	traits       []traitDecl
	traitsByPath map[string]*traitDecl
	traitsByName map[string][]*traitDecl
	nextTrait    int

	// modulePath is the path of the module being visited, root excluded.
	modulePath []string

	// declarations maps module-qualified paths to their ids for import
	// resolution.
	declarations map[string]GraphID

	// importScopes records the module path each use import was declared in.
	importScopes map[NodeID][]string

	currentItem string
	currentLine int
	itemsTotal  int
	itemsDone   int
	startTime   time.Time
}

// Build constructs the code graph of one lowered file.
//
// Description:
//
//	Creates the synthetic root module, indexes every trait declaration so
//	impls can be resolved regardless of order, visits all items depth
//	first, then resolves macro invocations and imports against local
//	declarations. Construction irregularities never abort the build; they
//	degrade to unknown types and are reported in Diagnostics.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between items.
//	file - The lowered file. Must not be nil.
//
// Outputs:
//
//	*BuildResult - The graph and build statistics. On cancellation the
//	               partial result is returned with Incomplete set.
//	error - ErrNilFile, or ErrBuildCancelled wrapping the context error.
//
// Build Phases:
//
//  1. INDEX: Assign TraitIDs to every trait declaration
//  2. VISIT: Create nodes and relations item by item
//  3. FINALIZE: Resolve macro uses and import references
func (b *Builder) Build(ctx context.Context, file *ast.File) (*BuildResult, error) {
	if file == nil {
		return nil, ErrNilFile
	}
	ctx, span := startBuildSpan(ctx, file.Path, len(file.Items))
	defer span.End()

	alloc := NewIDAllocator()
	g := NewCodeGraph(file.Path, file.Hash)
	state := &buildState{
		builder:      b,
		logger:       b.options.Logger.With(slog.String("file", file.Path)),
		alloc:        alloc,
		types:        NewTypeInterner(alloc, g, b.options.FreshBoundTypes),
		graph:        g,
		result:       &BuildResult{Graph: g},
		traitsByPath: make(map[string]*traitDecl),
		traitsByName: make(map[string][]*traitDecl),
		declarations: make(map[string]GraphID),
		importScopes: make(map[NodeID][]string),
		itemsTotal:   file.CountItems(),
		startTime:    time.Now(),
	}

	rootID := alloc.NextNodeID()
	g.Modules = append(g.Modules, ModuleNode{
		ID:         rootID,
		Name:       RootModuleName,
		Path:       []string{},
		Visibility: Visibility{Kind: VisibilityInherited},
		Attributes: convertAttributes(file.InnerAttributes),
		Docs:       joinDocs(file.InnerDocs),
		IsInline:   true,
	})

	// Phase 1: index traits
	state.indexTraits(file.Items)
	b.reportProgress(state, ProgressPhaseIndexing)

	// Phase 2: visit
	scope := newModuleScope(rootID)
	err := state.visitItems(ctx, scope, file.Items)
	g.Modules[0].Submodules = scope.submodules
	g.Modules[0].Items = scope.items
	g.Modules[0].Imports = scope.imports
	b.reportProgress(state, ProgressPhaseVisiting)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBuildCancelled, err)
		state.result.Incomplete = true
		state.finishStats()
		setBuildSpanResult(span, alloc.Counts(), len(g.Relations), err)
		recordBuildMetrics(time.Since(state.startTime), alloc.Counts(), len(g.Relations), state.result.Stats.FilteredImpls, err)
		return state.result, err
	}

	// Phase 3: finalize
	state.resolveMacroUses()
	state.resolveImports()
	state.finishStats()
	b.reportProgress(state, ProgressPhaseFinalizing)

	if b.options.ValidateOnBuild {
		state.result.ValidationErrors = ValidateGraph(g)
	}

	setBuildSpanResult(span, alloc.Counts(), len(g.Relations), nil)
	recordBuildMetrics(time.Since(state.startTime), alloc.Counts(), len(g.Relations), state.result.Stats.FilteredImpls, nil)
	return state.result, nil
}

func (s *buildState) finishStats() {
	counts := s.alloc.Counts()
	st := &s.result.Stats
	st.Items = s.itemsDone
	st.Nodes = counts.Nodes
	st.Types = counts.Types
	st.Traits = counts.Traits
	st.Relations = len(s.graph.Relations)
	st.UnknownTypes = s.types.UnknownCount()
	st.DurationMicro = time.Since(s.startTime).Microseconds()
}

// reportProgress calls the progress callback if configured.
func (b *Builder) reportProgress(s *buildState, phase ProgressPhase) {
	if b.options.ProgressCallback == nil {
		return
	}
	b.options.ProgressCallback(BuildProgress{
		Phase:            phase,
		ItemsTotal:       s.itemsTotal,
		ItemsProcessed:   s.itemsDone,
		NodesCreated:     s.alloc.Counts().Nodes,
		RelationsCreated: len(s.graph.Relations),
	})
}

// relate appends a relation. Endpoints are not validated here.
func (s *buildState) relate(source, target GraphID, kind RelationKind) {
	s.graph.Relations = append(s.graph.Relations, NewRelation(source, target, kind))
}

// diagnose records a non-fatal irregularity against the current item.
func (s *buildState) diagnose(format string, args ...any) {
	d := Diagnostic{Line: s.currentLine, Item: s.currentItem, Message: fmt.Sprintf(format, args...)}
	s.result.Diagnostics = append(s.result.Diagnostics, d)
	s.logger.Warn("degraded construct",
		slog.Int("line", d.Line),
		slog.String("item", d.Item),
		slog.String("detail", d.Message))
}

// resolveType interns t, reporting a missing or unrecognized expression.
func (s *buildState) resolveType(t *ast.TypeExpr, what string) TypeID {
	switch {
	case t == nil:
		s.diagnose("missing type for %s", what)
	case t.Kind == ast.TypeUnknown:
		s.diagnose("unrecognized type %q for %s", ast.NormalizeSpace(t.Raw), what)
	}
	return s.types.GetOrCreate(t)
}

// resolveVisibility resolves a visibility token.
func (s *buildState) resolveVisibility(token string) Visibility {
	return ResolveVisibility(token)
}

// isSkippedPrivate reports whether an item is dropped by the
// private-items policy.
func (s *buildState) isSkippedPrivate(it ast.Item) bool {
	if s.builder.options.IncludePrivateItems {
		return false
	}
	switch it.(type) {
	case *ast.Impl, *ast.MacroCall, *ast.MacroRules:
		return false
	}
	return s.itemVisibility(it).Kind == VisibilityInherited
}

// itemVisibility resolves an item's visibility including the private
// module marker override.
func (s *buildState) itemVisibility(it ast.Item) Visibility {
	meta := it.Meta()
	vis := s.resolveVisibility(meta.Visibility)
	if _, ok := it.(*ast.Module); ok && vis.Kind == VisibilityInherited && s.builder.markers[meta.Name] {
		return Visibility{Kind: VisibilityRestricted, Path: []string{"super"}}
	}
	return vis
}

// qualify returns the module-qualified path of name in the current module.
func (s *buildState) qualify(name string) []string {
	out := make([]string, 0, len(s.modulePath)+1)
	out = append(out, s.modulePath...)
	return append(out, name)
}

// declare records a declaration for import resolution. The first
// declaration of a path wins.
func (s *buildState) declare(name string, id GraphID) {
	if name == "" {
		return
	}
	key := strings.Join(s.qualify(name), "::")
	if _, ok := s.declarations[key]; !ok {
		s.declarations[key] = id
	}
}

// indexTraits walks the file in traversal order and assigns TraitIDs. It
// applies the same skip policy as the visit so the cursor stays aligned.
func (s *buildState) indexTraits(items []ast.Item) {
	s.collectTraits(items, nil)
	for i := range s.traits {
		d := &s.traits[i]
		key := strings.Join(d.path, "::")
		if _, ok := s.traitsByPath[key]; !ok {
			s.traitsByPath[key] = d
		}
		s.traitsByName[d.name] = append(s.traitsByName[d.name], d)
	}
}

func (s *buildState) collectTraits(items []ast.Item, modPath []string) {
	for _, it := range items {
		if s.isSkippedPrivate(it) {
			continue
		}
		switch v := it.(type) {
		case *ast.Trait:
			s.traits = append(s.traits, traitDecl{
				id:   s.alloc.NextTraitID(),
				name: v.Name,
				path: append(append([]string(nil), modPath...), v.Name),
				vis:  s.resolveVisibility(v.Visibility),
			})
		case *ast.Module:
			if v.IsInline {
				s.collectTraits(v.Items, append(append([]string(nil), modPath...), v.Name))
			}
		}
	}
}

// resolveTraitPath finds the in-file trait a path refers to.
//
// Resolution order: the path made absolute against the current module
// (crate, self and super honored), the path as written from the root, and
// for a bare name, the only trait in the file with that name.
func (s *buildState) resolveTraitPath(segments []string) (*traitDecl, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	if abs, ok := absolutePath(s.modulePath, segments); ok {
		if d, ok := s.traitsByPath[strings.Join(abs, "::")]; ok {
			return d, true
		}
	}
	if d, ok := s.traitsByPath[strings.Join(segments, "::")]; ok {
		return d, true
	}
	if len(segments) == 1 {
		if cands := s.traitsByName[segments[0]]; len(cands) == 1 {
			return cands[0], true
		}
	}
	return nil, false
}

// absolutePath resolves a path written inside module cur to a path from
// the root. A path starting with an unknown segment is taken relative to
// cur. Returns false when super walks above the root.
func absolutePath(cur, segments []string) ([]string, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	var base []string
	rest := segments
	switch segments[0] {
	case "crate":
		rest = segments[1:]
	case "self":
		base = append(base, cur...)
		rest = segments[1:]
	case "super":
		base = append(base, cur...)
		for len(rest) > 0 && rest[0] == "super" {
			if len(base) == 0 {
				return nil, false
			}
			base = base[:len(base)-1]
			rest = rest[1:]
		}
	default:
		base = append(base, cur...)
	}
	return append(base, rest...), true
}
