// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds ID-addressable code graphs from lowered Rust files.
//
// A CodeGraph is a typed collection of declaration nodes (functions, type
// definitions, traits, impls, modules, values, macros, imports), a shared
// type table in which every distinct type expression appears once, and the
// typed relations between them.
//
// # Identifier Spaces
//
// Declarations use NodeID, type-table entries use TypeID and traits use
// TraitID. Every relation endpoint is a GraphID, which tags the numeric
// value with the space it belongs to.
//
// # Ownership Model
//
// A build owns its buildState exclusively. Nodes are appended to the
// CodeGraph exactly once and are never mutated afterwards.
//
// # Thread Safety
//
// A single Build call is single-threaded. The returned CodeGraph is
// read-only and safe to share across goroutines. Analyzer runs one Build
// per file in parallel, each with its own id space.
//
// # Lifecycle
//
//  1. Lower source with ast.RustParser
//  2. Build with Builder.Build
//  3. Optionally ValidateGraph
//  4. Persist with WriteDocument or SnapshotManager.Save
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNilFile is returned when Build is given a nil file.
	ErrNilFile = errors.New("nil file")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("build cancelled")

	// ErrInvalidSourceType is the sentinel for RelationInvalidSource.
	ErrInvalidSourceType = errors.New("invalid relation source type")

	// ErrInvalidTargetType is the sentinel for RelationInvalidTarget.
	ErrInvalidTargetType = errors.New("invalid relation target type")

	// ErrMissingRequiredID is the sentinel for RelationMissingID.
	ErrMissingRequiredID = errors.New("missing required id")

	// ErrCircularDependency is the sentinel for RelationCircular.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrGenericConstraintViolation is the sentinel for RelationGenericConstraint.
	ErrGenericConstraintViolation = errors.New("generic constraint violation")

	// ErrInvalidImplementationPairing is the sentinel for RelationImplPairing.
	ErrInvalidImplementationPairing = errors.New("invalid implementation pairing")

	// ErrUnsupportedFormat is returned for an unknown document format.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrSchemaVersionMismatch is returned when a persisted document was
	// written by an incompatible schema version.
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")

	// ErrSnapshotNotFound is returned when a snapshot id or project has no
	// stored snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotCorrupt is returned when a stored payload fails its
	// integrity check or cannot be decoded.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrNotDirectory is returned when AnalyzeTree or Discover is given a
	// path that is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)
