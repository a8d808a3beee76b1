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
	"testing"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diffBaseSource = `
pub struct Config { pub name: String }
pub fn load(path: &str) -> Config { todo!() }
fn helper() {}
`

const diffTargetSource = `
pub mod extra {}
pub struct Config { pub name: String, pub retries: u32 }
pub fn load(path: &str) -> Config { todo!() }
pub fn save(cfg: &Config) {}
`

func TestDiffDocuments_Identical(t *testing.T) {
	base := snapshotDoc(t, "lib.rs", diffBaseSource)
	target := snapshotDoc(t, "lib.rs", diffBaseSource)

	d, err := DiffDocuments(base, target, "base", "target")
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Modified)
	assert.Zero(t, d.Summary.ChangeRatio)

	out, err := d.Unified()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDiffDocuments_Changes(t *testing.T) {
	base := snapshotDoc(t, "lib.rs", diffBaseSource)
	target := snapshotDoc(t, "lib.rs", diffTargetSource)

	d, err := DiffDocuments(base, target, "b1", "t1")
	require.NoError(t, err)

	added := make([]string, 0, len(d.Added))
	for _, s := range d.Added {
		added = append(added, s.QualifiedName)
	}
	assert.ElementsMatch(t, []string{"extra", "save"}, added)

	require.Len(t, d.Removed, 1)
	assert.Equal(t, "helper", d.Removed[0].QualifiedName)

	require.Len(t, d.Modified, 1)
	change := d.Modified[0]
	assert.Equal(t, "Config", change.QualifiedName)
	assert.Equal(t, SymbolStruct, change.Kind)
	assert.Contains(t, change.After, "retries: u32")
	assert.NotContains(t, change.Before, "retries")

	assert.Equal(t, 4, d.Summary.TotalChanges)
	assert.Equal(t, 3, d.Summary.BaseSymbols)
	assert.Equal(t, 4, d.Summary.TargetSymbols)
	assert.InDelta(t, 1.0, d.Summary.ChangeRatio, 1e-9)
	assert.Positive(t, d.RelationsAdded)
}

func TestDiffDocuments_IDShiftIsNotAChange(t *testing.T) {
	base := snapshotDoc(t, "lib.rs", "pub fn a() {}\npub fn b(x: u8) {}")
	target := snapshotDoc(t, "lib.rs", "fn first() {}\npub fn a() {}\npub fn b(x: u8) {}")

	d, err := DiffDocuments(base, target, "", "")
	require.NoError(t, err)
	require.Len(t, d.Added, 1)
	assert.Equal(t, "first", d.Added[0].Name)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Modified)
	assert.Zero(t, d.RelationsRemoved)
}

func TestDiffDocuments_NilInputs(t *testing.T) {
	doc := snapshotDoc(t, "lib.rs", "")
	_, err := DiffDocuments(nil, doc, "", "")
	assert.Error(t, err)
	_, err = DiffDocuments(doc, nil, "", "")
	assert.Error(t, err)
}

func TestSnapshotDiff_Unified(t *testing.T) {
	base := snapshotDoc(t, "lib.rs", diffBaseSource)
	target := snapshotDoc(t, "lib.rs", diffTargetSource)

	d, err := DiffDocuments(base, target, "b1", "t1")
	require.NoError(t, err)

	out, err := d.Unified()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "--- a/lib.rs@b1\n+++ b/lib.rs@t1\n"), out)
	assert.Contains(t, out, "\n-fn helper()\n")
	assert.Contains(t, out, "\n+pub fn save(cfg: &Config)\n")
	assert.Contains(t, out, "\n pub fn load(path: &str) -> Config\n")

	fd, err := diff.ParseFileDiff([]byte(out))
	require.NoError(t, err)
	require.Len(t, fd.Hunks, 1)
	stat := fd.Stat()
	assert.Equal(t, int32(3), stat.Added+stat.Changed)
	assert.Equal(t, int32(2), stat.Deleted+stat.Changed)
}

func TestDiffDocuments_Deterministic(t *testing.T) {
	base := snapshotDoc(t, "lib.rs", diffBaseSource)
	target := snapshotDoc(t, "lib.rs", diffTargetSource)

	first, err := DiffDocuments(base, target, "", "")
	require.NoError(t, err)
	second, err := DiffDocuments(base, target, "", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
