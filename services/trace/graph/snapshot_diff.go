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
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/sourcegraph/go-diff/diff"
)

// SnapshotDiff contains the differences between two documents.
//
// Symbols are matched by kind and qualified name, never by id, because ids
// are assigned per build and shift whenever an earlier item is added.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`
	BasePath         string `json:"base_path"`
	TargetPath       string `json:"target_path"`

	Added    []Symbol       `json:"added"`
	Removed  []Symbol       `json:"removed"`
	Modified []SymbolChange `json:"modified"`

	// RelationsAdded and RelationsRemoved count relations between symbols
	// and types, compared by endpoint name.
	RelationsAdded   int `json:"relations_added"`
	RelationsRemoved int `json:"relations_removed"`

	Summary DiffSummary `json:"summary"`

	lines []diffLine
}

// SymbolChange is a symbol present on both sides with a different
// signature.
type SymbolChange struct {
	QualifiedName string     `json:"qualified_name"`
	Kind          SymbolKind `json:"kind"`
	Before        string     `json:"before"`
	After         string     `json:"after"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is added + removed + modified symbols.
	TotalChanges  int `json:"total_changes"`
	BaseSymbols   int `json:"base_symbols"`
	TargetSymbols int `json:"target_symbols"`

	// ChangeRatio is TotalChanges over the larger symbol count (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// IsEmpty reports whether the two sides have the same symbols and
// relations.
func (d *SnapshotDiff) IsEmpty() bool {
	return d.Summary.TotalChanges == 0 && d.RelationsAdded == 0 && d.RelationsRemoved == 0
}

type diffOp byte

const (
	opContext diffOp = ' '
	opRemove  diffOp = '-'
	opAdd     diffOp = '+'
)

type diffLine struct {
	op   diffOp
	text string
}

// DiffDocuments compares two documents symbol by symbol.
//
// Complexity:
//
//	O(S log S + R) where S is the symbol count and R the relation count.
//
// Thread Safety:
//
//	Safe for concurrent use; neither document is modified.
func DiffDocuments(base, target *Document, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil || base.Graph == nil {
		return nil, fmt.Errorf("base document must not be nil")
	}
	if target == nil || target.Graph == nil {
		return nil, fmt.Errorf("target document must not be nil")
	}

	d := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		BasePath:         base.SourcePath,
		TargetPath:       target.SourcePath,
		Added:            []Symbol{},
		Removed:          []Symbol{},
		Modified:         []SymbolChange{},
	}

	before := keyedSymbols(Symbols(base.Graph))
	after := keyedSymbols(Symbols(target.Graph))

	i, j := 0, 0
	for i < len(before) || j < len(after) {
		switch {
		case j == len(after) || (i < len(before) && before[i].key < after[j].key):
			d.Removed = append(d.Removed, before[i].sym)
			d.lines = append(d.lines, diffLine{opRemove, before[i].sym.Signature})
			i++
		case i == len(before) || after[j].key < before[i].key:
			d.Added = append(d.Added, after[j].sym)
			d.lines = append(d.lines, diffLine{opAdd, after[j].sym.Signature})
			j++
		default:
			b, a := before[i].sym, after[j].sym
			if b.Signature == a.Signature {
				d.lines = append(d.lines, diffLine{opContext, b.Signature})
			} else {
				d.Modified = append(d.Modified, SymbolChange{
					QualifiedName: a.QualifiedName,
					Kind:          a.Kind,
					Before:        b.Signature,
					After:         a.Signature,
				})
				d.lines = append(d.lines, diffLine{opRemove, b.Signature}, diffLine{opAdd, a.Signature})
			}
			i++
			j++
		}
	}

	baseRels := relationSet(base.Graph)
	targetRels := relationSet(target.Graph)
	for r, n := range targetRels {
		if extra := n - baseRels[r]; extra > 0 {
			d.RelationsAdded += extra
		}
	}
	for r, n := range baseRels {
		if missing := n - targetRels[r]; missing > 0 {
			d.RelationsRemoved += missing
		}
	}

	d.Summary = DiffSummary{
		TotalChanges:  len(d.Added) + len(d.Removed) + len(d.Modified),
		BaseSymbols:   len(before),
		TargetSymbols: len(after),
	}
	if denom := max(len(before), len(after)); denom > 0 {
		d.Summary.ChangeRatio = float64(d.Summary.TotalChanges) / float64(denom)
	}
	return d, nil
}

// Unified renders the symbol signatures of both sides as a unified diff
// with one hunk. It returns an empty string when nothing changed.
func (d *SnapshotDiff) Unified() (string, error) {
	if d.Summary.TotalChanges == 0 {
		return "", nil
	}

	var body bytes.Buffer
	var origLines, newLines int32
	for _, l := range d.lines {
		body.WriteByte(byte(l.op))
		body.WriteString(l.text)
		body.WriteByte('\n')
		if l.op != opAdd {
			origLines++
		}
		if l.op != opRemove {
			newLines++
		}
	}

	hunk := &diff.Hunk{
		OrigStartLine: startLine(origLines),
		OrigLines:     origLines,
		NewStartLine:  startLine(newLines),
		NewLines:      newLines,
		Body:          body.Bytes(),
	}
	fd := &diff.FileDiff{
		OrigName: diffName("a", d.BasePath, d.BaseSnapshotID),
		NewName:  diffName("b", d.TargetPath, d.TargetSnapshotID),
		Hunks:    []*diff.Hunk{hunk},
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("printing diff: %w", err)
	}
	return string(out), nil
}

func startLine(n int32) int32 {
	if n == 0 {
		return 0
	}
	return 1
}

func diffName(side, path, id string) string {
	name := side + "/" + path
	if id != "" {
		name += "@" + id
	}
	return name
}

type keyedSymbol struct {
	key string
	sym Symbol
}

// keyedSymbols sorts symbols by kind and qualified name. Repeated names,
// such as cfg-gated duplicates, get an occurrence suffix.
func keyedSymbols(syms []Symbol) []keyedSymbol {
	seen := make(map[string]int, len(syms))
	out := make([]keyedSymbol, 0, len(syms))
	for _, s := range syms {
		base := s.QualifiedName + "\x00" + string(s.Kind)
		n := seen[base]
		seen[base] = n + 1
		key := base
		if n > 0 {
			key += "\x00" + strconv.Itoa(n)
		}
		out = append(out, keyedSymbol{key: key, sym: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// relationSet counts relations by their endpoint names. Relations touching
// anonymous nodes such as parameters or fields are left out.
func relationSet(g *CodeGraph) map[string]int {
	names := make(map[GraphID]string)
	if root := g.Root(); root != nil {
		names[root.ID.GraphID()] = "module " + RootModuleName
	}
	for _, s := range Symbols(g) {
		names[s.ID] = string(s.Kind) + " " + s.QualifiedName
	}
	for _, t := range g.TypeGraph {
		names[t.ID.GraphID()] = "type " + t.Text
	}
	set := make(map[string]int)
	for _, r := range g.Relations {
		src, ok := names[r.Source]
		if !ok {
			continue
		}
		dst, ok := names[r.Target]
		if !ok {
			continue
		}
		set[src+" -"+string(r.Kind)+"-> "+dst]++
	}
	return set
}
