// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

func snapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, inspect and compare graph snapshots",
	}
	cmd.AddCommand(
		snapshotSaveCmd(a),
		snapshotListCmd(a),
		snapshotShowCmd(a),
		snapshotDiffCmd(a),
		snapshotDeleteCmd(a),
	)
	return cmd
}

func snapshotSaveCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "save <src>",
		Short: "Build and store a snapshot per Rust file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			t, err := a.analyzeTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			failed := reportFailures(errOut, t.files)

			mgr, closeDB, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			var rows [][]string
			for _, fr := range t.files {
				if fr.Result == nil || fr.Err != nil {
					continue
				}
				meta, err := mgr.Save(cmd.Context(), graph.NewDocument(fr.Result), label)
				if err != nil {
					return fmt.Errorf("saving %s: %w", fr.Path, err)
				}
				rows = append(rows, metaRow(meta))
			}
			printTable(out, metaHeaders, rows)
			if failed > 0 {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Free-form snapshot label")
	return cmd
}

func snapshotListCmd(a *app) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			metas, err := mgr.List(cmd.Context(), path, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(metas))
			for _, m := range metas {
				rows = append(rows, metaRow(m))
			}
			printTable(cmd.OutOrStdout(), metaHeaders, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Only list snapshots of this source path")
	cmd.Flags().IntVar(&limit, "limit", graph.DefaultSnapshotListLimit, "Maximum snapshots to list")
	return cmd
}

func snapshotShowCmd(a *app) *cobra.Command {
	var (
		document bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Show a snapshot's metadata or its full document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mgr, closeDB, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			doc, meta, err := mgr.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if document {
				f := a.cfg.Format()
				if format != "" {
					if f, err = graph.ParseFormat(format); err != nil {
						return err
					}
				}
				return graph.WriteDocument(out, doc, f)
			}
			printMeta(out, meta)
			printTable(out, []string{"Collection", "Count"}, statsRows(doc.Graph.Stats()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&document, "document", false, "Print the stored document")
	cmd.Flags().StringVar(&format, "format", "", "Document format: json or yaml")
	return cmd
}

func snapshotDiffCmd(a *app) *cobra.Command {
	var (
		unified bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare the symbols of two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mgr, closeDB, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			base, _, err := mgr.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("base: %w", err)
			}
			target, _, err := mgr.Load(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			diff, err := graph.DiffDocuments(base, target, args[0], args[1])
			if err != nil {
				return err
			}

			switch {
			case asJSON:
				return printJSON(out, diff)
			case unified:
				text, err := diff.Unified()
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
				return nil
			}

			if diff.IsEmpty() {
				fmt.Fprintln(out, "no changes")
				return nil
			}
			var rows [][]string
			for _, s := range diff.Added {
				rows = append(rows, []string{"+", string(s.Kind), s.QualifiedName, s.Signature})
			}
			for _, s := range diff.Removed {
				rows = append(rows, []string{"-", string(s.Kind), s.QualifiedName, s.Signature})
			}
			for _, c := range diff.Modified {
				rows = append(rows, []string{"~", string(c.Kind), c.QualifiedName, c.Before + " => " + c.After})
			}
			printTable(out, []string{"Op", "Kind", "Symbol", "Signature"}, rows)
			fmt.Fprintf(out, "%d change(s), relations +%d -%d\n",
				diff.Summary.TotalChanges, diff.RelationsAdded, diff.RelationsRemoved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unified, "unified", false, "Print a unified diff of symbol signatures")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the diff as JSON")
	return cmd
}

func snapshotDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeDB, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

var metaHeaders = []string{"ID", "Source", "Label", "Created", "Symbols", "Relations"}

func metaRow(m *graph.SnapshotMeta) []string {
	return []string{
		m.SnapshotID,
		m.SourcePath,
		m.Label,
		time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339),
		strconv.Itoa(m.Symbols),
		strconv.Itoa(m.Relations),
	}
}

func printMeta(w io.Writer, m *graph.SnapshotMeta) {
	fmt.Fprintf(w, "snapshot:   %s\n", m.SnapshotID)
	fmt.Fprintf(w, "source:     %s (%s)\n", m.SourcePath, m.SourceHash)
	if m.Label != "" {
		fmt.Fprintf(w, "label:      %s\n", m.Label)
	}
	fmt.Fprintf(w, "created:    %s\n", time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "graph hash: %s\n", m.GraphHash)
	fmt.Fprintf(w, "schema:     %s, %d bytes compressed\n", m.SchemaVersion, m.CompressedSize)
}
