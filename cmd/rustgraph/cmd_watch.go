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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace/export"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/watch"
)

func watchCmd(a *app) *cobra.Command {
	var (
		debounce    time.Duration
		noSnapshots bool
		sqlitePath  string
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Rebuild graphs as Rust files change",
		Long: `Rebuild the graph of every changed Rust file under dir.

Each rebuilt graph is saved as a snapshot unless --no-snapshots is set,
and written to a SQLite database when --sqlite is given. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var mgr *graph.SnapshotManager
			if !noSnapshots {
				m, closeDB, err := a.openSnapshots()
				if err != nil {
					return err
				}
				defer closeDB()
				mgr = m
			}
			var exp export.Exporter
			if sqlitePath != "" {
				e, err := export.NewSQLiteExporter(cmd.Context(), sqlitePath, a.logger)
				if err != nil {
					return err
				}
				defer e.Close(context.WithoutCancel(cmd.Context()))
				exp = e
			}

			w, err := watch.New(args[0], a.analyzer(), a.cfg.DiscoverOptions(a.logger),
				batchHandler(out, mgr, exp),
				watch.WithDebounce(debounce),
				watch.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "watching %s\n", args[0])
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before rebuilding")
	cmd.Flags().BoolVar(&noSnapshots, "no-snapshots", false, "Do not save snapshots")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Keep a SQLite export up to date")
	return cmd
}

// batchHandler reports each batch and persists the rebuilt graphs. mgr and
// exp may be nil.
func batchHandler(out io.Writer, mgr *graph.SnapshotManager, exp export.Exporter) watch.Handler {
	return func(ctx context.Context, b watch.Batch) error {
		var errs []error
		docs := make([]*graph.Document, 0, len(b.Built))
		for _, fr := range b.Built {
			if fr.Err != nil {
				fmt.Fprintf(out, "%s %s: %s\n", styled(out, errorStyle, "!"), fr.Path, fr.Err)
				continue
			}
			doc := graph.NewDocument(fr.Result)
			docs = append(docs, doc)

			line := fmt.Sprintf("%s %s: %d relations", styled(out, okStyle, "~"), fr.Path, fr.Result.Graph.Stats().Relations)
			if mgr != nil {
				meta, err := mgr.Save(ctx, doc, "watch")
				if err != nil {
					errs = append(errs, fmt.Errorf("saving %s: %w", fr.Path, err))
				} else {
					line += ", snapshot " + meta.SnapshotID
				}
			}
			fmt.Fprintln(out, line)
		}
		for _, p := range b.Removed {
			fmt.Fprintf(out, "- %s\n", p)
		}
		if exp != nil && len(docs) > 0 {
			if _, err := exp.Export(ctx, docs...); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
