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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace/export"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

func exportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Load code graphs into a queryable store",
	}
	cmd.AddCommand(exportSQLiteCmd(a), exportNeo4jCmd(a))
	return cmd
}

func exportSQLiteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sqlite <src> <db-file>",
		Short: "Export entities and relations into a SQLite database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.NewSQLiteExporter(cmd.Context(), args[1], a.logger)
			if err != nil {
				return err
			}
			return a.runExport(cmd, args[0], exp)
		},
	}
}

func exportNeo4jCmd(a *app) *cobra.Command {
	var cfg export.Neo4jConfig
	cmd := &cobra.Command{
		Use:   "neo4j <src>",
		Short: "Export entities and relations into Neo4j",
		Long: `Export entities and relations into Neo4j.

The password defaults to the NEO4J_PASSWORD environment variable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Password == "" {
				cfg.Password = os.Getenv("NEO4J_PASSWORD")
			}
			exp, err := export.NewNeo4jExporter(cmd.Context(), cfg, a.logger)
			if err != nil {
				return err
			}
			return a.runExport(cmd, args[0], exp)
		},
	}
	cmd.Flags().StringVar(&cfg.URI, "uri", "neo4j://localhost:7687", "Bolt URI")
	cmd.Flags().StringVar(&cfg.Username, "user", "neo4j", "Username")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "Password")
	cmd.Flags().StringVar(&cfg.Database, "database", "", "Database (server default when empty)")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", export.DefaultNeo4jBatchSize, "Rows per UNWIND batch")
	return cmd
}

// runExport analyzes src and writes every successful graph through exp,
// closing exp afterwards.
func (a *app) runExport(cmd *cobra.Command, src string, exp export.Exporter) (err error) {
	defer func() {
		if cerr := exp.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
			err = cerr
		}
	}()

	t, err := a.analyzeTarget(cmd.Context(), src)
	if err != nil {
		return err
	}
	failed := reportFailures(cmd.ErrOrStderr(), t.files)

	docs := make([]*graph.Document, 0, len(t.files))
	for _, fr := range t.files {
		if fr.Result != nil && fr.Err == nil {
			docs = append(docs, graph.NewDocument(fr.Result))
		}
	}
	stats, err := exp.Export(cmd.Context(), docs...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d file(s), %d entities, %d relations\n",
		stats.Files, stats.Entities, stats.Relations)
	if failed > 0 {
		return errReported
	}
	return nil
}
