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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

// target is the analysis of a file or a directory argument.
type target struct {
	root  string
	files []graph.FileResult

	// classification is nil for a single file.
	classification *graph.FileClassification
}

// analyzeTarget builds src, which is either one Rust file or a tree.
func (a *app) analyzeTarget(ctx context.Context, src string) (*target, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	an := a.analyzer()
	if !info.IsDir() {
		dir, name := filepath.Split(src)
		if dir == "" {
			dir = "."
		}
		return &target{root: dir, files: []graph.FileResult{an.AnalyzeFile(ctx, dir, name)}}, nil
	}
	tree, err := an.AnalyzeTree(ctx, src)
	if err != nil {
		return nil, err
	}
	return &target{root: src, files: tree.Files, classification: tree.Classification}, nil
}

// reportFailures prints per-file errors and returns how many there were.
func reportFailures(w io.Writer, files []graph.FileResult) int {
	n := 0
	for _, f := range files {
		if f.Err != nil {
			fmt.Fprintf(w, "%s: %s\n", f.Path, styled(w, errorStyle, f.Err.Error()))
			n++
		}
	}
	return n
}

func analyzeCmd(a *app) *cobra.Command {
	var (
		format   string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <src> <dst>",
		Short: "Build code graphs and write them as JSON or YAML",
		Long: `Build the code graph of a Rust file or of every selected file under a
directory.

For a file, dst is the output document ("-" writes to stdout). For a
directory, dst is an output directory receiving one document per source
file at <dst>/<relative path>.<format>.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			f := a.cfg.Format()
			if cmd.Flags().Changed("format") {
				parsed, err := graph.ParseFormat(format)
				if err != nil {
					return err
				}
				f = parsed
			}

			t, err := a.analyzeTarget(cmd.Context(), src)
			if err != nil {
				return err
			}
			failed := reportFailures(errOut, t.files)

			single := t.classification == nil
			invalid := 0
			written := 0
			for _, fr := range t.files {
				if fr.Result == nil {
					continue
				}
				for _, d := range fr.Result.Diagnostics {
					a.logger.Warn("build diagnostic", slog.String("file", fr.Path), slog.String("detail", d.String()))
				}
				if validate {
					for _, verr := range graph.ValidateGraph(fr.Result.Graph) {
						fmt.Fprintf(errOut, "%s: %s\n", fr.Path, styled(errOut, errorStyle, verr.Error()))
						invalid++
					}
				}
				if fr.Err != nil {
					continue
				}

				doc := graph.NewDocument(fr.Result)
				switch {
				case single && dst == "-":
					err = graph.WriteDocument(out, doc, f)
				case single:
					err = writeDocument(dst, doc, f, cmd.Flags().Changed("format"))
				default:
					err = writeDocument(filepath.Join(dst, filepath.FromSlash(fr.Path)+"."+string(f)), doc, f, true)
				}
				if err != nil {
					return err
				}
				written++
			}

			if !(single && dst == "-") {
				fmt.Fprintf(out, "wrote %d graph document(s) to %s\n", written, dst)
			}
			if failed > 0 || invalid > 0 {
				fmt.Fprintf(errOut, "%d file(s) failed, %d validation error(s)\n", failed, invalid)
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format: json or yaml (default from config or file extension)")
	cmd.Flags().BoolVar(&validate, "validate", false, "Validate relations and fail on errors")
	return cmd
}

// writeDocument writes doc to path. Without an explicit format the file
// extension decides.
func writeDocument(path string, doc *graph.Document, f graph.Format, explicit bool) error {
	if !explicit {
		return graph.WriteDocumentFile(path, doc)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := graph.WriteDocument(file, doc, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <src>",
		Short: "Check that every relation endpoint resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			t, err := a.analyzeTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			failed := reportFailures(errOut, t.files)

			invalid, checked := 0, 0
			for _, fr := range t.files {
				if fr.Result == nil || fr.Err != nil {
					continue
				}
				checked++
				for _, verr := range graph.ValidateGraph(fr.Result.Graph) {
					fmt.Fprintf(errOut, "%s: %s\n", fr.Path, verr.Error())
					invalid++
				}
			}

			if failed > 0 || invalid > 0 {
				fmt.Fprintf(errOut, "%s: %d file(s) failed, %d validation error(s)\n",
					styled(errOut, errorStyle, "invalid"), failed, invalid)
				return errReported
			}
			fmt.Fprintf(out, "%s: %d graph(s) checked\n", styled(out, okStyle, "valid"), checked)
			return nil
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <src>",
		Short: "Print graph statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			t, err := a.analyzeTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			failed := reportFailures(errOut, t.files)

			if asJSON {
				stats := make(map[string]graph.GraphStats, len(t.files))
				for _, fr := range t.files {
					if fr.Result != nil && fr.Err == nil {
						stats[fr.Path] = fr.Result.Graph.Stats()
					}
				}
				if err := printJSON(out, stats); err != nil {
					return err
				}
			} else if t.classification == nil {
				if fr := t.files[0]; fr.Result != nil && fr.Err == nil {
					printTable(out, []string{"Collection", "Count"}, statsRows(fr.Result.Graph.Stats()))
				}
			} else {
				printTreeStats(out, t)
			}

			if failed > 0 {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print per-file statistics as JSON")
	return cmd
}

func statsRows(s graph.GraphStats) [][]string {
	rows := [][]string{
		{"functions", strconv.Itoa(s.Functions)},
		{"methods", strconv.Itoa(s.Methods)},
		{"defined_types", strconv.Itoa(s.DefinedTypes)},
		{"types", strconv.Itoa(s.Types)},
		{"impls", strconv.Itoa(s.Impls)},
		{"traits", strconv.Itoa(s.Traits)},
		{"private_traits", strconv.Itoa(s.PrivateTraits)},
		{"modules", strconv.Itoa(s.Modules)},
		{"values", strconv.Itoa(s.Values)},
		{"macros", strconv.Itoa(s.Macros)},
		{"macro_invocations", strconv.Itoa(s.MacroInvocations)},
		{"imports", strconv.Itoa(s.Imports)},
		{"relations", strconv.Itoa(s.Relations)},
	}
	kinds := make([]string, 0, len(s.RelationsByKind))
	for k := range s.RelationsByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		rows = append(rows, []string{"  " + k, strconv.Itoa(s.RelationsByKind[graph.RelationKind(k)])})
	}
	return rows
}

func printTreeStats(w io.Writer, t *target) {
	var rows [][]string
	for _, fr := range t.files {
		if fr.Result == nil || fr.Err != nil {
			continue
		}
		kind, _ := t.classification.Kind(fr.Path)
		s := fr.Result.Graph.Stats()
		rows = append(rows, []string{
			fr.Path,
			string(kind),
			strconv.Itoa(s.Functions + s.Methods),
			strconv.Itoa(s.DefinedTypes),
			strconv.Itoa(s.Impls),
			strconv.Itoa(s.Traits),
			strconv.Itoa(s.Relations),
		})
	}
	printTable(w, []string{"File", "Kind", "Functions", "Types", "Impls", "Traits", "Relations"}, rows)

	cs := t.classification.Stats()
	kinds := make([]string, 0, len(cs.ByKind))
	for k, n := range cs.ByKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "\n%d file(s), %d production: %s\n", cs.TotalFiles, cs.ProductionFiles, strings.Join(kinds, " "))
}
