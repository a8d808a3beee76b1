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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

// GraphSchemaVersion is the version of the serialization schema.
// Bump the minor version for additive changes and the major version for
// breaking ones.
const GraphSchemaVersion = "1.0"

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// FormatFromPath picks a Format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Document is the persisted form of one analyzed file.
//
// Description:
//
//	Wraps a CodeGraph with the schema version and provenance. Collections
//	are written in creation order, so two builds of the same source
//	produce byte-identical graph sections.
//
// Thread Safety: Document is a value type with no internal state.
type Document struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	SourcePath string `json:"source_path"`
	SourceHash string `json:"source_hash"`

	// GeneratedAtMilli is the Unix timestamp in milliseconds when the
	// document was created.
	GeneratedAtMilli int64 `json:"generated_at_milli"`

	Stats *BuildStats `json:"stats,omitempty"`

	Graph *CodeGraph `json:"graph"`
}

// NewDocument wraps a build result for persistence.
func NewDocument(result *BuildResult) *Document {
	doc := &Document{
		SchemaVersion:    GraphSchemaVersion,
		GeneratedAtMilli: time.Now().UnixMilli(),
		Graph:            result.Graph,
	}
	if result.Graph != nil {
		doc.SourcePath = result.Graph.SourcePath
		doc.SourceHash = result.Graph.SourceHash
	}
	// Timing varies between runs and is kept out of persisted documents.
	stats := result.Stats
	stats.DurationMicro = 0
	doc.Stats = &stats
	return doc
}

// GraphHash returns the hex BLAKE3 digest of the graph's JSON encoding.
// It is independent of GeneratedAtMilli and Stats.
func (d *Document) GraphHash() (string, error) {
	data, err := json.Marshal(d.Graph)
	if err != nil {
		return "", fmt.Errorf("encoding graph: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteDocument encodes doc to w as pretty JSON or block-style YAML.
//
// Description:
//
//	YAML output is produced from the JSON encoding, so field names and
//	enum spellings are identical in both formats.
//
// Outputs:
//
//	error - ErrUnsupportedFormat for an unknown format, or an encoding or
//	        write error.
func WriteDocument(w io.Writer, doc *Document, format Format) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	switch format {
	case FormatJSON:
		data = append(data, '\n')
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return fmt.Errorf("converting document to yaml: %w", err)
		}
		resetStyle(&node)
		if data, err = yaml.Marshal(&node); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// resetStyle turns the flow style inherited from JSON into block style.
// Empty collections keep flow style so they render as [] and {}.
func resetStyle(n *yaml.Node) {
	if (n.Kind == yaml.SequenceNode || n.Kind == yaml.MappingNode) && len(n.Content) > 0 {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle && !needsQuotes(n) {
		n.Style = 0
	}
	for _, c := range n.Content {
		resetStyle(c)
	}
}

// needsQuotes reports whether a string scalar would change type or break
// if written plain.
func needsQuotes(n *yaml.Node) bool {
	if n.Tag != "!!str" {
		return false
	}
	var probe yaml.Node
	if err := yaml.Unmarshal([]byte(n.Value), &probe); err != nil || len(probe.Content) != 1 {
		return true
	}
	v := probe.Content[0]
	return v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" || v.Value != n.Value || strings.ContainsAny(n.Value, "\n#:")
}

// ReadDocument decodes a document and checks its schema version.
//
// Outputs:
//
//	*Document - The decoded document.
//	error - ErrUnsupportedFormat, ErrSchemaVersionMismatch, or a decode
//	        error.
func ReadDocument(r io.Reader, format Format) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	switch format {
	case FormatJSON:
	case FormatYAML:
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("converting yaml document: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if !SchemaCompatible(doc.SchemaVersion) {
		return nil, fmt.Errorf("%w: got %q, want %s.x", ErrSchemaVersionMismatch, doc.SchemaVersion, semver.Major(schemaSemver(GraphSchemaVersion)))
	}
	if doc.Graph == nil {
		doc.Graph = NewCodeGraph(doc.SourcePath, doc.SourceHash)
	}
	return &doc, nil
}

// WriteDocumentFile writes doc to path, creating parent directories. The
// format follows the file extension.
func WriteDocumentFile(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteDocument(f, doc, FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDocumentFile reads a document written by WriteDocumentFile.
func ReadDocumentFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadDocument(f, FormatFromPath(path))
}

// SchemaCompatible reports whether a document written with version can be
// read: same major version and not newer than GraphSchemaVersion.
func SchemaCompatible(version string) bool {
	v, want := schemaSemver(version), schemaSemver(GraphSchemaVersion)
	if !semver.IsValid(v) {
		return false
	}
	return semver.Major(v) == semver.Major(want) && semver.Compare(v, want) <= 0
}

func schemaSemver(version string) string {
	return "v" + strings.TrimPrefix(version, "v")
}
