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
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serializationSource = `
/// A point.
#[derive(Debug, Clone)]
pub struct Point { pub x: f64, pub y: f64 }

pub trait Area { fn area(&self) -> f64; }

impl Area for Point { fn area(&self) -> f64 { 0.0 } }

pub const ORIGIN_LABEL: &str = "origin: (0, 0)";

pub mod geo { pub fn dist(a: &super::Point, b: &super::Point) -> f64 { 0.0 } }
`

func TestWriteDocument_RoundTrip(t *testing.T) {
	result := buildSource(t, serializationSource)
	doc := NewDocument(result)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteDocument(&buf, doc, format))

			got, err := ReadDocument(&buf, format)
			require.NoError(t, err)

			assert.Equal(t, GraphSchemaVersion, got.SchemaVersion)
			assert.Equal(t, doc.SourceHash, got.SourceHash)
			assert.Equal(t, doc.GeneratedAtMilli, got.GeneratedAtMilli)
			assert.Equal(t, doc.Graph, got.Graph)
			require.NotNil(t, got.Stats)
			assert.Equal(t, result.Stats.FilteredImpls, got.Stats.FilteredImpls)

			want, err := doc.GraphHash()
			require.NoError(t, err)
			have, err := got.GraphHash()
			require.NoError(t, err)
			assert.Equal(t, want, have)
		})
	}
}

func TestWriteDocument_JSONDeterministic(t *testing.T) {
	first := NewDocument(buildSource(t, serializationSource))
	second := NewDocument(buildSource(t, serializationSource))
	second.GeneratedAtMilli = first.GeneratedAtMilli

	var a, b bytes.Buffer
	require.NoError(t, WriteDocument(&a, first, FormatJSON))
	require.NoError(t, WriteDocument(&b, second, FormatJSON))
	assert.Equal(t, a.String(), b.String())
	assert.NotContains(t, a.String(), "duration_micro")
}

func TestNewDocument_OmitsBuildDuration(t *testing.T) {
	result := buildSource(t, serializationSource)
	result.Stats.DurationMicro = 1234

	doc := NewDocument(result)
	assert.Zero(t, doc.Stats.DurationMicro)
	assert.Equal(t, int64(1234), result.Stats.DurationMicro, "build result must not be modified")
}

func TestWriteDocument_EmptyGraphKeepsCollections(t *testing.T) {
	doc := NewDocument(buildSource(t, ""))

	var buf bytes.Buffer
	require.NoError(t, WriteDocument(&buf, doc, FormatJSON))
	out := buf.String()
	for _, key := range []string{`"functions": []`, `"impls": []`, `"macro_invocations": []`} {
		assert.Contains(t, out, key)
	}

	buf.Reset()
	require.NoError(t, WriteDocument(&buf, doc, FormatYAML))
	assert.Contains(t, buf.String(), "functions: []")
	assert.NotContains(t, buf.String(), `"functions"`)
}

func TestWriteDocument_YAMLQuotesAmbiguousStrings(t *testing.T) {
	doc := NewDocument(buildSource(t, serializationSource))

	var buf bytes.Buffer
	require.NoError(t, WriteDocument(&buf, doc, FormatYAML))
	out := buf.String()
	assert.Contains(t, out, "schema_version: \"1.0\"")
	assert.Contains(t, out, "name: Point")
}

func TestWriteDocument_UnsupportedFormat(t *testing.T) {
	doc := NewDocument(buildSource(t, ""))
	err := WriteDocument(&bytes.Buffer{}, doc, Format("xml"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = ReadDocument(strings.NewReader("{}"), Format("xml"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestReadDocument_SchemaMismatch(t *testing.T) {
	_, err := ReadDocument(strings.NewReader(`{"schema_version": "0.1", "graph": null}`), FormatJSON)
	assert.True(t, errors.Is(err, ErrSchemaVersionMismatch))
}

func TestSchemaCompatible(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{GraphSchemaVersion, true},
		{"1", true},
		{"v1.0", true},
		{"1.0.0", true},
		{"1.9", false},
		{"2.0", false},
		{"0.1", false},
		{"", false},
		{"latest", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SchemaCompatible(tt.version), tt.version)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"toml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocumentFile_RoundTrip(t *testing.T) {
	doc := NewDocument(buildSource(t, serializationSource))
	dir := t.TempDir()

	for _, name := range []string{"out/lib.json", "out/lib.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteDocumentFile(path, doc))
			got, err := ReadDocumentFile(path)
			require.NoError(t, err)
			assert.Equal(t, doc.Graph, got.Graph)
		})
	}
}
