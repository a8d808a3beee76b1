// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
	"lukechampine.com/blake3"
)

// RustParserOption configures a RustParser instance.
type RustParserOption func(*RustParser)

// WithRustMaxFileSize sets the maximum file size the parser will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
//
// Example:
//
//	parser := NewRustParser(WithRustMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithRustMaxFileSize(bytes int64) RustParserOption {
	return func(p *RustParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithStrictSyntax controls whether syntax errors fail the parse.
//
// When strict (the default), the first ERROR or MISSING node produces a
// *SyntaxError. When lenient, the malformed regions are skipped and
// described in File.Errors.
func WithStrictSyntax(strict bool) RustParserOption {
	return func(p *RustParser) {
		p.strict = strict
	}
}

// RustParser lowers Rust source into a *File using tree-sitter.
//
// Description:
//
//	Each Parse call creates its own tree-sitter parser, walks the concrete
//	syntax tree once, and produces the typed declaration tree consumed by
//	the graph builder. Expressions and bodies are kept as raw text.
//
// Thread Safety:
//
//	RustParser instances are safe for concurrent use.
//
// Example:
//
//	parser := NewRustParser()
//	file, err := parser.Parse(ctx, []byte("pub fn f(x: i32) -> i32 { x }"), "lib.rs")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(len(file.Items))
type RustParser struct {
	maxFileSize int64
	strict      bool
}

// NewRustParser creates a RustParser with the given options.
func NewRustParser(opts ...RustParserOption) *RustParser {
	p := &RustParser{
		maxFileSize: DefaultMaxFileSize,
		strict:      true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse lowers Rust source code into a File.
//
// Description:
//
//	Validates size and encoding, hashes the content with BLAKE3, parses it
//	with the tree-sitter Rust grammar and lowers every declaration.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw Rust source bytes. Must be valid UTF-8.
//   - filePath: Path recorded on the File and in errors.
//
// Outputs:
//   - *File: The lowered file. Never nil on success.
//   - error: Non-nil when the file cannot be analyzed:
//   - ErrFileTooLarge: Content exceeds the size limit
//   - ErrInvalidContent: Content is not valid UTF-8
//   - *SyntaxError: Malformed source in strict mode
//   - Context errors: Context was canceled
//
// Limitations:
//   - Items nested inside function bodies are not lowered.
//   - Tree-sitter parsing cannot be interrupted mid-parse.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *RustParser) Parse(ctx context.Context, content []byte, filePath string) (*File, error) {
	ctx, span := startParseSpan(ctx, filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	sum := blake3.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	file := &File{
		Path:          filePath,
		Hash:          hex.EncodeToString(sum[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
	}

	root := tree.RootNode()
	if root == nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter returned nil root node for %s", filePath)
	}

	if root.HasError() {
		bad := firstErrorNode(root)
		synErr := &SyntaxError{FilePath: filePath, Line: 1, Column: 1}
		if bad != nil {
			synErr.Line = int(bad.StartPoint().Row) + 1
			synErr.Column = int(bad.StartPoint().Column) + 1
			synErr.Snippet = snippet(bad.Content(content))
		}
		if p.strict {
			setParseSpanResult(span, 0, 1)
			recordParseMetrics(ctx, time.Since(start), 0, false)
			return nil, synErr
		}
		file.Errors = append(file.Errors, synErr.Error())
	}

	l := &lowerer{src: content, path: filePath}
	file.Items, file.InnerAttributes, file.InnerDocs = l.lowerItems(root)
	file.Errors = append(file.Errors, l.errors...)

	n := file.CountItems()
	setParseSpanResult(span, n, len(file.Errors))
	recordParseMetrics(ctx, time.Since(start), n, true)

	return file, nil
}

// Extensions returns the file extensions this parser handles.
func (p *RustParser) Extensions() []string {
	return []string{".rs"}
}

// firstErrorNode returns the first ERROR or MISSING node in document order.
func firstErrorNode(root *sitter.Node) *sitter.Node {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "ERROR" || n.IsMissing() {
			return n
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return nil
}

func snippet(s string) string {
	s = NormalizeSpace(s)
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
