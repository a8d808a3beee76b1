// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads rustgraph.config.yaml.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/rustgraph/services/trace/ast"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
)

// FileName is the config file looked up at the project root.
const FileName = "rustgraph.config.yaml"

// MaxConfigFileSize bounds the config file read from disk.
const MaxConfigFileSize = 1 << 20

const (
	DefaultSnapshotDir  = ".rustgraph/snapshots"
	DefaultOutputFormat = "json"
)

var tracer = otel.Tracer("rustgraph.trace.config")

// ErrInvalidConfig wraps every parse and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the project configuration.
//
// Description:
//
//	All fields are optional. A missing file yields Default(). Fields left
//	out of a present file keep their default values.
//
// Thread Safety: Safe for concurrent reads after Load returns.
type Config struct {
	// Include lists doublestar globs of files to analyze, relative to the
	// project root.
	// Example: ["src/**/*.rs"]
	Include []string `yaml:"include" validate:"dive,required,glob"`

	// Exclude lists doublestar globs skipped during discovery.
	// Example: ["target/**", "vendor/**"]
	Exclude []string `yaml:"exclude" validate:"dive,required,glob"`

	// RespectGitignore skips paths matched by the root .gitignore.
	RespectGitignore bool `yaml:"respect_gitignore"`

	// ExcludeFromAnalysis and IncludeOverride feed file classification.
	ExcludeFromAnalysis []string `yaml:"exclude_from_analysis" validate:"dive,required,glob"`
	IncludeOverride     []string `yaml:"include_override" validate:"dive,required,glob"`

	PrivateModuleMarkers []string `yaml:"private_module_markers" validate:"dive,required"`
	IncludePrivateItems  bool     `yaml:"include_private_items"`
	FreshBoundTypes      bool     `yaml:"fresh_bound_types"`
	ValidateOnBuild      bool     `yaml:"validate_on_build"`
	StrictSyntax         bool     `yaml:"strict_syntax"`

	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" validate:"gte=0"`

	// Workers bounds parallel file analysis. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	// SnapshotDir is the badger directory, relative to the project root
	// unless absolute.
	SnapshotDir string `yaml:"snapshot_dir" validate:"required"`

	OutputFormat string `yaml:"output_format" validate:"oneof=json yaml yml"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Include:              []string{"**/*.rs"},
		Exclude:              []string{"target/**", ".git/**"},
		RespectGitignore:     true,
		PrivateModuleMarkers: []string{graph.DefaultPrivateModuleMarker},
		IncludePrivateItems:  true,
		MaxFileSizeBytes:     ast.DefaultMaxFileSize,
		SnapshotDir:          DefaultSnapshotDir,
		OutputFormat:         DefaultOutputFormat,
	}
}

// Load reads FileName from projectRoot.
//
// Inputs:
//
//	ctx - Context for tracing.
//	projectRoot - Directory holding the config file. May be empty.
//
// Outputs:
//
//	*Config - The parsed config, or Default() if the file is missing.
//	error - Non-nil only if the file exists but cannot be read or is invalid.
func Load(ctx context.Context, projectRoot string) (*Config, error) {
	if projectRoot == "" {
		return Default(), nil
	}
	cfg, err := LoadFile(ctx, filepath.Join(projectRoot, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFile reads and validates a config file at an explicit path.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size (%d > %d)", ErrInvalidConfig, path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default() and validates the result.
func Parse(ctx context.Context, data []byte) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Parse")
	defer span.End()

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("config.include", len(cfg.Include)),
		attribute.Int("config.exclude", len(cfg.Exclude)),
		attribute.Int("config.workers", cfg.Workers),
	)
	slog.Debug("config loaded",
		slog.Int("include", len(cfg.Include)),
		slog.Int("exclude", len(cfg.Exclude)),
		slog.Bool("respect_gitignore", cfg.RespectGitignore),
		slog.Int("workers", cfg.Workers),
	)
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
		return doublestar.ValidatePattern(fl.Field().String())
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// WorkerCount resolves Workers, defaulting to GOMAXPROCS.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// SnapshotPath resolves SnapshotDir against projectRoot.
func (c *Config) SnapshotPath(projectRoot string) string {
	if filepath.IsAbs(c.SnapshotDir) {
		return c.SnapshotDir
	}
	return filepath.Join(projectRoot, c.SnapshotDir)
}

// Format returns the configured document format.
func (c *Config) Format() graph.Format {
	f, err := graph.ParseFormat(c.OutputFormat)
	if err != nil {
		return graph.FormatJSON
	}
	return f
}

// BuilderOptions maps the config onto graph builder options.
func (c *Config) BuilderOptions(logger *slog.Logger) []graph.BuilderOption {
	opts := []graph.BuilderOption{
		graph.WithIncludePrivateItems(c.IncludePrivateItems),
		graph.WithFreshBoundTypes(c.FreshBoundTypes),
		graph.WithValidateOnBuild(c.ValidateOnBuild),
	}
	if len(c.PrivateModuleMarkers) > 0 {
		opts = append(opts, graph.WithPrivateModuleMarkers(c.PrivateModuleMarkers...))
	}
	if logger != nil {
		opts = append(opts, graph.WithLogger(logger))
	}
	return opts
}

// ParserOptions maps the config onto Rust parser options.
func (c *Config) ParserOptions() []ast.RustParserOption {
	opts := []ast.RustParserOption{ast.WithStrictSyntax(c.StrictSyntax)}
	if c.MaxFileSizeBytes > 0 {
		opts = append(opts, ast.WithRustMaxFileSize(c.MaxFileSizeBytes))
	}
	return opts
}

// ClassificationOptions maps the config onto file classification options.
func (c *Config) ClassificationOptions(logger *slog.Logger) graph.FileClassificationOptions {
	return graph.FileClassificationOptions{
		ExcludeFromAnalysis: c.ExcludeFromAnalysis,
		IncludeOverride:     c.IncludeOverride,
		Logger:              logger,
	}
}

// DiscoverOptions maps the config onto file discovery options.
func (c *Config) DiscoverOptions(logger *slog.Logger) graph.DiscoverOptions {
	return graph.DiscoverOptions{
		Include:          c.Include,
		Exclude:          c.Exclude,
		RespectGitignore: c.RespectGitignore,
		Logger:           logger,
	}
}

// AnalyzerOptions combines every option set into one Analyzer config.
func (c *Config) AnalyzerOptions(logger *slog.Logger) graph.AnalyzerOptions {
	return graph.AnalyzerOptions{
		Workers:        c.WorkerCount(),
		Discover:       c.DiscoverOptions(logger),
		Classification: c.ClassificationOptions(logger),
		Parser:         c.ParserOptions(),
		Builder:        c.BuilderOptions(logger),
		Logger:         logger,
	}
}
