// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed rustgraph.config.yaml
var defaultConfigYAML []byte

// ErrConfigExists is returned by WriteTemplate when the file is present
// and force is false.
var ErrConfigExists = errors.New("config file already exists")

// Template returns the commented default configuration. Parsing it yields
// Default().
func Template() []byte {
	out := make([]byte, len(defaultConfigYAML))
	copy(out, defaultConfigYAML)
	return out
}

// WriteTemplate writes Template() to <projectRoot>/FileName.
//
// Outputs:
//
//	string - The path written.
//	error - ErrConfigExists, or a write error.
func WriteTemplate(ctx context.Context, projectRoot string, force bool) (string, error) {
	_, span := tracer.Start(ctx, "config.WriteTemplate")
	defer span.End()

	path := filepath.Join(projectRoot, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.WriteFile(path, defaultConfigYAML, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Info("config template written", slog.String("path", path))
	return path, nil
}
