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
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"lukechampine.com/blake3"
)

// BadgerDB key prefixes for snapshots.
const (
	keyPrefixSnap      = "codegraph:snap:"
	keyPrefixSnapIndex = "codegraph:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// DefaultSnapshotListLimit caps List when no limit is given.
const DefaultSnapshotListLimit = 100

// SnapshotMeta describes one saved snapshot.
type SnapshotMeta struct {
	// SnapshotID is the first 16 hex characters of
	// BLAKE3(SourcePath, GraphHash, save time).
	SnapshotID string `json:"snapshot_id"`

	SourcePath string `json:"source_path"`
	SourceHash string `json:"source_hash"`

	// SourceKey is SourceKeyFor(SourcePath); snapshots of the same file
	// share it.
	SourceKey string `json:"source_key"`

	// GraphHash is Document.GraphHash of the stored document.
	GraphHash string `json:"graph_hash"`

	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`

	Symbols   int `json:"symbols"`
	Relations int `json:"relations"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the BLAKE3 hex digest of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager stores documents as gzip-compressed JSON in BadgerDB.
//
// Key Schema:
//
//	codegraph:snap:{sourceKey}:{snapshotID}:data → gzip(JSON(Document))
//	codegraph:snap:{sourceKey}:{snapshotID}:meta → JSON(SnapshotMeta)
//	codegraph:snap:{sourceKey}:latest            → snapshotID
//	codegraph:snap:index:{snapshotID}            → sourceKey
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSnapshotDB opens a BadgerDB for snapshots. An empty dir opens an
// in-memory store.
func OpenSnapshotDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %q: %w", dir, err)
	}
	return db, nil
}

// NewSnapshotManager creates a manager over an opened BadgerDB. The
// caller owns db and closes it.
//
// Outputs:
//
//	*SnapshotManager - The configured manager.
//	error - Non-nil if db is nil.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotManager{db: db, logger: logger, now: time.Now}, nil
}

// Save persists doc and moves the latest pointer of its source to it.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	doc - The document to store. Must not be nil.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*SnapshotMeta - Metadata of the saved snapshot.
//	error - Non-nil if encoding or storage fails.
func (m *SnapshotManager) Save(ctx context.Context, doc *Document, label string) (meta *SnapshotMeta, err error) {
	ctx, span := startSnapshotSpan(ctx, "save")
	defer func() { endSnapshotSpan(span, "save", err) }()

	if doc == nil || doc.Graph == nil {
		return nil, fmt.Errorf("document must have a graph")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graphHash, err := doc.GraphHash()
	if err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing document: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	data := compressed.Bytes()

	created := m.now()
	sourceKey := SourceKeyFor(doc.SourcePath)
	snapshotID := hashString(doc.SourcePath + "\x00" + graphHash + "\x00" + strconv.FormatInt(created.UnixNano(), 10))[:16]

	meta = &SnapshotMeta{
		SnapshotID:     snapshotID,
		SourcePath:     doc.SourcePath,
		SourceHash:     doc.SourceHash,
		SourceKey:      sourceKey,
		GraphHash:      graphHash,
		Label:          label,
		CreatedAtMilli: created.UnixMilli(),
		Symbols:        len(Symbols(doc.Graph)),
		Relations:      len(doc.Graph.Relations),
		SchemaVersion:  doc.SchemaVersion,
		CompressedSize: int64(len(data)),
		ContentHash:    hashBytes(data),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(sourceKey, snapshotID), data); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(sourceKey, snapshotID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(latestKey(sourceKey), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnapIndex+snapshotID), []byte(sourceKey)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	span.SetAttributes(attribute.String("snapshot.id", snapshotID))
	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("source_path", doc.SourcePath),
		slog.Int("symbols", meta.Symbols),
		slog.Int("relations", meta.Relations),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load returns the document and metadata stored under snapshotID.
//
// Outputs:
//
//	error - ErrSnapshotNotFound for an unknown id, ErrSnapshotCorrupt if
//	        the payload fails its integrity check.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (doc *Document, meta *SnapshotMeta, err error) {
	ctx, span := startSnapshotSpan(ctx, "load")
	defer func() { endSnapshotSpan(span, "load", err) }()

	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sourceKey, err := m.sourceKeyOf(snapshotID)
	if err != nil {
		return nil, nil, err
	}
	return m.loadByKeys(sourceKey, snapshotID)
}

// Latest loads the most recent snapshot saved for sourcePath.
func (m *SnapshotManager) Latest(ctx context.Context, sourcePath string) (doc *Document, meta *SnapshotMeta, err error) {
	ctx, span := startSnapshotSpan(ctx, "latest")
	defer func() { endSnapshotSpan(span, "latest", err) }()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sourceKey := SourceKeyFor(sourcePath)
	var snapshotID string
	err = m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(sourceKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: no snapshot for %s", ErrSnapshotNotFound, sourcePath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", sourcePath, err)
	}
	return m.loadByKeys(sourceKey, snapshotID)
}

// List returns snapshot metadata newest first. A non-empty sourcePath
// restricts the listing to that file. limit <= 0 means
// DefaultSnapshotListLimit.
func (m *SnapshotManager) List(ctx context.Context, sourcePath string, limit int) (results []*SnapshotMeta, err error) {
	ctx, span := startSnapshotSpan(ctx, "list")
	defer func() { endSnapshotSpan(span, "list", err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSnapshotListLimit
	}

	prefix := keyPrefixSnap
	if sourcePath != "" {
		prefix = keyPrefixSnap + SourceKeyFor(sourcePath) + ":"
	}

	err = m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta SnapshotMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				m.logger.Warn("skipping corrupt snapshot metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAtMilli != results[j].CreatedAtMilli {
			return results[i].CreatedAtMilli > results[j].CreatedAtMilli
		}
		return results[i].SnapshotID < results[j].SnapshotID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. If it was the latest for its source, the
// latest pointer moves to the newest remaining snapshot, or is removed.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) (err error) {
	ctx, span := startSnapshotSpan(ctx, "delete")
	defer func() { endSnapshotSpan(span, "delete", err) }()

	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sourceKey, err := m.sourceKeyOf(snapshotID)
	if err != nil {
		return err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{
			dataKey(sourceKey, snapshotID),
			metaKey(sourceKey, snapshotID),
			[]byte(keyPrefixSnapIndex + snapshotID),
		} {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
		}

		item, err := txn.Get(latestKey(sourceKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != snapshotID {
			return nil
		}
		next, err := newestRemaining(txn, sourceKey, snapshotID)
		if err != nil {
			return err
		}
		if next == "" {
			return txn.Delete(latestKey(sourceKey))
		}
		return txn.Set(latestKey(sourceKey), []byte(next))
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// newestRemaining finds the newest snapshot of sourceKey other than skip.
func newestRemaining(txn *badger.Txn, sourceKey, skip string) (string, error) {
	prefix := []byte(keyPrefixSnap + sourceKey + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var best SnapshotMeta
	for it.Seek(prefix); it.Valid(); it.Next() {
		item := it.Item()
		if !strings.HasSuffix(string(item.Key()), keySuffixMeta) {
			continue
		}
		var meta SnapshotMeta
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			continue
		}
		if meta.SnapshotID == skip {
			continue
		}
		if best.SnapshotID == "" || meta.CreatedAtMilli > best.CreatedAtMilli {
			best = meta
		}
	}
	return best.SnapshotID, nil
}

func (m *SnapshotManager) loadByKeys(sourceKey, snapshotID string) (*Document, *SnapshotMeta, error) {
	var data, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(sourceKey, snapshotID))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(metaKey(sourceKey, snapshotID))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta SnapshotMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("%w: metadata of %s: %v", ErrSnapshotCorrupt, snapshotID, err)
	}
	if actual := hashBytes(data); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("%w: %s: expected hash %s, got %s", ErrSnapshotCorrupt, snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decompressing %s: %v", ErrSnapshotCorrupt, snapshotID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decompressing %s: %v", ErrSnapshotCorrupt, snapshotID, err)
	}

	doc, err := ReadDocument(bytes.NewReader(jsonData), FormatJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot %s: %w", snapshotID, err)
	}
	return doc, &meta, nil
}

func (m *SnapshotManager) sourceKeyOf(snapshotID string) (string, error) {
	var sourceKey string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnapIndex + snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sourceKey = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return "", fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return sourceKey, nil
}

// SourceKeyFor returns the 16-character key grouping the snapshots of one
// source path.
func SourceKeyFor(sourcePath string) string {
	return hashString(sourcePath)[:16]
}

func dataKey(sourceKey, id string) []byte {
	return []byte(keyPrefixSnap + sourceKey + ":" + id + keySuffixData)
}

func metaKey(sourceKey, id string) []byte {
	return []byte(keyPrefixSnap + sourceKey + ":" + id + keySuffixMeta)
}

func latestKey(sourceKey string) []byte {
	return []byte(keyPrefixSnap + sourceKey + keySuffixLatest)
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func startSnapshotSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.SnapshotManager."+op)
}

func endSnapshotSpan(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	recordSnapshotOp(op, err)
}
