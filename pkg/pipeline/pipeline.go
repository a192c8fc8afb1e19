// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline drives the parse store: the master walks the configured
// roots, partitions file keys over a worker pool, workers parse and publish
// artifacts, and the master runs provider selection and terminates the
// transaction. Publishes themselves are uninterruptible; cancellation is
// honored between files.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/kraklabs/parseheap/pkg/blob"
	"github.com/kraklabs/parseheap/pkg/jsparse"
	"github.com/kraklabs/parseheap/pkg/metrics"
	"github.com/kraklabs/parseheap/pkg/store"
)

// ProgressCallback reports per-phase progress: current item (1-based),
// total items, and the phase name ("parse" or "reparse").
type ProgressCallback func(current, total int64, phase string)

// Pipeline owns one store's parse runs.
type Pipeline struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.Store
	parser     *jsparse.Parser
	met        *metrics.Set
	onProgress ProgressCallback
}

// Result summarizes one run.
type Result struct {
	RunID        string
	FilesParsed  int
	Typed        int
	Untyped      int
	Unchanged    int
	NotFound     int
	DirtyModules []store.ModuleName
	ArenaUsed    int64
	ParseTime    time.Duration
	TotalTime    time.Duration
}

// New creates a pipeline over an existing store.
func New(cfg Config, s *store.Store, logger *slog.Logger, met *metrics.Set) *Pipeline {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		store:  s,
		parser: jsparse.New(logger),
		met:    met,
	}
}

// SetProgressCallback installs a progress reporter. Must be set before Run.
func (p *Pipeline) SetProgressCallback(cb ProgressCallback) { p.onProgress = cb }

// Run performs a fresh parse of every discovered file in one transaction.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	keys, err := p.discover()
	if err != nil {
		return nil, err
	}
	p.logger.Info("pipeline.run.start", "run_id", runID, "files", len(keys), "workers", p.cfg.Workers)

	tx := p.store.Clock().Begin()
	pm := store.NewParseMutator(p.store, tx)

	res := &Result{RunID: runID}
	dirty, err := p.fanOut(ctx, keys, "parse", res, func(key store.FileKey, src []byte) (store.ModuleSet, error) {
		return p.publishFresh(ctx, pm, key, src)
	}, func(key store.FileKey) store.ModuleSet {
		return pm.ClearNotFound(key)
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	cm := store.NewCommitModulesMutator(p.store, tx)
	cm.SelectProviders(dirty)
	tx.Commit()

	res.DirtyModules = dirty.Names()
	res.ArenaUsed = p.store.ArenaUsed()
	res.TotalTime = time.Since(start)
	p.logger.Info("pipeline.run.done",
		"run_id", runID, "parsed", res.FilesParsed, "typed", res.Typed,
		"untyped", res.Untyped, "dirty_modules", len(res.DirtyModules),
		"elapsed", res.TotalTime)
	return res, nil
}

// Rerun re-parses the given keys in a reparse transaction. Files whose
// content hash is unchanged shrink the changed set; missing files are
// recorded not-found and their records removed at commit. Any publish
// failure rolls the whole batch back.
func (p *Pipeline) Rerun(ctx context.Context, keys []store.FileKey) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	p.logger.Info("pipeline.rerun.start", "run_id", runID, "files", len(keys))

	tx := p.store.Clock().Begin()
	rm := store.NewReparseMutator(p.store, tx, keys)
	committed := p.store.CommittedReader()

	res := &Result{RunID: runID}
	dirty, err := p.fanOut(ctx, keys, "reparse", res, func(key store.FileKey, src []byte) (store.ModuleSet, error) {
		if hash, ok := committed.GetFileHash(key); ok && hash == xxhash.Sum64(src) {
			rm.RecordUnchanged(key)
			return nil, nil
		}
		return p.publishReparse(ctx, rm, key, src)
	}, func(key store.FileKey) store.ModuleSet {
		return rm.ClearNotFound(key)
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	cm := store.NewCommitModulesMutator(p.store, tx)
	cm.SelectProviders(dirty)
	tx.Commit()

	res.DirtyModules = dirty.Names()
	res.ArenaUsed = p.store.ArenaUsed()
	res.TotalTime = time.Since(start)
	p.logger.Info("pipeline.rerun.done",
		"run_id", runID, "changed", res.FilesParsed, "unchanged", res.Unchanged,
		"not_found", res.NotFound, "elapsed", res.TotalTime)
	return res, nil
}

// fanOut partitions keys over the worker pool. publish handles a readable
// file, clear a missing one. The first publish error cancels the run.
func (p *Pipeline) fanOut(
	ctx context.Context,
	keys []store.FileKey,
	phase string,
	res *Result,
	publish func(key store.FileKey, src []byte) (store.ModuleSet, error),
	clear func(key store.FileKey) store.ModuleSet,
) (store.ModuleSet, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex // guards dirty and res counters
		firstErr error
		done     atomic.Int64
	)
	dirty := make(store.ModuleSet)
	work := make(chan store.FileKey)

	parseStart := time.Now()
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range work {
				p.workOne(ctx, key, publish, clear, &mu, dirty, res, &firstErr)
				if p.onProgress != nil {
					p.onProgress(done.Add(1), int64(len(keys)), phase)
				}
			}
		}()
	}

feed:
	for _, key := range keys {
		select {
		case <-ctx.Done():
			break feed
		case work <- key:
		}
	}
	close(work)
	wg.Wait()
	res.ParseTime = time.Since(parseStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return nil, firstErr
	}
	return dirty, nil
}

func (p *Pipeline) workOne(
	ctx context.Context,
	key store.FileKey,
	publish func(store.FileKey, []byte) (store.ModuleSet, error),
	clear func(store.FileKey) store.ModuleSet,
	mu *sync.Mutex,
	dirty store.ModuleSet,
	res *Result,
	firstErr *error,
) {
	mu.Lock()
	failed := *firstErr != nil
	mu.Unlock()
	if failed || ctx.Err() != nil {
		return
	}

	src, err := os.ReadFile(key.Path)
	if os.IsNotExist(err) {
		d := clear(key)
		mu.Lock()
		dirty.Union(d)
		res.NotFound++
		mu.Unlock()
		return
	}
	if err == nil && int64(len(src)) > p.cfg.MaxFileSizeBytes {
		p.logger.Warn("pipeline.file.too_large", "path", key.Path, "bytes", len(src))
		return
	}
	if err != nil {
		p.logger.Warn("pipeline.file.read_error", "path", key.Path, "err", err)
		return
	}

	t0 := time.Now()
	d, err := publish(key, src)
	p.met.ObserveParse(time.Since(t0).Seconds())

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		if *firstErr == nil {
			*firstErr = err
		}
		return
	}
	if d == nil {
		res.Unchanged++
		return
	}
	dirty.Union(d)
	res.FilesParsed++
}

// publishFresh parses and publishes one file through the fresh-parse
// mutator.
func (p *Pipeline) publishFresh(ctx context.Context, pm *store.ParseMutator, key store.FileKey, src []byte) (store.ModuleSet, error) {
	pf, typed, err := p.buildArtifacts(ctx, key, src)
	if err != nil {
		return nil, err
	}
	if !typed {
		return pm.AddUnparsed(key, pf.Hash, pf.Haste)
	}
	_, dirty, err := pm.AddParsed(key, pf)
	return dirty, err
}

// publishReparse is publishFresh over the reparse mutator.
func (p *Pipeline) publishReparse(ctx context.Context, rm *store.ReparseMutator, key store.FileKey, src []byte) (store.ModuleSet, error) {
	pf, typed, err := p.buildArtifacts(ctx, key, src)
	if err != nil {
		return nil, err
	}
	if !typed {
		return rm.AddUnparsed(key, pf.Hash, pf.Haste)
	}
	_, dirty, err := rm.AddParsed(key, pf)
	return dirty, err
}

// buildArtifacts produces the encoded publish payload for one file. JSON
// and resource files publish untyped with a bare content hash; source and
// lib files go through the JavaScript parser.
func (p *Pipeline) buildArtifacts(ctx context.Context, key store.FileKey, src []byte) (store.ParsedFile, bool, error) {
	switch key.Kind {
	case store.KindJSON, store.KindResource:
		return store.ParsedFile{Hash: xxhash.Sum64(src)}, false, nil
	}

	a, err := p.parser.ParseSource(ctx, key.Path, src)
	if err != nil {
		return store.ParsedFile{}, false, err
	}
	if !a.Typed {
		return store.ParsedFile{Hash: a.Hash, Haste: a.Haste}, false, nil
	}
	pf, err := encodeArtifacts(a)
	if err != nil {
		return store.ParsedFile{}, false, fmt.Errorf("pipeline: encode %s: %w", key, err)
	}
	return pf, true, nil
}

// encodeArtifacts serializes a typed parse result into store blobs.
func encodeArtifacts(a *jsparse.Artifacts) (store.ParsedFile, error) {
	ast, err := blob.EncodeAST(a.AST)
	if err != nil {
		return store.ParsedFile{}, err
	}
	db, err := blob.EncodeDocblock(a.Docblock)
	if err != nil {
		return store.ParsedFile{}, err
	}
	sig, err := blob.EncodeFileSig(a.FileSig)
	if err != nil {
		return store.ParsedFile{}, err
	}
	exp, err := blob.EncodeExports(a.Exports)
	if err != nil {
		return store.ParsedFile{}, err
	}
	return store.ParsedFile{
		Hash:      a.Hash,
		Haste:     a.Haste,
		Docblock:  db,
		AST:       ast,
		ALocTable: blob.PackALocTable(a.ALocs),
		FileSig:   sig,
		TypeSig:   a.TypeSig,
		Exports:   exp,
	}, nil
}

// discover walks the roots and lib dirs and classifies every kept file.
func (p *Pipeline) discover() ([]store.FileKey, error) {
	var keys []store.FileKey

	for _, root := range p.cfg.Roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			if d.IsDir() {
				if rel != "." && p.cfg.excluded(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if p.cfg.excluded(rel) {
				return nil
			}
			if key, ok := classify(path); ok {
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: walk %s: %w", root, err)
		}
	}

	for _, lib := range p.cfg.Libs {
		entries, err := os.ReadDir(lib)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read libs %s: %w", lib, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isSourceExt(e.Name()) {
				continue
			}
			keys = append(keys, store.LibKey(filepath.Join(lib, e.Name())))
		}
	}
	return keys, nil
}

// classify maps a path to its file kind. Unknown extensions are not
// tracked at all.
func classify(path string) (store.FileKey, bool) {
	switch {
	case isSourceExt(path):
		return store.SourceKey(path), true
	case strings.HasSuffix(path, ".json"):
		return store.JSONKey(path), true
	case hasResourceExt(path):
		return store.ResourceKey(path), true
	default:
		return store.FileKey{}, false
	}
}

func isSourceExt(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return true
	}
	return false
}

func hasResourceExt(path string) bool {
	switch filepath.Ext(path) {
	case ".css", ".png", ".svg", ".gif", ".jpg":
		return true
	}
	return false
}
