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

// Package store implements the transactional shared parse store: per-file
// parse artifacts and the module-provider graph derived from them. Workers
// publish artifacts in parallel inside a transaction; the master commits or
// rolls back the batch atomically; readers observe either the committed or
// the latest view without copying.
package store

import (
	"log/slog"
	"sync"

	"github.com/kraklabs/parseheap/pkg/heap"
	"github.com/kraklabs/parseheap/pkg/metrics"
	"github.com/kraklabs/parseheap/pkg/txn"
)

// Store bundles the heap, the transaction clock, and the three global
// tables: file key → file record, file key → eponymous file module, haste
// name → haste module. One Store is shared by the master and every worker.
type Store struct {
	arena  *heap.Arena
	names  *heap.Interner
	clock  *txn.Clock
	logger *slog.Logger
	met    *metrics.Set

	mu           sync.RWMutex
	files        map[FileKey]*File
	fileModules  map[FileKey]*FileModule
	hasteModules map[string]*HasteModule

	readersMu sync.Mutex
	readers   []*Reader
}

// Options configures a Store. The zero value is usable.
type Options struct {
	// ArenaCapacity bounds the blob arena; 0 selects the heap default.
	ArenaCapacity int64

	// Logger receives structured store events. nil means slog.Default.
	Logger *slog.Logger

	// Metrics receives store instrumentation. nil disables it.
	Metrics *metrics.Set
}

// New creates an empty store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		arena:        heap.NewArena(opts.ArenaCapacity),
		names:        heap.NewInterner(),
		clock:        txn.NewClock(),
		logger:       logger,
		met:          opts.Metrics,
		files:        make(map[FileKey]*File),
		fileModules:  make(map[FileKey]*FileModule),
		hasteModules: make(map[string]*HasteModule),
	}
}

// Clock returns the store's transaction clock. The master begins and
// terminates transactions through it.
func (s *Store) Clock() *txn.Clock { return s.clock }

// ArenaUsed reports the blob arena's reserved bytes.
func (s *Store) ArenaUsed() int64 { return s.arena.Used() }

// FileCount reports the number of file records.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// ModuleCounts reports the number of file and haste module records.
func (s *Store) ModuleCounts() (fileModules, hasteModules int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fileModules), len(s.hasteModules)
}

// file looks up a file record.
func (s *Store) file(key FileKey) *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files[key]
}

// hasteModule looks up a haste module record.
func (s *Store) hasteModule(name string) *HasteModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasteModules[name]
}

// fileModule looks up a file module record.
func (s *Store) fileModule(key FileKey) *FileModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fileModules[key]
}

// getOrAddHasteModule returns the haste module named name, creating the
// record on first need.
func (s *Store) getOrAddHasteModule(name string) *HasteModule {
	s.mu.RLock()
	m := s.hasteModules[name]
	s.mu.RUnlock()
	if m != nil {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.hasteModules[name]; m != nil {
		return m
	}
	m = &HasteModule{name: name, nameH: s.names.Intern(name)}
	s.hasteModules[name] = m
	return m
}

// getOrAddFileModule returns key's eponymous module, creating the record on
// first need. Callers must have checked key.hasFileModule.
func (s *Store) getOrAddFileModule(key FileKey) *FileModule {
	s.mu.RLock()
	m := s.fileModules[key]
	s.mu.RUnlock()
	if m != nil {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.fileModules[key]; m != nil {
		return m
	}
	m = &FileModule{key: key}
	s.fileModules[key] = m
	return m
}

// module resolves a module name to its record, or nil.
func (s *Store) module(name ModuleName) (provider *heap.Entity[*File], ok bool) {
	if name.IsHaste() {
		if m := s.hasteModule(name.Haste()); m != nil {
			return &m.provider, true
		}
		return nil, false
	}
	if m := s.fileModule(name.FileKey()); m != nil {
		return &m.provider, true
	}
	return nil, false
}

// AllProvidersExclusive returns the live providers of the named module in
// registration order, physically purging logically deleted list entries.
// Must only be called from the master or under the module's exclusive
// section; concurrent worker publishes to the same module are not allowed
// to race with it.
func (s *Store) AllProvidersExclusive(name ModuleName) ([]FileKey, bool) {
	var files []*File
	if name.IsHaste() {
		m := s.hasteModule(name.Haste())
		if m == nil {
			return nil, false
		}
		files = m.allProvidersExclusive()
	} else {
		m := s.fileModule(name.FileKey())
		if m == nil {
			return nil, false
		}
		files = m.allProvidersExclusive()
	}
	keys := make([]FileKey, len(files))
	for i, f := range files {
		keys[i] = f.key
	}
	return keys, true
}

// registerReader adds r to the invalidation registry.
func (s *Store) registerReader(r *Reader) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	s.readers = append(s.readers, r)
}

// invalidateReaders clears latest-view reader caches entirely and evicts
// the changed keys from committed-view reader caches. Called from the
// reparse mutator's commit hook; its rollback hook uses
// clearLatestReaderCaches.
func (s *Store) invalidateReaders(changed map[FileKey]struct{}) {
	s.readersMu.Lock()
	readers := make([]*Reader, len(s.readers))
	copy(readers, s.readers)
	s.readersMu.Unlock()

	for _, r := range readers {
		switch r.snap {
		case Latest:
			r.clearCaches()
		case Committed:
			r.invalidate(changed)
		}
	}
}

// clearLatestReaderCaches drops every latest-view reader cache. Committed
// readers keep theirs: a rollback restores exactly the state their caches
// were built from.
func (s *Store) clearLatestReaderCaches() {
	s.readersMu.Lock()
	readers := make([]*Reader, len(s.readers))
	copy(readers, s.readers)
	s.readersMu.Unlock()

	for _, r := range readers {
		if r.snap == Latest {
			r.clearCaches()
		}
	}
}
