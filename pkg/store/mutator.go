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

package store

import (
	"sort"
	"sync"

	"github.com/kraklabs/parseheap/pkg/heap"
	"github.com/kraklabs/parseheap/pkg/txn"
)

// ParseMutator publishes fresh parses during initialization. There is
// nothing to revert — the store was empty when the transaction began — so
// it registers no transaction hooks and ClearNotFound is a no-op.
type ParseMutator struct {
	s *Store
	t *txn.Transaction
}

// NewParseMutator creates a fresh-parse mutator for the transaction.
func NewParseMutator(s *Store, t *txn.Transaction) *ParseMutator {
	return &ParseMutator{s: s, t: t}
}

// AddParsed publishes a typed parse and returns it with the dirty-module
// set. Safe to call from multiple workers as long as each key is written by
// at most one worker per transaction.
func (m *ParseMutator) AddParsed(key FileKey, p ParsedFile) (*Parse, ModuleSet, error) {
	return m.s.addChecked(m.t.ID(), key, p)
}

// AddUnparsed publishes an untyped parse: content hash and haste binding
// only.
func (m *ParseMutator) AddUnparsed(key FileKey, hash uint64, haste string) (ModuleSet, error) {
	_, dirty, err := m.s.addUnparsed(m.t.ID(), key, hash, haste)
	return dirty, err
}

// ClearNotFound is a no-op during fresh parsing: a file that was never
// added has nothing to clear.
func (m *ParseMutator) ClearNotFound(FileKey) ModuleSet {
	return make(ModuleSet)
}

// ReparseMutator publishes a transactional batch of re-parses over a known
// file set. It tracks which files actually changed (the input set minus
// those whose hash proved unchanged) and which disappeared, and registers
// commit and rollback hooks with the transaction.
type ReparseMutator struct {
	s *Store
	t *txn.Transaction

	mu       sync.Mutex
	changed  map[FileKey]struct{}
	notFound map[FileKey]struct{}
}

// NewReparseMutator creates the mutator for a reparse of files and
// registers its transaction hooks.
func NewReparseMutator(s *Store, t *txn.Transaction, files []FileKey) *ReparseMutator {
	m := &ReparseMutator{
		s:        s,
		t:        t,
		changed:  make(map[FileKey]struct{}, len(files)),
		notFound: make(map[FileKey]struct{}),
	}
	for _, k := range files {
		m.changed[k] = struct{}{}
	}
	t.Add("reparse-files", m.onCommit, m.onRollback)
	return m
}

// AddParsed publishes a typed parse for a file in the reparse set.
func (m *ReparseMutator) AddParsed(key FileKey, p ParsedFile) (*Parse, ModuleSet, error) {
	return m.s.addChecked(m.t.ID(), key, p)
}

// AddUnparsed publishes an untyped parse for a file in the reparse set.
func (m *ReparseMutator) AddUnparsed(key FileKey, hash uint64, haste string) (ModuleSet, error) {
	_, dirty, err := m.s.addUnparsed(m.t.ID(), key, hash, haste)
	return dirty, err
}

// RecordUnchanged shrinks the changed set: the worker found the file's
// content hash unchanged, so neither commit invalidation nor rollback needs
// to visit it.
func (m *ReparseMutator) RecordUnchanged(key FileKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.changed, key)
}

// ClearNotFound clears a file that disappeared and schedules its record
// for removal from the file table at commit.
func (m *ReparseMutator) ClearNotFound(key FileKey) ModuleSet {
	dirty := m.s.clearFile(m.t.ID(), key)
	m.mu.Lock()
	m.notFound[key] = struct{}{}
	m.mu.Unlock()
	return dirty
}

// ChangedFiles returns a snapshot of the still-changed set.
func (m *ReparseMutator) ChangedFiles() []FileKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]FileKey, 0, len(m.changed))
	for k := range m.changed {
		keys = append(keys, k)
	}
	return keys
}

func (m *ReparseMutator) onCommit() {
	m.mu.Lock()
	changed := m.changed
	notFound := m.notFound
	m.changed = nil
	m.notFound = nil
	m.mu.Unlock()

	m.s.invalidateReaders(changed)

	if len(notFound) > 0 {
		m.s.mu.Lock()
		for k := range notFound {
			delete(m.s.files, k)
		}
		m.s.mu.Unlock()
	}

	m.s.met.IncCommits()
	m.s.logger.Debug("store.reparse.commit",
		"txn", m.t.ID(), "changed", len(changed), "not_found", len(notFound))
}

func (m *ReparseMutator) onRollback() {
	m.mu.Lock()
	changed := m.changed
	m.changed = nil
	m.notFound = nil
	m.mu.Unlock()

	// Sorted order keeps list restoration deterministic when several files
	// re-join the same module.
	keys := make([]FileKey, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, k := range keys {
		if f := m.s.file(k); f != nil {
			m.s.rollbackFile(m.t.ID(), f)
		}
	}
	m.s.clearLatestReaderCaches()

	m.s.met.IncRollbacks()
	m.s.logger.Debug("store.reparse.rollback", "txn", m.t.ID(), "changed", len(changed))
}

// SavedStateLoader is the restricted create path used exactly once at
// startup: it publishes typed parse records rebuilt from saved state,
// pre-committed and without rollback support. Saved state carries hashes,
// signatures, and exports but no ASTs, docblocks, or location tables —
// those artifacts stay absent until the file is parsed for real.
type SavedStateLoader struct {
	s *Store
}

// NewSavedStateLoader creates the loader.
func NewSavedStateLoader(s *Store) *SavedStateLoader {
	return &SavedStateLoader{s: s}
}

// SavedFile is one file's worth of saved state.
type SavedFile struct {
	Hash    uint64
	Haste   string
	FileSig []byte
	TypeSig []byte
	Exports []byte
}

// AddSavedState publishes one saved file. The parse is visible to both
// committed and latest readers immediately.
func (l *SavedStateLoader) AddSavedState(key FileKey, sf SavedFile) (ModuleSet, error) {
	s := l.s
	s.mustStorable(key)

	size := heap.BlobSize(len(sf.FileSig)) +
		heap.BlobSize(len(sf.TypeSig)) +
		heap.BlobSize(len(sf.Exports))

	parse := &Parse{typed: true, hash: sf.Hash}
	err := s.arena.Alloc(size, func(c *heap.Chunk) {
		parse.fileSig = c.WriteBlob(sf.FileSig)
		parse.typeSig = c.WriteBlob(sf.TypeSig)
		parse.exports = c.WriteBlob(sf.Exports)
	})
	if err != nil {
		return nil, err
	}

	f := s.addFile(key)
	parse.file = f
	if sf.Haste != "" {
		parse.haste = s.getOrAddHasteModule(sf.Haste)
	}
	f.parse.Init(parse)

	dirty := make(ModuleSet)
	if parse.haste != nil {
		parse.haste.addProvider(parse)
		dirty.Add(parse.haste.Name())
	}
	if f.module != nil {
		f.module.addProvider(parse)
		dirty.Add(f.module.Name())
	}
	s.met.IncParsePublished("saved-state")
	return dirty, nil
}
