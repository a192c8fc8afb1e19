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
	"fmt"

	"github.com/kraklabs/parseheap/pkg/heap"
)

// ParsedFile carries the serialized artifacts a worker publishes for a
// checked file. Blob fields are already encoded by pkg/blob; the store
// never looks inside them.
type ParsedFile struct {
	Hash      uint64
	Haste     string // declared haste module name, "" for none
	Docblock  []byte
	AST       []byte
	ALocTable []byte
	FileSig   []byte
	TypeSig   []byte
	Exports   []byte
}

// addChecked publishes a typed parse for key and returns the parse together
// with the dirty-module set. On the unchanged-hash fast path the existing
// parse comes back with an empty dirty set and no heap allocation.
func (s *Store) addChecked(txnID uint64, key FileKey, p ParsedFile) (*Parse, ModuleSet, error) {
	s.mustStorable(key)

	f := s.file(key)
	var prev *Parse
	if f != nil {
		prev = f.parse.Latest()
	}

	if prev != nil && prev.typed && prev.hash == p.Hash {
		s.met.IncFastPath()
		return prev, make(ModuleSet), nil
	}

	size := heap.BlobSize(len(p.Docblock)) +
		heap.BlobSize(len(p.AST)) +
		heap.BlobSize(len(p.ALocTable)) +
		heap.BlobSize(len(p.FileSig)) +
		heap.BlobSize(len(p.TypeSig)) +
		heap.BlobSize(len(p.Exports))

	parse := &Parse{typed: true, hash: p.Hash}
	err := s.arena.Alloc(size, func(c *heap.Chunk) {
		parse.docblock = c.WriteBlob(p.Docblock)
		parse.ast = c.WriteBlob(p.AST)
		parse.alocTable = c.WriteBlob(p.ALocTable)
		parse.fileSig = c.WriteBlob(p.FileSig)
		parse.typeSig = c.WriteBlob(p.TypeSig)
		parse.exports = c.WriteBlob(p.Exports)
	})
	if err != nil {
		s.met.IncPublishFailures()
		return nil, nil, fmt.Errorf("store: publish %s: %w", key, err)
	}

	dirty := s.publish(txnID, key, f, prev, parse, p.Haste)
	s.met.IncParsePublished("typed")
	s.met.SetArenaUsed(s.arena.Used())
	return parse, dirty, nil
}

// addUnparsed publishes an untyped parse: hash and haste binding only. The
// shape mirrors addChecked, including the unchanged-hash fast path.
func (s *Store) addUnparsed(txnID uint64, key FileKey, hash uint64, haste string) (*Parse, ModuleSet, error) {
	s.mustStorable(key)

	f := s.file(key)
	var prev *Parse
	if f != nil {
		prev = f.parse.Latest()
	}

	if prev != nil && !prev.typed && prev.hash == hash {
		s.met.IncFastPath()
		return prev, make(ModuleSet), nil
	}

	parse := &Parse{typed: false, hash: hash}
	dirty := s.publish(txnID, key, f, prev, parse, haste)
	s.met.IncParsePublished("untyped")
	return parse, dirty, nil
}

// publish wires a freshly built parse record into the store: creates the
// file record on the fresh path, advances the parse entity, registers
// provider-list membership, and computes the dirty-module set.
func (s *Store) publish(txnID uint64, key FileKey, f *File, prev, parse *Parse, haste string) ModuleSet {
	if f == nil {
		f = s.addFile(key)
	}
	parse.file = f

	var oldHaste *HasteModule
	if prev != nil {
		oldHaste = prev.haste
	}
	var newHaste *HasteModule
	if haste != "" {
		newHaste = s.getOrAddHasteModule(haste)
	}
	parse.haste = newHaste

	// The file joins its eponymous module's provider list only when it was
	// not already providing: fresh files and files resurrected after a
	// clear. A reparse of a providing file keeps its existing membership.
	// A resurrected file's module record may have been removed at an
	// earlier commit, so re-resolve it through the table.
	var newFileModule *FileModule
	if f.module != nil && prev == nil {
		f.module = s.getOrAddFileModule(key)
		newFileModule = f.module
	}

	f.parse.Advance(txnID, parse)

	return s.dirtyModules(f, parse, oldHaste, newHaste, newFileModule)
}

// dirtyModules applies the provider bookkeeping for a publish and returns
// the modules whose providers may need re-selection. Old-module departures
// are deferred: the file is only logically deleted there until the next
// exclusive traversal.
func (s *Store) dirtyModules(f *File, node *Parse, oldHaste, newHaste *HasteModule, newFileModule *FileModule) ModuleSet {
	dirty := make(ModuleSet)
	switch {
	case oldHaste == nil && newHaste == nil:
		// no haste binding on either side
	case oldHaste == nil:
		newHaste.addProvider(node)
		dirty.Add(newHaste.Name())
	case newHaste == nil:
		dirty.Add(oldHaste.Name())
	case oldHaste == newHaste:
		// provider need not be re-picked, but the content changed, so
		// dependents of the module still re-check
		dirty.Add(newHaste.Name())
	default:
		newHaste.addProvider(node)
		dirty.Add(oldHaste.Name())
		dirty.Add(newHaste.Name())
	}

	if newFileModule != nil {
		newFileModule.addProvider(node)
	}
	if f.module != nil {
		dirty.Add(f.module.Name())
	}
	return dirty
}

// clearFile advances the file's parse entity to none. The file stays in
// every provider list it occupies; departures materialize at the next
// exclusive traversal. Clearing an absent or already-cleared file returns
// an empty set.
func (s *Store) clearFile(txnID uint64, key FileKey) ModuleSet {
	s.mustStorable(key)

	f := s.file(key)
	if f == nil {
		return make(ModuleSet)
	}
	prev := f.parse.Latest()
	if prev == nil {
		return make(ModuleSet)
	}

	f.parse.Advance(txnID, nil)
	s.met.IncParsePublished("cleared")

	dirty := make(ModuleSet)
	if f.module != nil {
		dirty.Add(f.module.Name())
	}
	if prev.haste != nil {
		dirty.Add(prev.haste.Name())
	}
	return dirty
}

// addFile creates the file record and, for non-Lib keys, its eponymous
// file module.
func (s *Store) addFile(key FileKey) *File {
	f := &File{key: key, name: s.names.Intern(key.Path)}
	if key.hasFileModule() {
		f.module = s.getOrAddFileModule(key)
	}
	s.mu.Lock()
	if existing := s.files[key]; existing != nil {
		// Each key is written by one worker per transaction, but a file can
		// already exist from an earlier transaction's saved-state load.
		s.mu.Unlock()
		return existing
	}
	s.files[key] = f
	s.mu.Unlock()
	s.met.IncFilesAdded()
	return f
}

// mustStorable aborts on keys that can never live in the file table.
// Reaching this with a bad key means the caller's partitioning is broken
// and the heap can no longer be trusted.
func (s *Store) mustStorable(key FileKey) {
	if !key.storable() {
		panic(fmt.Sprintf("store: key %s is not storable", key))
	}
}
