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
	"sync"

	"github.com/kraklabs/parseheap/pkg/heap"
)

// File is the per-key record. It is created once and its identity never
// changes; only the parse entity advances across transactions.
type File struct {
	key    FileKey
	name   heap.StringHandle
	module *FileModule // eponymous module; nil for Lib files
	parse  heap.Entity[*Parse]
}

// Key returns the file's key.
func (f *File) Key() FileKey { return f.key }

// Parse is one published parse of a file. A typed parse carries the full
// artifact blobs; an untyped parse records only the content hash and the
// declared haste binding. Parse records double as the nodes of the module
// provider lists: the link fields are guarded by the owning module's lock.
type Parse struct {
	file  *File
	typed bool
	hash  uint64
	haste *HasteModule // module named by @providesModule; nil if none

	exports   heap.BlobHandle
	ast       heap.BlobHandle
	docblock  heap.BlobHandle
	alocTable heap.BlobHandle
	fileSig   heap.BlobHandle
	typeSig   heap.BlobHandle

	nextHaste *Parse
	nextFile  *Parse
}

// File returns the record the parse belongs to.
func (p *Parse) File() *File { return p.file }

// Typed reports whether the parse carries the full artifact set.
func (p *Parse) Typed() bool { return p.typed }

// Hash returns the 64-bit content hash the parse was published under.
func (p *Parse) Hash() uint64 { return p.hash }

// HasteName returns the haste module name the parse binds the file to, or
// "" when the file declares none.
func (p *Parse) HasteName() string {
	if p.haste == nil {
		return ""
	}
	return p.haste.name
}

// FileModule is the eponymous module of a non-Lib file key. The provider
// entity holds the chosen provider; the all-providers list holds every file
// currently or recently claiming the module, reconciled lazily.
type FileModule struct {
	key      FileKey
	provider heap.Entity[*File]

	mu   sync.Mutex // the exclusive module lock
	head *Parse     // all-providers list, linked through nextFile
}

// Name returns the module's name.
func (m *FileModule) Name() ModuleName { return FileModuleName(m.key) }

// HasteModule is a module identified by a declared name, potentially
// provided by any file that declares it.
type HasteModule struct {
	name     string
	nameH    heap.StringHandle
	provider heap.Entity[*File]

	mu   sync.Mutex
	head *Parse // all-providers list, linked through nextHaste
}

// Name returns the module's name.
func (m *HasteModule) Name() ModuleName { return HasteModuleName(m.name) }

// providerEntity is the versioned "chosen provider" cell every module owns.
type providerEntity = heap.Entity[*File]

// providerLink selects which intrusive link a list is threaded through.
type providerLink func(*Parse) **Parse

func hasteLink(p *Parse) **Parse { return &p.nextHaste }
func fileLink(p *Parse) **Parse  { return &p.nextFile }

// appendProviderLocked links node at the tail of the list so traversal
// yields providers in registration order. Caller holds the module lock.
func appendProviderLocked(head **Parse, link providerLink, node *Parse) {
	*link(node) = nil
	for *head != nil {
		head = link(*head)
	}
	*head = node
}

// removeProviderLocked unlinks every node belonging to f. Caller holds the
// module lock.
func removeProviderLocked(head **Parse, link providerLink, f *File) {
	for *head != nil {
		if (*head).file == f {
			*head = *link(*head)
			continue
		}
		head = link(*head)
	}
}

// sweepProvidersLocked traverses the list, physically unlinking every node
// whose file is no longer live in the module, and returns the live provider
// files in list order. Liveness is a property of the file, not the node: a
// same-module reparse does not relink the list, so a live file may be
// represented by a parse record from an earlier generation. Duplicate nodes
// of a live file (a file that left the module and later returned) are
// unlinked past the first, which keeps list length bounded by live
// providers plus in-flight changes. Caller holds the module lock.
func sweepProvidersLocked(head **Parse, link providerLink, live func(f *File) bool) []*File {
	var out []*File
	seen := make(map[*File]struct{})
	for *head != nil {
		node := *head
		f := node.file
		if _, dup := seen[f]; dup || !live(f) {
			*head = *link(node)
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		head = link(node)
	}
	return out
}

func (m *HasteModule) addProvider(node *Parse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appendProviderLocked(&m.head, hasteLink, node)
}

func (m *HasteModule) removeProvider(f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removeProviderLocked(&m.head, hasteLink, f)
}

// allProvidersExclusive returns the live providers of m in registration
// order, purging logically deleted entries as it goes. A file is live in a
// haste module while its latest parse still binds it there.
func (m *HasteModule) allProvidersExclusive() []*File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sweepProvidersLocked(&m.head, hasteLink, func(f *File) bool {
		latest := f.parse.Latest()
		return latest != nil && latest.haste == m
	})
}

func (m *FileModule) addProvider(node *Parse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appendProviderLocked(&m.head, fileLink, node)
}

func (m *FileModule) removeProvider(f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removeProviderLocked(&m.head, fileLink, f)
}

// allProvidersExclusive returns the live providers of m, purging logically
// deleted entries. A file is live in its eponymous module while it has any
// latest parse at all.
func (m *FileModule) allProvidersExclusive() []*File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sweepProvidersLocked(&m.head, fileLink, func(f *File) bool {
		return f.parse.Latest() != nil
	})
}
