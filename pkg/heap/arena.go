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

// Package heap provides the shared-memory primitives the parse store is
// built on: a reserve-then-populate blob arena, a string interner, and
// two-slot versioned entities.
//
// The arena holds the serialized artifact blobs (ASTs, docblocks,
// signatures, export tables). Records that reference the blobs are ordinary
// Go structs owned by the garbage collector; the arena accounts blob bytes
// only, which is what the store's size limit and its "no allocation on the
// unchanged-hash fast path" property are defined over.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfSpace is returned by Alloc when a reservation would exceed the
// arena's capacity. Callers must not retry; the surrounding transaction has
// to roll back.
var ErrOutOfSpace = errors.New("heap: arena out of space")

// DefaultArenaCapacity is used when a caller passes 0 to NewArena. Sized for
// a mid-size repository's worth of serialized parse artifacts.
const DefaultArenaCapacity = 1 << 30 // 1 GiB

// BlobHandle addresses a blob inside an arena. The zero handle means "no
// blob". Handles are stable for the lifetime of the arena and are safe to
// share across goroutines.
type BlobHandle uint32

// Arena is an append-only region for artifact blobs. Space is reserved up
// front with Alloc and populated exactly once inside the callback; a
// reservation either succeeds completely or fails before any byte is
// written, so readers never observe a partially published blob set.
//
// The backing array is allocated once at its full capacity, mirroring a
// fixed shared-memory segment. Reservations hand out disjoint regions, so
// callbacks write without holding the arena lock and parallel workers do
// not serialize on each other's blob copies.
type Arena struct {
	mu  sync.Mutex
	buf []byte // len grows within a fixed cap; index 0 is a pad byte
}

// NewArena creates an arena holding at most capacity blob bytes. capacity 0
// selects DefaultArenaCapacity. The allocation is virtual until written.
func NewArena(capacity int64) *Arena {
	if capacity <= 0 {
		capacity = DefaultArenaCapacity
	}
	return &Arena{buf: make([]byte, 1, capacity+1)}
}

// Used reports the total bytes reserved so far, including blob length
// prefixes. It is the observable "heap size" for idempotence checks.
func (a *Arena) Used() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.buf)) - 1
}

// Capacity reports the fixed size of the region.
func (a *Arena) Capacity() int64 {
	return int64(cap(a.buf)) - 1
}

// BlobSize returns the reservation cost of a blob of n payload bytes.
// Callers precompute their total write size from these before Alloc.
func BlobSize(n int) int {
	var tmp [binary.MaxVarintLen32]byte
	return binary.PutUvarint(tmp[:], uint64(n)) + n
}

// Chunk is the populate-once view handed to an Alloc callback. All blob
// writes must fit the reservation; overflow is a programmer error and
// panics, since a partially accounted heap is no longer trustworthy.
type Chunk struct {
	buf       []byte
	off       int
	remaining int
}

// WriteBlob copies b into the chunk and returns its handle.
func (c *Chunk) WriteBlob(b []byte) BlobHandle {
	need := BlobSize(len(b))
	if need > c.remaining {
		panic(fmt.Sprintf("heap: chunk overflow: need %d bytes, %d reserved", need, c.remaining))
	}
	h := BlobHandle(c.off)
	n := binary.PutUvarint(c.buf[c.off:], uint64(len(b)))
	copy(c.buf[c.off+n:], b)
	c.off += need
	c.remaining -= need
	return h
}

// Alloc reserves size bytes and calls fn exactly once to populate them.
func (a *Arena) Alloc(size int, fn func(c *Chunk)) error {
	if size < 0 {
		panic("heap: negative reservation")
	}
	a.mu.Lock()
	off := len(a.buf)
	if off+size > cap(a.buf) {
		a.mu.Unlock()
		return fmt.Errorf("heap: reserving %d bytes: %w", size, ErrOutOfSpace)
	}
	a.buf = a.buf[:off+size]
	buf := a.buf
	a.mu.Unlock()

	fn(&Chunk{buf: buf, off: off, remaining: size})
	return nil
}

// Bytes returns the blob addressed by h without copying. The returned slice
// aliases arena memory and must be treated as read-only. Bytes of the zero
// handle is nil.
func (a *Arena) Bytes(h BlobHandle) []byte {
	if h == 0 {
		return nil
	}
	a.mu.Lock()
	buf := a.buf
	a.mu.Unlock()
	n, sz := binary.Uvarint(buf[h:])
	if sz <= 0 {
		panic(fmt.Sprintf("heap: corrupt blob header at %d", h))
	}
	start := int(h) + sz
	return buf[start : start+int(n) : start+int(n)]
}
