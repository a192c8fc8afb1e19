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

package heap

import "sync"

// Entity is a two-slot versioned cell. The committed slot is the value
// visible outside the current transaction; the latest slot is the in-flight
// value. A generation stamp records which transaction last advanced the
// entity, which is what makes a whole-transaction rollback possible without
// a per-entity undo log: the first Advance in a transaction saves the
// previous latest as committed, and every later Advance in the same
// transaction overwrites latest in place.
//
// Entities are written by at most one worker per transaction but read
// concurrently, so every operation takes the cell's lock.
type Entity[T any] struct {
	mu        sync.Mutex
	committed T
	latest    T
	gen       uint64
}

// NewEntity returns an entity whose committed and latest slots both hold v,
// as if v had been published and committed in some earlier transaction.
// This is the saved-state create path.
func NewEntity[T any](v T) *Entity[T] {
	return &Entity[T]{committed: v, latest: v}
}

// Init sets both slots to v with a clear generation, as if v had been
// committed in an earlier transaction. Only valid on an entity no reader
// has observed yet; this is how saved-state records become visible
// pre-committed.
func (e *Entity[T]) Init(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed = v
	e.latest = v
	e.gen = 0
}

// Latest returns the in-flight slot.
func (e *Entity[T]) Latest() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Committed returns the saved pre-transaction slot. Most readers want
// ReadCommitted instead, which accounts for the entity not having been
// advanced in the active transaction.
func (e *Entity[T]) Committed() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed
}

// ReadCommitted returns the value visible outside the active transaction.
// active is the open transaction's ID, or 0 when none is open. If the
// entity was advanced inside the active transaction the saved committed
// slot is returned; otherwise latest already is the committed value —
// commit itself never touches entities, it just closes the transaction.
func (e *Entity[T]) ReadCommitted(active uint64) T {
	e.mu.Lock()
	defer e.mu.Unlock()
	if active != 0 && e.gen == active {
		return e.committed
	}
	return e.latest
}

// Advance publishes v as the latest value within transaction txn. On the
// first advance of a transaction the previous latest becomes committed;
// subsequent advances in the same transaction overwrite latest in place.
func (e *Entity[T]) Advance(txn uint64, v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != txn {
		e.committed = e.latest
		e.gen = txn
	}
	e.latest = v
}

// Rollback reverts latest to committed if the entity was advanced in
// transaction txn, and clears the generation so a later Advance in the same
// transaction behaves as a fresh first write. A no-op otherwise.
func (e *Entity[T]) Rollback(txn uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == txn {
		e.latest = e.committed
		e.gen = 0
	}
}

// Slots returns committed and latest together under one lock acquisition,
// so rollback derivations see a consistent pair.
func (e *Entity[T]) Slots() (committed, latest T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed, e.latest
}
