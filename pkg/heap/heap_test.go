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

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestArena_WriteAndReadBack(t *testing.T) {
	a := NewArena(1 << 20)

	payloads := [][]byte{
		[]byte("docblock"),
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 300), // needs a two-byte varint prefix
	}

	size := 0
	for _, p := range payloads {
		size += BlobSize(len(p))
	}

	var handles []BlobHandle
	err := a.Alloc(size, func(c *Chunk) {
		for _, p := range payloads {
			handles = append(handles, c.WriteBlob(p))
		}
	})
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	for i, p := range payloads {
		got := a.Bytes(handles[i])
		if !bytes.Equal(got, p) {
			t.Errorf("blob %d: got %q, want %q", i, got, p)
		}
	}
	if a.Used() != int64(size) {
		t.Errorf("Used = %d, want %d", a.Used(), size)
	}
}

func TestArena_ZeroHandleIsNil(t *testing.T) {
	a := NewArena(1024)
	if got := a.Bytes(0); got != nil {
		t.Errorf("Bytes(0) = %v, want nil", got)
	}
}

func TestArena_OutOfSpace(t *testing.T) {
	a := NewArena(16)
	err := a.Alloc(32, func(c *Chunk) {
		t.Fatal("callback must not run when the reservation fails")
	})
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("err = %v, want ErrOutOfSpace", err)
	}
	if a.Used() != 0 {
		t.Errorf("failed reservation changed Used to %d", a.Used())
	}
}

func TestArena_ParallelAllocations(t *testing.T) {
	a := NewArena(1 << 22)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	results := make([][]BlobHandle, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := []byte(fmt.Sprintf("worker-%d-blob-%d", w, i))
				err := a.Alloc(BlobSize(len(p)), func(c *Chunk) {
					results[w] = append(results[w], c.WriteBlob(p))
				})
				if err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i, h := range results[w] {
			want := fmt.Sprintf("worker-%d-blob-%d", w, i)
			if got := string(a.Bytes(h)); got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		}
	}
}

func TestEntity_AdvanceAndCommitVisibility(t *testing.T) {
	e := &Entity[int]{}

	e.Advance(1, 10)
	if got := e.Latest(); got != 10 {
		t.Errorf("Latest = %d, want 10", got)
	}
	if got := e.Committed(); got != 0 {
		t.Errorf("Committed = %d, want 0", got)
	}

	// Same transaction overwrites latest in place.
	e.Advance(1, 20)
	if got := e.Committed(); got != 0 {
		t.Errorf("Committed after in-place overwrite = %d, want 0", got)
	}

	// A later transaction treats the previous latest as committed.
	e.Advance(2, 30)
	if got := e.Committed(); got != 20 {
		t.Errorf("Committed = %d, want 20", got)
	}
	if got := e.Latest(); got != 30 {
		t.Errorf("Latest = %d, want 30", got)
	}
}

func TestEntity_Rollback(t *testing.T) {
	e := &Entity[int]{}
	e.Advance(1, 10)
	e.Advance(2, 20)

	// Rolling back a transaction that did not touch the entity is a no-op.
	e.Rollback(3)
	if got := e.Latest(); got != 20 {
		t.Errorf("Latest after foreign rollback = %d, want 20", got)
	}

	e.Rollback(2)
	if got := e.Latest(); got != 10 {
		t.Errorf("Latest after rollback = %d, want 10", got)
	}
	if got := e.Committed(); got != 10 {
		t.Errorf("Committed after rollback = %d, want 10", got)
	}

	// A fresh advance in the rolled-back transaction acts as a first write.
	e.Advance(2, 40)
	committed, latest := e.Slots()
	if committed != 10 || latest != 40 {
		t.Errorf("Slots = (%d, %d), want (10, 40)", committed, latest)
	}
}

func TestEntity_ReadCommitted(t *testing.T) {
	e := &Entity[int]{}
	e.Advance(1, 10)

	// While transaction 1 is active, the committed view hides its write.
	if got := e.ReadCommitted(1); got != 0 {
		t.Errorf("ReadCommitted(active=1) = %d, want 0", got)
	}

	// After the transaction closes, latest is the committed value; commit
	// itself never touches the entity.
	if got := e.ReadCommitted(0); got != 10 {
		t.Errorf("ReadCommitted(active=0) = %d, want 10", got)
	}

	// A later transaction that does not touch the entity leaves it visible.
	if got := e.ReadCommitted(2); got != 10 {
		t.Errorf("ReadCommitted(active=2) = %d, want 10", got)
	}
}

func TestEntity_SavedStateCreate(t *testing.T) {
	e := NewEntity(7)
	committed, latest := e.Slots()
	if committed != 7 || latest != 7 {
		t.Errorf("Slots = (%d, %d), want (7, 7)", committed, latest)
	}
}

func TestInterner_StableHandles(t *testing.T) {
	in := NewInterner()

	a := in.Intern("ModuleA")
	b := in.Intern("ModuleB")
	a2 := in.Intern("ModuleA")

	if a != a2 {
		t.Errorf("equal strings got distinct handles %d and %d", a, a2)
	}
	if a == b {
		t.Error("distinct strings share a handle")
	}
	if got := in.Str(a); got != "ModuleA" {
		t.Errorf("Str = %q, want %q", got, "ModuleA")
	}
	if got := in.Str(0); got != "" {
		t.Errorf("Str(0) = %q, want empty", got)
	}
	if got := in.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestInterner_Concurrent(t *testing.T) {
	in := NewInterner()
	var wg sync.WaitGroup
	handles := make([]StringHandle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = in.Intern("shared")
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(handles); i++ {
		if handles[i] != handles[0] {
			t.Fatalf("handle %d differs: %d vs %d", i, handles[i], handles[0])
		}
	}
}
