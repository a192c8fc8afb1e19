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

// StringHandle addresses an interned string. The zero handle means "no
// string".
type StringHandle uint32

// Interner deduplicates file names and haste module names. Equal strings
// always map to the same handle, so handle equality is string equality.
type Interner struct {
	mu      sync.RWMutex
	handles map[string]StringHandle
	strs    []string // index 0 reserved
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		handles: make(map[string]StringHandle),
		strs:    []string{""},
	}
}

// Intern returns the stable handle for s, allocating one on first sight.
func (in *Interner) Intern(s string) StringHandle {
	in.mu.RLock()
	h, ok := in.handles[s]
	in.mu.RUnlock()
	if ok {
		return h
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.handles[s]; ok {
		return h
	}
	h = StringHandle(len(in.strs))
	in.strs = append(in.strs, s)
	in.handles[s] = h
	return h
}

// Str returns the string for h. Str of the zero handle is "".
func (in *Interner) Str(h StringHandle) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.strs[h]
}

// Len reports the number of distinct interned strings.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.strs) - 1
}
