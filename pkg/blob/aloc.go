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

package blob

import (
	"encoding/binary"
	"fmt"
)

// Loc is a concrete source position.
type Loc struct {
	Line uint32 // 1-based
	Col  uint32 // 0-based byte column
}

// PackALocTable packs a file's location table. Tables are built in tree
// traversal order, so consecutive lines are close together and are stored
// as signed deltas from the previous entry; columns are stored raw.
// The round trip PackALocTable → UnpackALocTable is an identity.
func PackALocTable(locs []Loc) []byte {
	buf := make([]byte, 0, 4+len(locs)*2)
	buf = binary.AppendUvarint(buf, uint64(len(locs)))
	prevLine := uint32(0)
	for _, l := range locs {
		// Traversal order can revisit earlier lines for sibling nodes;
		// encode the delta as a zigzag varint.
		buf = binary.AppendVarint(buf, int64(l.Line)-int64(prevLine))
		buf = binary.AppendUvarint(buf, uint64(l.Col))
		prevLine = l.Line
	}
	return buf
}

// UnpackALocTable reverses PackALocTable.
func UnpackALocTable(b []byte) ([]Loc, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("blob: corrupt aloc table header")
	}
	b = b[n:]
	locs := make([]Loc, 0, count)
	prevLine := int64(0)
	for i := uint64(0); i < count; i++ {
		dl, n := binary.Varint(b)
		if n <= 0 {
			return nil, fmt.Errorf("blob: corrupt aloc table at entry %d", i)
		}
		b = b[n:]
		col, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, fmt.Errorf("blob: corrupt aloc table at entry %d", i)
		}
		b = b[n:]
		prevLine += dl
		locs = append(locs, Loc{Line: uint32(prevLine), Col: uint32(col)})
	}
	return locs, nil
}

// ALocTableLen returns the number of entries in a packed table without
// unpacking it.
func ALocTableLen(b []byte) (int, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, fmt.Errorf("blob: corrupt aloc table header")
	}
	return int(count), nil
}
