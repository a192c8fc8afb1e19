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

// Package blob defines the serialized artifact kinds the parse store keeps
// per file, with an encode/decode pair for each. The store treats every
// artifact as an opaque byte string; only this package and its callers know
// the shapes.
//
// AST payloads dominate heap bytes by an order of magnitude, so they are
// lz4 block-compressed on top of the gob encoding. The small artifacts
// (docblocks, signatures, exports) stay plain gob.
package blob

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ALoc is an abstract location: an index into the owning file's location
// table. Node positions are stored abstractly so that an AST survives
// whitespace-only edits to earlier files without renumbering.
type ALoc uint32

// Node is one node of a serialized syntax tree summary.
type Node struct {
	Kind     string
	Loc      ALoc
	Children []Node
}

// AST is the parse artifact consumed by the checker's later stages.
type AST struct {
	Root Node
}

// Docblock holds the pragmas extracted from a file's leading comment.
type Docblock struct {
	// Flow is "", "flow", or "noflow" depending on the @flow/@noflow pragma.
	Flow string

	// ProvidesModule is the declared haste module name, or empty.
	ProvidesModule string

	// JSX is the custom pragma factory from @jsx, or empty.
	JSX string
}

// Exports summarizes a file's exported bindings.
type Exports struct {
	Named      []string
	HasDefault bool
	CommonJS   bool
}

// FileSig is the dependency signature of a file: what it requires and what
// it exports by name. ToleratedErrors records signature extraction problems
// that did not abort the parse.
type FileSig struct {
	Requires        []string
	ExportedNames   []string
	ToleratedErrors []string
}

// EncodeAST serializes and compresses an AST.
func EncodeAST(a *AST) ([]byte, error) {
	var plain bytes.Buffer
	if err := gob.NewEncoder(&plain).Encode(a); err != nil {
		return nil, fmt.Errorf("blob: encode ast: %w", err)
	}
	return compress(plain.Bytes()), nil
}

// DecodeAST reverses EncodeAST.
func DecodeAST(b []byte) (*AST, error) {
	plain, err := decompress(b)
	if err != nil {
		return nil, fmt.Errorf("blob: decode ast: %w", err)
	}
	var a AST
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&a); err != nil {
		return nil, fmt.Errorf("blob: decode ast: %w", err)
	}
	return &a, nil
}

// EncodeDocblock serializes a docblock.
func EncodeDocblock(d *Docblock) ([]byte, error) { return encodeGob("docblock", d) }

// DecodeDocblock reverses EncodeDocblock.
func DecodeDocblock(b []byte) (*Docblock, error) {
	var d Docblock
	if err := decodeGob("docblock", b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeExports serializes an exports summary.
func EncodeExports(e *Exports) ([]byte, error) { return encodeGob("exports", e) }

// DecodeExports reverses EncodeExports.
func DecodeExports(b []byte) (*Exports, error) {
	var e Exports
	if err := decodeGob("exports", b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EncodeFileSig serializes a file signature.
func EncodeFileSig(s *FileSig) ([]byte, error) { return encodeGob("filesig", s) }

// DecodeFileSig reverses EncodeFileSig.
func DecodeFileSig(b []byte) (*FileSig, error) {
	var s FileSig
	if err := decodeGob("filesig", b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeGob(kind string, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("blob: encode %s: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func decodeGob(kind string, b []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return fmt.Errorf("blob: decode %s: %w", kind, err)
	}
	return nil
}

// compress lz4-block-compresses b, prefixing the uncompressed length. Falls
// back to a stored block when the data does not shrink.
func compress(b []byte) []byte {
	var hdr [binary.MaxVarintLen64 + 1]byte
	n := binary.PutUvarint(hdr[1:], uint64(len(b)))

	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	var c lz4.Compressor
	sz, err := c.CompressBlock(b, dst)
	if err != nil || sz == 0 || sz >= len(b) {
		// stored block
		hdr[0] = 0
		return append(append([]byte{}, hdr[:1+n]...), b...)
	}
	hdr[0] = 1
	return append(append([]byte{}, hdr[:1+n]...), dst[:sz]...)
}

func decompress(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, io.ErrUnexpectedEOF
	}
	mode := b[0]
	size, n := binary.Uvarint(b[1:])
	if n <= 0 {
		return nil, io.ErrUnexpectedEOF
	}
	body := b[1+n:]
	if mode == 0 {
		return body, nil
	}
	dst := make([]byte, size)
	if _, err := lz4.UncompressBlock(body, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
