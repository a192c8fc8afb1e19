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
	"reflect"
	"strings"
	"testing"
)

func TestAST_RoundTrip(t *testing.T) {
	// A repetitive tree so the lz4 path actually compresses.
	children := make([]Node, 64)
	for i := range children {
		children[i] = Node{Kind: "expression_statement", Loc: ALoc(i + 1)}
	}
	ast := &AST{Root: Node{Kind: "program", Loc: 0, Children: children}}

	b, err := EncodeAST(ast)
	if err != nil {
		t.Fatalf("EncodeAST: %v", err)
	}

	got, err := DecodeAST(b)
	if err != nil {
		t.Fatalf("DecodeAST: %v", err)
	}
	if !reflect.DeepEqual(got, ast) {
		t.Error("round trip changed the AST")
	}
}

func TestAST_IncompressibleFallsBackToStoredBlock(t *testing.T) {
	// A tiny tree whose gob encoding does not shrink under lz4.
	ast := &AST{Root: Node{Kind: "x"}}
	b, err := EncodeAST(ast)
	if err != nil {
		t.Fatalf("EncodeAST: %v", err)
	}
	got, err := DecodeAST(b)
	if err != nil {
		t.Fatalf("DecodeAST: %v", err)
	}
	if got.Root.Kind != "x" {
		t.Errorf("Root.Kind = %q, want x", got.Root.Kind)
	}
}

func TestDocblock_RoundTrip(t *testing.T) {
	d := &Docblock{Flow: "flow", ProvidesModule: "Banana", JSX: "h"}
	b, err := EncodeDocblock(d)
	if err != nil {
		t.Fatalf("EncodeDocblock: %v", err)
	}
	got, err := DecodeDocblock(b)
	if err != nil {
		t.Fatalf("DecodeDocblock: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("got %+v, want %+v", got, d)
	}
}

func TestFileSig_ToleratedErrors(t *testing.T) {
	s := &FileSig{
		Requires:        []string{"./util", "React"},
		ExportedNames:   []string{"default"},
		ToleratedErrors: []string{"unsupported require pattern at line 40"},
	}
	b, err := EncodeFileSig(s)
	if err != nil {
		t.Fatalf("EncodeFileSig: %v", err)
	}
	got, err := DecodeFileSig(b)
	if err != nil {
		t.Fatalf("DecodeFileSig: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("got %+v, want %+v", got, s)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	if _, err := DecodeExports([]byte("not gob")); err == nil {
		t.Error("DecodeExports accepted garbage")
	}
	if _, err := DecodeAST([]byte{1}); err == nil {
		t.Error("DecodeAST accepted a truncated blob")
	}
}

func TestALocTable_RoundTrip(t *testing.T) {
	locs := []Loc{
		{Line: 1, Col: 0},
		{Line: 1, Col: 12},
		{Line: 4, Col: 2},
		{Line: 3, Col: 8}, // sibling revisits an earlier line
		{Line: 120, Col: 0},
	}
	packed := PackALocTable(locs)

	got, err := UnpackALocTable(packed)
	if err != nil {
		t.Fatalf("UnpackALocTable: %v", err)
	}
	if !reflect.DeepEqual(got, locs) {
		t.Errorf("got %v, want %v", got, locs)
	}

	n, err := ALocTableLen(packed)
	if err != nil {
		t.Fatalf("ALocTableLen: %v", err)
	}
	if n != len(locs) {
		t.Errorf("ALocTableLen = %d, want %d", n, len(locs))
	}
}

func TestALocTable_Empty(t *testing.T) {
	packed := PackALocTable(nil)
	got, err := UnpackALocTable(packed)
	if err != nil {
		t.Fatalf("UnpackALocTable: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}

func TestALocTable_Corrupt(t *testing.T) {
	if _, err := UnpackALocTable([]byte{}); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("empty input: err = %v, want corrupt-table error", err)
	}
	if _, err := UnpackALocTable([]byte{5}); err == nil {
		t.Error("truncated table accepted")
	}
}
