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

package jsparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/parseheap/pkg/blob"
)

const sampleSource = `/**
 * @flow
 * @providesModule Banana
 */
const peel = require('./peel');
import ripe from 'ripeness';

export const color = 'yellow';

function weigh(grams) {
  return grams / 1000;
}

export { weigh };
`

func TestParseSource_TypedArtifacts(t *testing.T) {
	p := New(nil)

	a, err := p.ParseSource(context.Background(), "banana.js", []byte(sampleSource))
	require.NoError(t, err)
	require.True(t, a.Typed, "clean source should parse typed")

	assert.Equal(t, "Banana", a.Haste)
	assert.Equal(t, "flow", a.Docblock.Flow)
	assert.NotZero(t, a.Hash)

	require.NotNil(t, a.AST)
	assert.Equal(t, "program", a.AST.Root.Kind)
	assert.NotEmpty(t, a.AST.Root.Children)

	// Every AST node has a location table entry.
	assert.Equal(t, countNodes(a.AST.Root), len(a.ALocs))
	assert.Equal(t, uint32(1), a.ALocs[0].Line, "root starts at line 1")

	assert.Equal(t, []string{"./peel", "ripeness"}, a.FileSig.Requires)
	assert.Contains(t, a.Exports.Named, "color")
	assert.Contains(t, a.Exports.Named, "weigh")
	assert.NotEmpty(t, a.TypeSig)
}

func countNodes(n blob.Node) int {
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

func TestParseSource_SameContentSameHash(t *testing.T) {
	p := New(nil)
	a1, err := p.ParseSource(context.Background(), "a.js", []byte(sampleSource))
	require.NoError(t, err)
	a2, err := p.ParseSource(context.Background(), "b.js", []byte(sampleSource))
	require.NoError(t, err)
	assert.Equal(t, a1.Hash, a2.Hash)

	a3, err := p.ParseSource(context.Background(), "c.js", []byte(sampleSource+"\n// changed"))
	require.NoError(t, err)
	assert.NotEqual(t, a1.Hash, a3.Hash)
}

func TestParseSource_NoflowIsUntyped(t *testing.T) {
	p := New(nil)
	src := []byte("/* @noflow @providesModule Legacy */\nvar x = 1;\n")

	a, err := p.ParseSource(context.Background(), "legacy.js", src)
	require.NoError(t, err)
	assert.False(t, a.Typed)
	assert.Equal(t, "Legacy", a.Haste)
	assert.NotZero(t, a.Hash)
	assert.Nil(t, a.AST)
}

func TestParseSource_SyntaxErrorIsUntyped(t *testing.T) {
	p := New(nil)
	src := []byte("/* @providesModule Broken */\nfunction ( {{{\n")

	a, err := p.ParseSource(context.Background(), "broken.js", src)
	require.NoError(t, err)
	assert.False(t, a.Typed)
	assert.Equal(t, "Broken", a.Haste)
}

func TestParseSource_CommonJSExports(t *testing.T) {
	p := New(nil)
	src := []byte("const f = () => 1;\nmodule.exports = { f };\n")

	a, err := p.ParseSource(context.Background(), "cjs.js", src)
	require.NoError(t, err)
	require.True(t, a.Typed)
	assert.True(t, a.Exports.CommonJS)
	assert.Contains(t, a.FileSig.ExportedNames, "module.exports")
}

func TestParseSource_Concurrent(t *testing.T) {
	p := New(nil)
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := p.ParseSource(context.Background(), "a.js", []byte(sampleSource))
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}

func TestExtractDocblock(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string // ProvidesModule
		flow string
	}{
		{"block comment", "/* @providesModule Foo */", "Foo", ""},
		{"line comments", "// @flow\n// @providesModule Bar\ncode();", "Bar", "flow"},
		{"starred block", "/**\n * @flow\n * @providesModule Baz\n */", "Baz", "flow"},
		{"after code ignored", "var x = 1;\n/* @providesModule Nope */", "", ""},
		{"no comment", "var x = 1;", "", ""},
		{"noflow wins", "/* @flow @noflow */", "", "noflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ExtractDocblock([]byte(tt.src))
			assert.Equal(t, tt.want, d.ProvidesModule)
			assert.Equal(t, tt.flow, d.Flow)
		})
	}
}
