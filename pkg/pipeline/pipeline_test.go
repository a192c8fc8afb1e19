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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/parseheap/pkg/store"
)

// writeTree lays out a small project and returns its root.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func newTestPipeline(t *testing.T, root string) (*Pipeline, *store.Store) {
	t.Helper()
	s := store.New(store.Options{})
	cfg := Config{Roots: []string{root}, Workers: 4, ExcludeGlobs: []string{"node_modules"}}
	return New(cfg, s, nil, nil), s
}

func TestRun_IndexesProject(t *testing.T) {
	root := writeTree(t, map[string]string{
		"banana.js":              "/* @flow @providesModule Banana */\nexport const ripe = true;\n",
		"util/peel.js":           "/* @flow */\nmodule.exports = () => 1;\n",
		"broken.js":              "function ( {{{\n",
		"package.json":           `{"name": "fruit"}`,
		"logo.png":               "not really a png",
		"README.md":              "ignored entirely",
		"node_modules/dep/x.js":  "excluded",
	})
	p, s := newTestPipeline(t, root)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// banana.js, peel.js typed; broken.js untyped; json + png untyped.
	assert.Equal(t, 5, res.FilesParsed)
	assert.NotEmpty(t, res.RunID)
	assert.Positive(t, res.ArenaUsed)

	r := s.CommittedReader()
	bananaKey := store.SourceKey(filepath.Join(root, "banana.js"))
	require.True(t, r.IsTypedFile(bananaKey))

	provider, ok := r.GetProvider(store.HasteModuleName("Banana"))
	require.True(t, ok, "haste module Banana should have a provider")
	assert.Equal(t, bananaKey, provider)

	brokenKey := store.SourceKey(filepath.Join(root, "broken.js"))
	parse, ok := r.GetParse(brokenKey)
	require.True(t, ok, "broken file should still publish an untyped parse")
	assert.False(t, parse.Typed())

	// The markdown file is not tracked at all.
	_, ok = r.GetParse(store.SourceKey(filepath.Join(root, "README.md")))
	assert.False(t, ok)
	_, ok = r.GetParse(store.SourceKey(filepath.Join(root, "node_modules/dep/x.js")))
	assert.False(t, ok)
}

func TestRerun_UnchangedAndModified(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js": "/* @flow @providesModule A */\nexport const one = 1;\n",
		"b.js": "/* @flow */\nexport const two = 2;\n",
	})
	p, s := newTestPipeline(t, root)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	aKey := store.SourceKey(filepath.Join(root, "a.js"))
	bKey := store.SourceKey(filepath.Join(root, "b.js"))
	arenaBefore := s.ArenaUsed()

	// Touch nothing: both files come back unchanged, no allocation.
	res, err := p.Rerun(context.Background(), []store.FileKey{aKey, bKey})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, 0, res.FilesParsed)
	assert.Equal(t, arenaBefore, s.ArenaUsed())

	// Modify a.js: only it re-publishes.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"),
		[]byte("/* @flow @providesModule A */\nexport const one = 111;\n"), 0o600))
	res, err = p.Rerun(context.Background(), []store.FileKey{aKey, bKey})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesParsed)
	assert.Equal(t, 1, res.Unchanged)

	r := s.CommittedReader()
	exp, ok := r.GetExports(aKey)
	require.True(t, ok)
	assert.Contains(t, exp.Named, "one")
}

func TestRerun_DeletedFile(t *testing.T) {
	root := writeTree(t, map[string]string{
		"gone.js": "/* @flow @providesModule Gone */\nexport const g = 1;\n",
		"stay.js": "/* @flow */\nexport const s = 1;\n",
	})
	p, s := newTestPipeline(t, root)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	goneKey := store.SourceKey(filepath.Join(root, "gone.js"))
	require.NoError(t, os.Remove(filepath.Join(root, "gone.js")))

	res, err := p.Rerun(context.Background(), []store.FileKey{goneKey})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotFound)

	r := s.CommittedReader()
	_, ok := r.GetParse(goneKey)
	assert.False(t, ok, "deleted file should be gone after commit")
	_, ok = r.GetProvider(store.HasteModuleName("Gone"))
	assert.False(t, ok, "module of the deleted file should have no provider")
}

func TestRun_ProgressCallback(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js": "export const a = 1;\n",
		"b.js": "export const b = 2;\n",
	})
	p, _ := newTestPipeline(t, root)

	var calls atomic.Int64
	p.SetProgressCallback(func(current, total int64, phase string) {
		if phase != "parse" {
			t.Errorf("phase = %q, want parse", phase)
		}
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
		calls.Add(1)
	})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parseheap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"roots:\n  - ./src\nexclude:\n  - node_modules\nworkers: 3\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"./src"}, cfg.Roots)
	assert.Equal(t, 3, cfg.Workers)
	assert.EqualValues(t, DefaultMaxFileSize, cfg.MaxFileSizeBytes)

	// No roots is a config error.
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
