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
	"fmt"
	"sort"
)

// FileKind classifies a file key. The kind decides how the pipeline parses
// the file and whether the file gets an eponymous file module: Lib files
// provide no module, and Builtins is a phantom kind that can never be
// stored.
type FileKind uint8

const (
	KindSource FileKind = iota + 1
	KindJSON
	KindResource
	KindLib
	KindBuiltins
)

// String names the kind for logs and errors.
func (k FileKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindJSON:
		return "json"
	case KindResource:
		return "resource"
	case KindLib:
		return "lib"
	case KindBuiltins:
		return "builtins"
	default:
		return fmt.Sprintf("FileKind(%d)", uint8(k))
	}
}

// FileKey identifies a file in the store. Keys are comparable and used as
// map keys in the global tables.
type FileKey struct {
	Kind FileKind
	Path string
}

// SourceKey returns the key of an implementation file.
func SourceKey(path string) FileKey { return FileKey{Kind: KindSource, Path: path} }

// JSONKey returns the key of a JSON file.
func JSONKey(path string) FileKey { return FileKey{Kind: KindJSON, Path: path} }

// ResourceKey returns the key of an asset referenced from code.
func ResourceKey(path string) FileKey { return FileKey{Kind: KindResource, Path: path} }

// LibKey returns the key of a library declaration file.
func LibKey(path string) FileKey { return FileKey{Kind: KindLib, Path: path} }

// BuiltinsKey returns the phantom builtins key. It is not storable.
func BuiltinsKey() FileKey { return FileKey{Kind: KindBuiltins} }

// String renders the key for logs and errors.
func (k FileKey) String() string {
	if k.Kind == KindBuiltins {
		return "<builtins>"
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.Path)
}

// storable reports whether the key may appear in the file table.
func (k FileKey) storable() bool {
	return k.Kind >= KindSource && k.Kind <= KindLib
}

// hasFileModule reports whether the key owns an eponymous file module.
func (k FileKey) hasFileModule() bool {
	return k.storable() && k.Kind != KindLib
}

// less orders keys by kind then path, the tie-break used by provider
// selection.
func (k FileKey) less(other FileKey) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.Path < other.Path
}

// ModuleName identifies a module: either a declared haste name or a file
// path. The zero value is invalid.
type ModuleName struct {
	haste string
	file  FileKey
}

// HasteModuleName names a module by its declared haste name.
func HasteModuleName(name string) ModuleName {
	if name == "" {
		panic("store: empty haste module name")
	}
	return ModuleName{haste: name}
}

// FileModuleName names the eponymous module of a file key.
func FileModuleName(key FileKey) ModuleName {
	if !key.hasFileModule() {
		panic(fmt.Sprintf("store: %s has no file module", key))
	}
	return ModuleName{file: key}
}

// IsHaste reports whether the name is a haste module name.
func (m ModuleName) IsHaste() bool { return m.haste != "" }

// Haste returns the haste name, or "" for a file module.
func (m ModuleName) Haste() string { return m.haste }

// FileKey returns the file key of a file module name.
func (m ModuleName) FileKey() FileKey { return m.file }

// String renders the module name for logs and errors.
func (m ModuleName) String() string {
	if m.IsHaste() {
		return "haste:" + m.haste
	}
	return "file:" + m.file.String()
}

// ModuleSet is the dirty-module work list handed to provider selection.
type ModuleSet map[ModuleName]struct{}

// NewModuleSet builds a set from names.
func NewModuleSet(names ...ModuleName) ModuleSet {
	s := make(ModuleSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts a name.
func (s ModuleSet) Add(n ModuleName) { s[n] = struct{}{} }

// Has reports membership.
func (s ModuleSet) Has(n ModuleName) bool {
	_, ok := s[n]
	return ok
}

// Union merges other into s and returns s.
func (s ModuleSet) Union(other ModuleSet) ModuleSet {
	for n := range other {
		s[n] = struct{}{}
	}
	return s
}

// Names returns the members sorted for deterministic iteration.
func (s ModuleSet) Names() []ModuleName {
	names := make([]ModuleName, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if a.IsHaste() != b.IsHaste() {
			return a.IsHaste()
		}
		if a.IsHaste() {
			return a.haste < b.haste
		}
		return a.file.less(b.file)
	})
	return names
}
