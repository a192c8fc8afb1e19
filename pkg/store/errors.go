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

import "fmt"

// LookupErrorKind classifies a missing-artifact failure from the unsafe
// read operations. The plain Get operations report the same conditions as
// absent optionals; callers with a proved precondition use the unsafe forms
// and treat these as programmer errors.
type LookupErrorKind uint8

const (
	FileNotFound LookupErrorKind = iota + 1
	FileNotParsed
	FileNotTyped
	AstNotFound
	AlocTableNotFound
	DocblockNotFound
	RequiresNotFound
	TypeSigNotFound
	HasteModuleNotFound
	FileModuleNotFound
)

// String names the kind.
func (k LookupErrorKind) String() string {
	switch k {
	case FileNotFound:
		return "FileNotFound"
	case FileNotParsed:
		return "FileNotParsed"
	case FileNotTyped:
		return "FileNotTyped"
	case AstNotFound:
		return "AstNotFound"
	case AlocTableNotFound:
		return "AlocTableNotFound"
	case DocblockNotFound:
		return "DocblockNotFound"
	case RequiresNotFound:
		return "RequiresNotFound"
	case TypeSigNotFound:
		return "TypeSigNotFound"
	case HasteModuleNotFound:
		return "HasteModuleNotFound"
	case FileModuleNotFound:
		return "FileModuleNotFound"
	default:
		return fmt.Sprintf("LookupErrorKind(%d)", uint8(k))
	}
}

// LookupError is the typed failure returned by the unsafe read operations.
type LookupError struct {
	Kind   LookupErrorKind
	Key    FileKey    // the file the lookup was about, if any
	Module ModuleName // the module the lookup was about, if any
}

// Error implements error.
func (e *LookupError) Error() string {
	switch e.Kind {
	case HasteModuleNotFound, FileModuleNotFound:
		return fmt.Sprintf("store: %s: %s", e.Kind, e.Module)
	default:
		return fmt.Sprintf("store: %s: %s", e.Kind, e.Key)
	}
}

// Is matches against a bare *LookupError carrying only a Kind, so callers
// can write errors.Is(err, &LookupError{Kind: FileNotTyped}).
func (e *LookupError) Is(target error) bool {
	t, ok := target.(*LookupError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind &&
		(t.Key == FileKey{} || t.Key == e.Key) &&
		(t.Module == ModuleName{} || t.Module == e.Module)
}

func lookupErr(kind LookupErrorKind, key FileKey) error {
	return &LookupError{Kind: kind, Key: key}
}

func moduleErr(kind LookupErrorKind, name ModuleName) error {
	return &LookupError{Kind: kind, Module: name}
}
