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

// rollbackFile reverts one file's in-flight reparse. The step ordering is
// load-bearing: old-module lists must be swept while latest still holds the
// new value (so the file's old membership reads as logically deleted and is
// purged), and the parse entity must be rolled back before the re-add (so
// the re-added membership reads as live again).
func (s *Store) rollbackFile(txnID uint64, f *File) {
	committed, latest := f.parse.Slots()
	if committed == latest {
		return
	}

	var oldFileModule, newFileModule *FileModule
	if committed != nil && latest == nil {
		oldFileModule = f.module // the reparse deleted the file
	}
	if committed == nil && latest != nil {
		newFileModule = f.module // the reparse created the file
	}

	var oldHaste, newHaste *HasteModule
	if committed != nil {
		oldHaste = committed.haste
	}
	if latest != nil {
		newHaste = latest.haste
	}
	if oldHaste == newHaste {
		// same binding on both sides, no list edits needed
		oldHaste, newHaste = nil, nil
	}

	// 1. Old modules: revert the provider choice and materialize this
	// file's deferred departure under the still-advanced parse state.
	if oldFileModule != nil {
		oldFileModule.provider.Rollback(txnID)
		oldFileModule.allProvidersExclusive()
	}
	if oldHaste != nil {
		oldHaste.provider.Rollback(txnID)
		oldHaste.allProvidersExclusive()
	}

	// 2. New modules: revert the provider choice and physically remove the
	// in-flight membership.
	if newFileModule != nil {
		newFileModule.provider.Rollback(txnID)
		newFileModule.removeProvider(f)
	}
	if newHaste != nil {
		newHaste.provider.Rollback(txnID)
		newHaste.removeProvider(f)
	}

	// 3. Revert the parse itself.
	f.parse.Rollback(txnID)

	// 4. Restore the old memberships, which now read as live.
	if oldFileModule != nil {
		oldFileModule.addProvider(committed)
	}
	if oldHaste != nil {
		oldHaste.addProvider(committed)
	}
}
