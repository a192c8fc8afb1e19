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
	"sync"

	"github.com/kraklabs/parseheap/pkg/txn"
)

// CommitModulesMutator finalizes the module side of a transaction: the
// master runs provider selection over the dirty set, and modules left with
// no live providers are staged for removal. The staged records leave the
// key→module tables at commit — the only point at which module records
// disappear. Rollback just drops the staging set; the tables are untouched.
type CommitModulesMutator struct {
	s *Store
	t *txn.Transaction

	mu          sync.Mutex
	noProviders ModuleSet
}

// NewCommitModulesMutator creates the mutator and registers its hooks.
func NewCommitModulesMutator(s *Store, t *txn.Transaction) *CommitModulesMutator {
	m := &CommitModulesMutator{s: s, t: t, noProviders: make(ModuleSet)}
	t.Add("commit-modules", m.onCommit, m.onRollback)
	return m
}

// SelectProviders re-picks each dirty module's provider from its live
// provider list, choosing the smallest file key for determinism. Modules
// with no live providers are staged for removal and returned. Master-only.
func (m *CommitModulesMutator) SelectProviders(dirty ModuleSet) ModuleSet {
	none := make(ModuleSet)
	for _, name := range dirty.Names() {
		if !m.selectOne(name) {
			none.Add(name)
		}
	}
	m.RecordNoProviders(none)
	return none
}

// selectOne advances one module's provider entity; reports false when the
// module has no live providers left.
func (m *CommitModulesMutator) selectOne(name ModuleName) bool {
	var providers []*File
	var ent *providerEntity
	if name.IsHaste() {
		hm := m.s.hasteModule(name.Haste())
		if hm == nil {
			return false
		}
		providers = hm.allProvidersExclusive()
		ent = &hm.provider
	} else {
		fm := m.s.fileModule(name.FileKey())
		if fm == nil {
			return false
		}
		providers = fm.allProvidersExclusive()
		ent = &fm.provider
	}
	if len(providers) == 0 {
		return false
	}
	best := providers[0]
	for _, f := range providers[1:] {
		if f.key.less(best.key) {
			best = f
		}
	}
	ent.Advance(m.t.ID(), best)
	return true
}

// RecordNoProviders stages modules for removal at commit.
func (m *CommitModulesMutator) RecordNoProviders(names ModuleSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noProviders.Union(names)
}

func (m *CommitModulesMutator) onCommit() {
	m.mu.Lock()
	staged := m.noProviders
	m.noProviders = make(ModuleSet)
	m.mu.Unlock()

	if len(staged) == 0 {
		return
	}
	m.s.mu.Lock()
	for name := range staged {
		if name.IsHaste() {
			delete(m.s.hasteModules, name.Haste())
		} else {
			delete(m.s.fileModules, name.FileKey())
		}
	}
	m.s.mu.Unlock()

	m.s.met.AddModulesRemoved(len(staged))
	m.s.logger.Debug("store.modules.removed", "txn", m.t.ID(), "count", len(staged))
}

func (m *CommitModulesMutator) onRollback() {
	m.mu.Lock()
	m.noProviders = make(ModuleSet)
	m.mu.Unlock()
}
