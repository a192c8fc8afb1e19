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

	"github.com/kraklabs/parseheap/pkg/blob"
)

// Snapshot selects which entity slot a reader observes.
type Snapshot uint8

const (
	// Latest sees in-flight writes. Used inside a transaction.
	Latest Snapshot = iota

	// Committed sees the state as of the last commit. Used outside
	// transactions and for "old" lookups during a reparse.
	Committed
)

// astCacheEntries and alocCacheEntries size the reader-local caches.
// Checker stages revisit a small working set of files, so modest caches
// capture nearly all repeat decodes.
const (
	astCacheEntries  = 128
	alocCacheEntries = 512
)

// Reader presents one snapshot of the store. The snapshot is fixed at
// construction; every operation dispatches on it exactly once at entry.
// Decoded ASTs and location tables are cached per reader — caches are
// process-local and never shared across snapshots.
//
// The plain Get operations return absent artifacts as a false second
// result. The Unsafe variants return a *LookupError instead, for callers
// whose preconditions prove the artifact must exist. Blobs that fail to
// decode panic: the store wrote them, so a bad blob means the heap is no
// longer trustworthy.
type Reader struct {
	s         *Store
	snap      Snapshot
	astCache  *lruCache[FileKey, *blob.AST]
	alocCache *lruCache[FileKey, []blob.Loc]
}

// MutatorReader returns a reader over the latest slots, for use inside a
// transaction. Its caches are cleared at every commit and rollback.
func (s *Store) MutatorReader() *Reader { return s.newReader(Latest) }

// CommittedReader returns a reader over the committed slots. Its caches are
// invalidated per commit for the changed files only.
func (s *Store) CommittedReader() *Reader { return s.newReader(Committed) }

// ReaderFor returns a reader for a dynamically chosen snapshot.
func (s *Store) ReaderFor(snap Snapshot) *Reader { return s.newReader(snap) }

func (s *Store) newReader(snap Snapshot) *Reader {
	r := &Reader{
		s:         s,
		snap:      snap,
		astCache:  newLRU[FileKey, *blob.AST](astCacheEntries),
		alocCache: newLRU[FileKey, []blob.Loc](alocCacheEntries),
	}
	s.registerReader(r)
	return r
}

// Snapshot reports which view the reader presents.
func (r *Reader) Snapshot() Snapshot { return r.snap }

func (r *Reader) clearCaches() {
	r.astCache.clear()
	r.alocCache.clear()
}

func (r *Reader) invalidate(changed map[FileKey]struct{}) {
	for k := range changed {
		r.astCache.remove(k)
		r.alocCache.remove(k)
	}
}

// parse resolves the key's parse under the reader's snapshot.
func (r *Reader) parse(key FileKey) (*File, *Parse) {
	f := r.s.file(key)
	if f == nil {
		return nil, nil
	}
	switch r.snap {
	case Latest:
		return f, f.parse.Latest()
	default:
		return f, f.parse.ReadCommitted(r.s.clock.ActiveID())
	}
}

// GetParse returns the file's parse, typed or not.
func (r *Reader) GetParse(key FileKey) (*Parse, bool) {
	_, p := r.parse(key)
	return p, p != nil
}

// GetParseUnsafe is GetParse with a typed failure.
func (r *Reader) GetParseUnsafe(key FileKey) (*Parse, error) {
	f, p := r.parse(key)
	if f == nil {
		return nil, lookupErr(FileNotFound, key)
	}
	if p == nil {
		return nil, lookupErr(FileNotParsed, key)
	}
	return p, nil
}

// GetTypedParse returns the file's parse when it carries the full artifact
// set.
func (r *Reader) GetTypedParse(key FileKey) (*Parse, bool) {
	_, p := r.parse(key)
	if p == nil || !p.typed {
		return nil, false
	}
	return p, true
}

// GetTypedParseUnsafe is GetTypedParse with a typed failure.
func (r *Reader) GetTypedParseUnsafe(key FileKey) (*Parse, error) {
	p, err := r.GetParseUnsafe(key)
	if err != nil {
		return nil, err
	}
	if !p.typed {
		return nil, lookupErr(FileNotTyped, key)
	}
	return p, nil
}

// IsTypedFile reports whether the file's parse under this snapshot is
// typed.
func (r *Reader) IsTypedFile(key FileKey) bool {
	_, ok := r.GetTypedParse(key)
	return ok
}

// HasAST reports whether an AST blob is present for the file.
func (r *Reader) HasAST(key FileKey) bool {
	p, ok := r.GetTypedParse(key)
	return ok && p.ast != 0
}

// GetFileHash returns the content hash the file was last published under.
func (r *Reader) GetFileHash(key FileKey) (uint64, bool) {
	_, p := r.parse(key)
	if p == nil {
		return 0, false
	}
	return p.hash, true
}

// GetFileHashUnsafe is GetFileHash with a typed failure.
func (r *Reader) GetFileHashUnsafe(key FileKey) (uint64, error) {
	p, err := r.GetParseUnsafe(key)
	if err != nil {
		return 0, err
	}
	return p.hash, nil
}

// GetAST returns the decoded syntax tree. Decodes go through the reader's
// AST cache.
func (r *Reader) GetAST(key FileKey) (*blob.AST, bool) {
	if ast, ok := r.astCache.get(key); ok {
		r.s.met.IncCacheLookup("ast", true)
		return ast, true
	}
	r.s.met.IncCacheLookup("ast", false)

	p, ok := r.GetTypedParse(key)
	if !ok || p.ast == 0 {
		return nil, false
	}
	ast, err := blob.DecodeAST(r.s.arena.Bytes(p.ast))
	if err != nil {
		panic(fmt.Sprintf("store: %s: %v", key, err))
	}
	r.astCache.add(key, ast)
	return ast, true
}

// GetASTUnsafe is GetAST with a typed failure.
func (r *Reader) GetASTUnsafe(key FileKey) (*blob.AST, error) {
	if ast, ok := r.GetAST(key); ok {
		return ast, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(AstNotFound, key)
}

// GetDocblock returns the decoded docblock pragmas.
func (r *Reader) GetDocblock(key FileKey) (*blob.Docblock, bool) {
	p, ok := r.GetTypedParse(key)
	if !ok || p.docblock == 0 {
		return nil, false
	}
	d, err := blob.DecodeDocblock(r.s.arena.Bytes(p.docblock))
	if err != nil {
		panic(fmt.Sprintf("store: %s: %v", key, err))
	}
	return d, true
}

// GetDocblockUnsafe is GetDocblock with a typed failure.
func (r *Reader) GetDocblockUnsafe(key FileKey) (*blob.Docblock, error) {
	if d, ok := r.GetDocblock(key); ok {
		return d, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(DocblockNotFound, key)
}

// GetExports returns the decoded exports summary.
func (r *Reader) GetExports(key FileKey) (*blob.Exports, bool) {
	p, ok := r.GetTypedParse(key)
	if !ok || p.exports == 0 {
		return nil, false
	}
	e, err := blob.DecodeExports(r.s.arena.Bytes(p.exports))
	if err != nil {
		panic(fmt.Sprintf("store: %s: %v", key, err))
	}
	return e, true
}

// GetExportsUnsafe is GetExports with a typed failure.
func (r *Reader) GetExportsUnsafe(key FileKey) (*blob.Exports, error) {
	if e, ok := r.GetExports(key); ok {
		return e, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(RequiresNotFound, key)
}

// fileSig decodes the file signature if present.
func (r *Reader) fileSig(key FileKey) (*blob.FileSig, bool) {
	p, ok := r.GetTypedParse(key)
	if !ok || p.fileSig == 0 {
		return nil, false
	}
	sig, err := blob.DecodeFileSig(r.s.arena.Bytes(p.fileSig))
	if err != nil {
		panic(fmt.Sprintf("store: %s: %v", key, err))
	}
	return sig, true
}

// GetFileSig returns the file's dependency signature when it extracted
// cleanly; signatures with tolerated errors are only visible through
// GetTolerableFileSig.
func (r *Reader) GetFileSig(key FileKey) (*blob.FileSig, bool) {
	sig, ok := r.fileSig(key)
	if !ok || len(sig.ToleratedErrors) > 0 {
		return nil, false
	}
	return sig, true
}

// GetFileSigUnsafe is GetFileSig with a typed failure.
func (r *Reader) GetFileSigUnsafe(key FileKey) (*blob.FileSig, error) {
	if sig, ok := r.GetFileSig(key); ok {
		return sig, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(RequiresNotFound, key)
}

// GetTolerableFileSig returns the signature regardless of tolerated
// extraction errors.
func (r *Reader) GetTolerableFileSig(key FileKey) (*blob.FileSig, bool) {
	return r.fileSig(key)
}

// GetTolerableFileSigUnsafe is GetTolerableFileSig with a typed failure.
func (r *Reader) GetTolerableFileSigUnsafe(key FileKey) (*blob.FileSig, error) {
	if sig, ok := r.fileSig(key); ok {
		return sig, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(RequiresNotFound, key)
}

// GetRequires returns the modules the file requires, from its signature.
func (r *Reader) GetRequires(key FileKey) ([]string, bool) {
	sig, ok := r.fileSig(key)
	if !ok {
		return nil, false
	}
	return sig.Requires, true
}

// GetRequiresUnsafe is GetRequires with a typed failure.
func (r *Reader) GetRequiresUnsafe(key FileKey) ([]string, error) {
	if req, ok := r.GetRequires(key); ok {
		return req, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(RequiresNotFound, key)
}

// GetTypeSig returns the file's binary type signature. The encoding is
// owned by the signature collaborator; the store hands back the raw bytes.
func (r *Reader) GetTypeSig(key FileKey) ([]byte, bool) {
	p, ok := r.GetTypedParse(key)
	if !ok || p.typeSig == 0 {
		return nil, false
	}
	return r.s.arena.Bytes(p.typeSig), true
}

// GetTypeSigUnsafe is GetTypeSig with a typed failure.
func (r *Reader) GetTypeSigUnsafe(key FileKey) ([]byte, error) {
	if sig, ok := r.GetTypeSig(key); ok {
		return sig, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(TypeSigNotFound, key)
}

// GetALocTable returns the decoded location table. Decodes go through the
// reader's table cache.
func (r *Reader) GetALocTable(key FileKey) ([]blob.Loc, bool) {
	if t, ok := r.alocCache.get(key); ok {
		r.s.met.IncCacheLookup("aloc", true)
		return t, true
	}
	r.s.met.IncCacheLookup("aloc", false)

	p, ok := r.GetTypedParse(key)
	if !ok || p.alocTable == 0 {
		return nil, false
	}
	t, err := blob.UnpackALocTable(r.s.arena.Bytes(p.alocTable))
	if err != nil {
		panic(fmt.Sprintf("store: %s: %v", key, err))
	}
	r.alocCache.add(key, t)
	return t, true
}

// GetALocTableUnsafe is GetALocTable with a typed failure.
func (r *Reader) GetALocTableUnsafe(key FileKey) ([]blob.Loc, error) {
	if t, ok := r.GetALocTable(key); ok {
		return t, nil
	}
	if _, err := r.GetTypedParseUnsafe(key); err != nil {
		return nil, err
	}
	return nil, lookupErr(AlocTableNotFound, key)
}

// LocOfALoc converts an abstract location in key's file to a concrete one,
// lazily loading the file's location table through the cache.
func (r *Reader) LocOfALoc(key FileKey, a blob.ALoc) (blob.Loc, error) {
	table, err := r.GetALocTableUnsafe(key)
	if err != nil {
		return blob.Loc{}, err
	}
	if int(a) >= len(table) {
		return blob.Loc{}, fmt.Errorf("store: %s: aloc %d out of range (table has %d)", key, a, len(table))
	}
	return table[a], nil
}

// GetProvider returns the file currently providing the named module under
// this snapshot.
func (r *Reader) GetProvider(name ModuleName) (FileKey, bool) {
	ent, ok := r.s.module(name)
	if !ok {
		return FileKey{}, false
	}
	var f *File
	switch r.snap {
	case Latest:
		f = ent.Latest()
	default:
		f = ent.ReadCommitted(r.s.clock.ActiveID())
	}
	if f == nil {
		return FileKey{}, false
	}
	return f.key, true
}

// GetProviderUnsafe is GetProvider with a typed failure: the module record
// being absent and the module having no chosen provider both fail, with
// the kind matching the module flavor.
func (r *Reader) GetProviderUnsafe(name ModuleName) (FileKey, error) {
	key, ok := r.GetProvider(name)
	if !ok {
		kind := FileModuleNotFound
		if name.IsHaste() {
			kind = HasteModuleNotFound
		}
		return FileKey{}, moduleErr(kind, name)
	}
	return key, nil
}
