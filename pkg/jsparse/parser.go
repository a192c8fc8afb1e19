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

// Package jsparse is the worker-side parser: it turns JavaScript source
// into the artifact set the parse store ingests. Tree-sitter provides the
// syntax tree; this package derives the AST summary, location table,
// docblock pragmas, exports, and dependency signature from it.
package jsparse

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/kraklabs/parseheap/pkg/blob"
)

// Artifacts is the worker→store contract for one file. Typed artifacts
// carry the full set; untyped ones only the hash and haste binding (a file
// that failed to parse or opted out with @noflow still claims its module).
type Artifacts struct {
	Typed bool
	Hash  uint64
	Haste string

	// Typed only.
	Docblock *blob.Docblock
	AST      *blob.AST
	ALocs    []blob.Loc
	FileSig  *blob.FileSig
	TypeSig  []byte
	Exports  *blob.Exports
}

// Parser parses JavaScript sources. Tree-sitter parsers are not
// thread-safe, so instances are pooled; one Parser serves all workers.
type Parser struct {
	logger *slog.Logger

	pool sync.Pool
	init sync.Once
}

// New creates a parser. logger may be nil.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) initPool() {
	p.init.Do(func() {
		p.pool.New = func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(javascript.GetLanguage())
			return parser
		}
	})
}

// ParseSource parses one file's bytes. Files with syntax errors or a
// @noflow pragma come back untyped; the caller publishes them with
// AddUnparsed. path is used for logging only.
func (p *Parser) ParseSource(ctx context.Context, path string, src []byte) (*Artifacts, error) {
	p.initPool()

	hash := xxhash.Sum64(src)
	docblock := ExtractDocblock(src)

	out := &Artifacts{Hash: hash, Haste: docblock.ProvidesModule}
	if docblock.Flow == "noflow" {
		return out, nil
	}

	parser := p.pool.Get().(*sitter.Parser)
	defer p.pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("jsparse: %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		p.logger.Debug("jsparse.syntax_errors", "path", path)
		return out, nil
	}

	b := &astBuilder{src: src}
	astRoot := b.build(root)

	out.Typed = true
	out.Docblock = docblock
	out.AST = &blob.AST{Root: astRoot}
	out.ALocs = b.locs
	out.Exports = extractExports(root, src)
	out.FileSig = &blob.FileSig{
		Requires:      extractRequires(root, src),
		ExportedNames: exportedNames(out.Exports),
	}
	out.TypeSig = encodeTypeSig(out.FileSig.ExportedNames)
	return out, nil
}

// astBuilder summarizes a tree-sitter tree into the store's AST shape,
// assigning each named node an abstract location.
type astBuilder struct {
	src  []byte
	locs []blob.Loc
}

func (b *astBuilder) build(n *sitter.Node) blob.Node {
	point := n.StartPoint()
	aloc := blob.ALoc(len(b.locs))
	b.locs = append(b.locs, blob.Loc{Line: point.Row + 1, Col: point.Column})

	out := blob.Node{Kind: n.Type(), Loc: aloc}
	count := int(n.NamedChildCount())
	if count > 0 {
		out.Children = make([]blob.Node, 0, count)
		for i := 0; i < count; i++ {
			out.Children = append(out.Children, b.build(n.NamedChild(i)))
		}
	}
	return out
}

// extractExports collects a file's exported bindings: ES export statements
// and CommonJS module.exports assignments.
func extractExports(root *sitter.Node, src []byte) *blob.Exports {
	out := &blob.Exports{}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "export_statement":
			collectExportStatement(n, src, out)
		case "expression_statement":
			if isModuleExportsAssignment(n, src) {
				out.CommonJS = true
			}
		}
	}
	sort.Strings(out.Named)
	return out
}

func collectExportStatement(n *sitter.Node, src []byte, out *blob.Exports) {
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		if name := decl.ChildByFieldName("name"); name != nil {
			out.Named = append(out.Named, name.Content(src))
			return
		}
		// export const a = ..., b = ...
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			c := decl.NamedChild(i)
			if c.Type() == "variable_declarator" {
				if name := c.ChildByFieldName("name"); name != nil {
					out.Named = append(out.Named, name.Content(src))
				}
			}
		}
		return
	}
	// export default <expr>; export { a, b as c };
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "export_clause" {
			for j := 0; j < int(c.NamedChildCount()); j++ {
				spec := c.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if name != nil {
					out.Named = append(out.Named, name.Content(src))
				}
			}
			return
		}
	}
	// No clause and no declaration: "export default".
	out.HasDefault = true
}

func isModuleExportsAssignment(n *sitter.Node, src []byte) bool {
	expr := n.NamedChild(0)
	if expr == nil || expr.Type() != "assignment_expression" {
		return false
	}
	left := expr.ChildByFieldName("left")
	if left == nil || left.Type() != "member_expression" {
		return false
	}
	text := left.Content(src)
	return text == "module.exports" || text == "exports" ||
		(len(text) > 15 && text[:15] == "module.exports.")
}

// extractRequires walks the whole tree for require() calls and import
// statements, in source order, deduplicated.
func extractRequires(root *sitter.Node, src []byte) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(specifier string) {
		if specifier == "" {
			return
		}
		if _, dup := seen[specifier]; dup {
			return
		}
		seen[specifier] = struct{}{}
		out = append(out, specifier)
	}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			if source := n.ChildByFieldName("source"); source != nil {
				add(stringLiteralValue(source, src))
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn != nil && args != nil && fn.Type() == "identifier" && fn.Content(src) == "require" {
				if args.NamedChildCount() == 1 {
					add(stringLiteralValue(args.NamedChild(0), src))
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return out
}

// stringLiteralValue returns the unquoted text of a string literal node,
// or "" for non-literal arguments (dynamic requires are not resolvable).
func stringLiteralValue(n *sitter.Node, src []byte) string {
	if n.Type() != "string" {
		return ""
	}
	text := n.Content(src)
	if len(text) >= 2 {
		return text[1 : len(text)-1]
	}
	return ""
}

func exportedNames(e *blob.Exports) []string {
	names := append([]string{}, e.Named...)
	if e.HasDefault {
		names = append(names, "default")
	}
	if e.CommonJS {
		names = append(names, "module.exports")
	}
	return names
}

// encodeTypeSig builds the opaque binary type signature: a versioned,
// length-prefixed list of exported binding names. The checker's signature
// reader owns the format; the store never inspects it.
func encodeTypeSig(names []string) []byte {
	buf := []byte{1} // format version
	buf = binary.AppendUvarint(buf, uint64(len(names)))
	for _, n := range names {
		buf = binary.AppendUvarint(buf, uint64(len(n)))
		buf = append(buf, n...)
	}
	return buf
}
