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
	"strings"

	"github.com/kraklabs/parseheap/pkg/blob"
)

// maxDocblockBytes bounds the docblock scan; pragmas past this point in a
// file are ignored, matching checker behavior.
const maxDocblockBytes = 4096

// ExtractDocblock reads the pragmas from a file's leading comment block.
// Only comments before the first code token participate: any run of
// //-lines and /* */ blocks. Returns an empty docblock when the file has no
// leading comment.
func ExtractDocblock(src []byte) *blob.Docblock {
	if len(src) > maxDocblockBytes {
		src = src[:maxDocblockBytes]
	}
	text := leadingCommentText(string(src))

	d := &blob.Docblock{}
	for _, field := range strings.Fields(text) {
		switch {
		case field == "@flow":
			if d.Flow == "" {
				d.Flow = "flow"
			}
		case field == "@noflow":
			d.Flow = "noflow"
		}
	}
	d.ProvidesModule = pragmaValue(text, "@providesModule")
	d.JSX = pragmaValue(text, "@jsx")
	return d
}

// leadingCommentText returns the concatenated text of the comments before
// the first code token.
func leadingCommentText(s string) string {
	var out strings.Builder
	rest := strings.TrimLeft(s, " \t\r\n")
	for {
		switch {
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				out.WriteString(rest[2:])
				return out.String()
			}
			out.WriteString(rest[2 : 2+end])
			out.WriteByte('\n')
			rest = strings.TrimLeft(rest[2+end+2:], " \t\r\n")
		case strings.HasPrefix(rest, "//"):
			line := rest[2:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				out.WriteString(line[:nl])
				rest = strings.TrimLeft(line[nl+1:], " \t\r\n")
			} else {
				out.WriteString(line)
				rest = ""
			}
			out.WriteByte('\n')
		default:
			return out.String()
		}
	}
}

// pragmaValue returns the word following a pragma, or "".
func pragmaValue(text, pragma string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if f == pragma && i+1 < len(fields) {
			next := fields[i+1]
			if !strings.HasPrefix(next, "@") && next != "*" {
				return next
			}
			return ""
		}
	}
	return ""
}
