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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

// runStatus reports what an index run would cover: tracked files by kind.
// The store is in-memory, so this is a dry scan, not a query of past runs.
func runStatus(globals GlobalFlags, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}

	cfg := loadOrDefaultConfig(globals, fs.Args())

	counts := map[string]int{}
	for _, root := range cfg.Roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				base := filepath.Base(path)
				for _, g := range cfg.ExcludeGlobs {
					if ok, _ := filepath.Match(g, base); ok && path != root {
						return filepath.SkipDir
					}
				}
				return nil
			}
			switch {
			case hasAnySuffix(path, ".js", ".jsx", ".mjs", ".cjs"):
				counts["source"]++
			case strings.HasSuffix(path, ".json"):
				counts["json"]++
			case hasAnySuffix(path, ".css", ".png", ".svg", ".gif", ".jpg"):
				counts["resource"]++
			}
			return nil
		})
		if err != nil {
			fatal(err)
		}
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"roots": cfg.Roots, "files": counts})
		return
	}

	if globals.NoColor {
		color.NoColor = true
	}
	bold := color.New(color.Bold)
	_, _ = bold.Printf("roots: %s\n", strings.Join(cfg.Roots, ", "))
	fmt.Printf("  source    %d\n", counts["source"])
	fmt.Printf("  json      %d\n", counts["json"])
	fmt.Printf("  resource  %d\n", counts["resource"])
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
