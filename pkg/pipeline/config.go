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
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config controls a parse run.
type Config struct {
	// Roots are the directories to walk for parseable files.
	Roots []string `yaml:"roots"`

	// Libs are directories of library declaration files. Lib files are
	// parsed but never get an eponymous file module.
	Libs []string `yaml:"libs"`

	// ExcludeGlobs are path patterns to skip, matched with filepath.Match
	// against the root-relative path and against its last element.
	ExcludeGlobs []string `yaml:"exclude"`

	// Workers is the parse worker count. 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// ArenaCapacityBytes bounds the artifact heap. 0 selects the default.
	ArenaCapacityBytes int64 `yaml:"arena_capacity_bytes"`

	// MaxFileSizeBytes skips files larger than this. Default 1MB.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
}

// DefaultMaxFileSize is the fallback for Config.MaxFileSizeBytes.
const DefaultMaxFileSize = 1 << 20

// LoadConfig reads a yaml config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pipeline: parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = DefaultMaxFileSize
	}
}

// Validate rejects configs that cannot run.
func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return fmt.Errorf("pipeline: config has no roots")
	}
	for _, g := range c.ExcludeGlobs {
		if _, err := filepath.Match(g, "probe"); err != nil {
			return fmt.Errorf("pipeline: bad exclude glob %q: %w", g, err)
		}
	}
	return nil
}

// excluded reports whether a root-relative path matches any exclude glob,
// testing the full path and its last element.
func (c *Config) excluded(rel string) bool {
	for _, g := range c.ExcludeGlobs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
