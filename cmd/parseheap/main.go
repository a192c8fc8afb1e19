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

// Package main implements the parseheap CLI: a driver for the shared parse
// store used by the incremental checker.
//
// Usage:
//
//	parseheap index [path]      Parse a project into the store and report
//	parseheap status [path]     Show what a run would cover, without parsing
//	parseheap version           Print version information
package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the flags that apply to every command.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to parseheap.yaml (default: ./parseheap.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags like
	// "index --metrics-addr" reach the subcommand handlers.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `parseheap - shared parse store driver

parseheap parses a JavaScript project with a worker pool and publishes the
per-file artifacts (ASTs, docblocks, signatures, exports) and the derived
module-provider graph into a transactional in-memory store.

Usage:
  parseheap [flags] <command> [args]

Commands:
  index [path]    Parse the project at path (default ".") and report
  status [path]   Show what a run would cover, without parsing
  version         Print version information

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	globals := GlobalFlags{
		ConfigPath: *configPath,
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
	}
	setupLogging(globals)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "index":
		runIndex(globals, args[1:])
	case "status":
		runStatus(globals, args[1:])
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "parseheap: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

func setupLogging(globals GlobalFlags) {
	level := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func printVersion() {
	fmt.Printf("parseheap %s (commit %s, built %s)\n", version, commit, date)
}

// fatal prints an error and exits. Quiet mode still prints: a failed run
// with no explanation is worse than noise.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "parseheap: %v\n", err)
	os.Exit(1)
}
