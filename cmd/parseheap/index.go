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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/parseheap/pkg/metrics"
	"github.com/kraklabs/parseheap/pkg/pipeline"
	"github.com/kraklabs/parseheap/pkg/store"
)

// runIndex parses the project and prints a run summary.
func runIndex(globals GlobalFlags, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Parse worker count (default: GOMAXPROCS)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9123)")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}

	cfg := loadOrDefaultConfig(globals, fs.Args())
	if *workers > 0 {
		cfg.Workers = *workers
	}

	var met *metrics.Set
	if *metricsAddr != "" {
		met = metrics.New(prometheus.DefaultRegisterer)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			slog.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	s := store.New(store.Options{
		ArenaCapacity: cfg.ArenaCapacityBytes,
		Logger:        slog.Default(),
		Metrics:       met,
	})
	p := pipeline.New(*cfg, s, slog.Default(), met)

	interactive := isatty.IsTerminal(os.Stderr.Fd()) && !globals.Quiet && !globals.JSON
	var (
		barMu sync.Mutex
		bar   *progressbar.ProgressBar
	)
	if interactive {
		// The callback runs on worker goroutines.
		p.SetProgressCallback(func(current, total int64, phase string) {
			barMu.Lock()
			defer barMu.Unlock()
			if bar == nil {
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetDescription(phase),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set64(current)
		})
	}

	res, err := p.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		fatal(err)
	}

	if globals.JSON {
		printIndexJSON(s, res)
		return
	}
	printIndexSummary(globals, s, res)
}

// loadOrDefaultConfig resolves the run config: an explicit --config file,
// else ./parseheap.yaml when no path argument is given, else a default
// single-root config over the path (or "."). A parseheap.yaml inside a
// given path is not consulted.
func loadOrDefaultConfig(globals GlobalFlags, args []string) *pipeline.Config {
	if globals.ConfigPath != "" {
		cfg, err := pipeline.LoadConfig(globals.ConfigPath)
		if err != nil {
			fatal(err)
		}
		return cfg
	}

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	if _, err := os.Stat("parseheap.yaml"); err == nil && len(args) == 0 {
		cfg, err := pipeline.LoadConfig("parseheap.yaml")
		if err != nil {
			fatal(err)
		}
		return cfg
	}

	cfg := &pipeline.Config{
		Roots:        []string{root},
		ExcludeGlobs: []string{"node_modules", ".git"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func printIndexSummary(globals GlobalFlags, s *store.Store, res *pipeline.Result) {
	if globals.NoColor {
		color.NoColor = true
	}
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	_, _ = green.Println("✓ index complete")
	_, _ = bold.Printf("  run          %s\n", res.RunID)
	fmt.Printf("  files        %d parsed, %d missing\n", res.FilesParsed, res.NotFound)
	fileModules, hasteModules := s.ModuleCounts()
	fmt.Printf("  modules      %d file, %d haste (%d dirty)\n", fileModules, hasteModules, len(res.DirtyModules))
	fmt.Printf("  heap         %s of artifacts\n", humanize.IBytes(uint64(res.ArenaUsed)))
	fmt.Printf("  elapsed      %s (parse %s)\n", res.TotalTime.Round(time.Millisecond), res.ParseTime.Round(time.Millisecond))
}

func printIndexJSON(s *store.Store, res *pipeline.Result) {
	fileModules, hasteModules := s.ModuleCounts()
	out := map[string]any{
		"run_id":        res.RunID,
		"files_parsed":  res.FilesParsed,
		"files_missing": res.NotFound,
		"file_modules":  fileModules,
		"haste_modules": hasteModules,
		"dirty_modules": len(res.DirtyModules),
		"arena_bytes":   res.ArenaUsed,
		"elapsed_ms":    res.TotalTime.Milliseconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
