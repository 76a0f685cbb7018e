// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package main is the entry point for the Nexus runtime host.
//
// Nexus composes its managers behind a single lifecycle: configuration,
// logging, concurrency pools, the event bus, resource monitoring, the
// security core, plugin isolation, and the REST surface. The manager
// registry computes initialization order from declared dependencies;
// long-lived loops run under a suture supervision tree.
//
// Configuration is layered (defaults, then a YAML/JSON file, then
// NEXUS_-prefixed environment variables). Point at a file explicitly:
//
//	nexus -config /etc/nexus/config.yaml
//
// The process shuts down cleanly on SIGINT or SIGTERM; a second signal
// forces an immediate exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nexusruntime/nexus/internal/app"
	"github.com/nexusruntime/nexus/internal/logging"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes: 0 clean shutdown, 1 startup or shutdown failure, 2 flag
// usage error (the flag package's own convention).
const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("nexus", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML or JSON)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return exitOK
	}

	a, err := app.New(app.Options{
		ConfigPath: *configPath,
		Version:    version,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to construct application")
		return exitFailure
	}

	ctx, cancel := app.WithSignalHandling(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("Application terminated with error")
		return exitFailure
	}
	return exitOK
}
