// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexusruntime/nexus/internal/logging"
)

// WithSignalHandling returns a context that is canceled on the first
// SIGINT or SIGTERM, which lets Run drive the orderly shutdown
// sequence. A second signal skips the sequence and exits immediately.
func WithSignalHandling(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-sigCh
		logging.Warn().Str("signal", sig.String()).Msg("Forced exit")
		os.Exit(1)
	}()

	return ctx, cancel
}
