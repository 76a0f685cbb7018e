// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package config implements the layered configuration service.
//
// Configuration is assembled from three layers, later layers winning:
//
//  1. Schema defaults (defaultConfig)
//  2. An optional YAML or JSON file, selected by extension
//  3. Environment variables prefixed with NEXUS_
//
// Environment names map to dotted paths two ways. A double underscore is
// an explicit segment delimiter that survives single underscores inside a
// segment (NEXUS_THREAD_POOL__WORKER_THREADS -> thread_pool.worker_threads).
// Names without a double underscore are resolved against the flattened
// schema key set (NEXUS_APP_NAME -> app.name). Unrecognized names are
// ignored so unrelated environment variables never leak into the tree.
//
// Values from the environment are coerced before merging: true/yes/1/on
// and false/no/0/off become booleans, integer and float literals become
// numbers, and everything else stays a string. When the target path exists
// in the schema the schema type wins, so "1" assigned to an integer option
// stays an integer.
//
// The merged tree is validated as a whole after every layer pass and after
// every runtime mutation. A mutation that fails validation leaves the
// previous tree in place.
//
// Service wraps the loaded tree with typed accessors, runtime Set with
// validate-and-swap semantics, prefix change listeners, and an optional
// file watcher that re-runs the pipeline when the config file changes.
package config
