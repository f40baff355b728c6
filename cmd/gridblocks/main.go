// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gridblocks starts the block engine HTTP server.
//
// The server owns the authoritative block store (BadgerDB on disk) and
// serves the v1 API: block CRUD with schema validation, recursive tree
// assembly, block type versioning, and version-checked layout saves.
//
// # Environment Variables
//
//   - GRIDBLOCKS_PORT: HTTP server port (default: 8085)
//   - GRIDBLOCKS_DATA_DIR: BadgerDB data directory (default: ~/.gridblocks/data)
//   - GRIDBLOCKS_LOG_LEVEL: debug, info, warn, error (default: info)
//   - GRIDBLOCKS_LOG_DIR: JSON log file directory (optional)
//
// # Usage
//
//	# Build
//	go build -o gridblocks ./cmd/gridblocks
//
//	# Run with defaults
//	./gridblocks serve
//
//	# Run with a config file
//	./gridblocks serve --config /etc/gridblocks/config.yaml
//
//	# Ephemeral instance for local experiments
//	./gridblocks serve --in-memory
//
// Flags win over environment variables, environment variables win over
// the config file.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
