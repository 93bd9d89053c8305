package main

// Package main is the entry point for the outlierd binary.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and CLI flags
//   - Open the configured score store (SQLite or PostgreSQL)
//   - Serve the REST API with health and metrics endpoints ("outlierd serve")
//   - Run one-shot analyses that print encoded reports ("outlierd analyze ...")
//   - Implement graceful shutdown on SIGINT/SIGTERM

import (
	"fmt"
	"os"

	"github.com/soulsense/soulsense-outliers/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
