// Package main is the entry point for the dawn CLI.
//
// Usage:
//
//	dawn [flags] <command> [args]
//
// Commands:
//
//	chat     - Interactive dual-mode conversation (text and realtime voice)
//	export   - Archive the persisted transcript to blob storage
//	config   - Configuration management
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/dawnvoice/dawn/cmd/dawn/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
