// Package main provides the CLI entry point for the boardsync server.
//
// Boardsync is the real-time synchronization authority for collaborative
// whiteboards: it admits authenticated clients over a websocket channel,
// serializes concurrent element operations through an operational
// transformation engine, and fans the versioned results out to board members.
//
// # Basic Usage
//
// Start the server:
//
//	boardsync serve --config boardsync.yaml
//
// # Environment Variables
//
//   - BOARDSYNC_CONFIG: Path to configuration file
//   - BOARDSYNC_JWT_SECRET: HMAC secret for access tokens (referenced as
//     ${BOARDSYNC_JWT_SECRET} in the config file)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "boardsync",
		Short: "Real-time whiteboard synchronization server",
		Long: `Boardsync keeps collaborative whiteboard sessions convergent.

It accepts element operations from connected clients, resolves concurrent
edits with operational transformation, assigns each accepted operation a
board version, and broadcasts the result to every board member.`,
		SilenceUsage: true,
	}

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boardsync %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
