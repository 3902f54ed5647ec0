// Taskd is a task orchestration daemon with an HTTP API.
//
// The serve command starts the daemon: an HTTP server, the task pipeline,
// and optionally an inbox directory monitor. Every other command is a thin
// client for a running daemon.
//
// Usage:
//
//	# Start the daemon with defaults
//	taskd serve
//
//	# Submit a task and run it
//	taskd submit "Add a health endpoint" --enhanced
//	taskd run <task-id>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// serverURL is the base URL client commands talk to.
var serverURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskd",
	Short: "Task orchestration daemon and CLI",
	Long: `taskd runs submitted tasks through an automated pipeline: analyze,
build context, plan, execute, validate, and optionally publish the
result as a branch and pull request.

The serve command starts the daemon. The remaining commands talk to a
running daemon over its HTTP API.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "taskd server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
