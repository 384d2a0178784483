// Package cmd implements the prevant command-line entry points.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per the server's startup contract: normal shutdown returns 0,
// fatal startup configuration errors return non-zero.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the entry point when prevant is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "prevant",
	Short: "Deploy and observe on-demand review environments",
	Long: `prevant reconciles application deployment requests into running
containers or Kubernetes workloads behind a shared reverse proxy, serving a
task-status API that CI pipelines poll for the result of a deployment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version reported by `prevant version` and
// `prevant --version`, typically injected from main at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command, exiting the process with ExitCodeError on
// failure and ExitCodeSuccess otherwise.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "prevant version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
