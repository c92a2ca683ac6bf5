// Package cmd contains the CLI commands for logtrapctl.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "logtrapctl",
	Short: "LogTrap - trap authoring and administration",
	Long: `logtrapctl works with LogTrap trap definitions and API credentials.

Examples:
  # Check a trap definition file
  logtrapctl trap validate traps.yaml

  # Replay traps against exported records
  logtrapctl trap test traps.yaml --logs records.jsonl

  # Mint an API token
  LOGTRAP_JWT_SECRET=... logtrapctl token --user alice --team payments`,
	SilenceUsage: true,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message to w only if verbose mode is enabled.
func PrintVerbose(w io.Writer, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

func stderr(cmd *cobra.Command) io.Writer {
	if cmd != nil {
		return cmd.ErrOrStderr()
	}
	return os.Stderr
}
