// Command safeframe runs the agent safety guard and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "safeframe",
	Short:         "Intent-aware safety guard for AI agent tool calls",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SAFEFRAME_CONFIG"),
		"path to the YAML config file (env SAFEFRAME_CONFIG)")
	rootCmd.AddCommand(serveCmd, assessCmd, hashSecretCmd)
}

func main() {
	defer memguard.Purge()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		memguard.SafeExit(1)
	}
}
