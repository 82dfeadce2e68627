// Package main implements the foreman CLI tool.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - dispatch and supervise background coding sessions",
}

// bindConfigFlag attaches the shared --config flag to a command.
func bindConfigFlag(flags *pflag.FlagSet, dst *string) {
	flags.StringVar(dst, "config", "", "Path to a foreman.toml config file")
}
