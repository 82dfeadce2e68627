package main

import (
	"github.com/BurntSushi/toml"
	"github.com/amonks/foreman/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var configConfigPath string

func init() {
	rootCmd.AddCommand(configCmd)
	bindConfigFlag(configCmd.Flags(), &configConfigPath)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configConfigPath)
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg.Redacted())
}
