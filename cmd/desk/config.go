package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/frontdesk/internal/config"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "desk.yaml"

func newConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long:  "Loads the config file, applies environment overrides and defaults, and prints the result with secrets masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to desk config file")
	return cmd
}

func runConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	data, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", configPath)
	out.Write(data)
	return nil
}
