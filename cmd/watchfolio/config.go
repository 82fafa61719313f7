package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zawalid/watchfolio/internal/config"
	"github.com/zawalid/watchfolio/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the watchfolio configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		cfg := config.DefaultConfig(config.DefaultBaseDir())
		if err := config.ApplyOverrides(cfg, overrides); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Init(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s Config written to %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
