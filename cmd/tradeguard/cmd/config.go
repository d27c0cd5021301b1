package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/tradeguard/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, validate or inspect configuration files",
	Long: `Manage tradeguard configuration files.

Subcommands:
  init     - write a default configuration file
  validate - load and validate a configuration file
  show     - print the effective configuration with secrets redacted

Examples:
  tradeguard config init -o config.toml
  tradeguard config validate -c config.yaml
  tradeguard config show`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (file, env, defaults)",
	RunE:  runConfigShow,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "config.toml", "output path; .yaml/.yml writes YAML")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cfg := config.Defaults()
	if err := config.SaveToFile(&cfg, configInitOutput); err != nil {
		return err
	}
	printf(cmd, "created default configuration: %s\n", configInitOutput)
	printf(cmd, "run with:\n  tradeguard serve --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	printf(cmd, "configuration is valid (mode=%s storage=%s broker=%s)\n", cfg.Mode, cfg.Storage, cfg.Broker.Kind)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	redacted := config.RedactedConfig(cfg)
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
