package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"phabry/pkg/config"
	"phabry/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage phabry configuration",
	Long: `Manage the phabry configuration file.

Configuration is loaded with the following precedence:
  1. Command line flags
  2. Environment variables (PHABRY_*)
  3. .env file
  4. Configuration file
  5. Built-in defaults`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Create a configuration file populated with the default settings.

By default the file is written to ~/.config/phabry/config.yaml. Use --path
to write it elsewhere.`,
	Run: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after all sources have been merged, with the API token masked.`,
	Run:   runConfigShow,
}

var configInitPath string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "where to write the configuration file")
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configInitPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			ui.PrintError("Failed to determine home directory", err.Error())
			os.Exit(1)
		}
		path = filepath.Join(home, ".config", "phabry", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		ui.PrintError("Configuration file already exists", path)
		ui.PrintInfo("Hint", "remove it first or pass a different --path")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		ui.PrintError("Failed to write configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created")
	ui.PrintInfo("Path", path)
	fmt.Println("\nEdit it to set your Conduit API URL, or store credentials with:")
	fmt.Println("  $ phabry auth login")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	// Validation is skipped here on purpose: show must work on an
	// incomplete configuration too.
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		ui.PrintError("Failed to load configuration file", err.Error())
		os.Exit(1)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		ui.PrintError("Failed to load environment variables", err.Error())
		os.Exit(1)
	}

	display := *cfg
	if display.Phabricator.Token != "" {
		display.Phabricator.Token = maskToken(display.Phabricator.Token)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		ui.PrintError("Failed to render configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Effective Configuration")
	fmt.Println()
	fmt.Print(string(data))
}
