package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steladb/stela/configs"
	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stela configuration",
		Long: `Manage stela configuration files.

The user config holds machine-level settings shared by every server on
this machine. A server config (stela.yaml next to the data directory)
overrides it per deployment.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/stela/config.yaml)
  3. Server config (./stela.yaml or --config path)
  4. Environment variables (STELA_*)`,
		Example: `  # Create user config from template
  stela config init

  # Show effective configuration (merged from all sources)
  stela config show

  # Print user config file path
  stela config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	var server bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from a template",
		Long: `Create a configuration file from the embedded template.

By default this creates the user config at ~/.config/stela/config.yaml
(or under $XDG_CONFIG_HOME if set). With --server it instead writes a
stela.yaml into the current directory as a per-deployment starting
point.`,
		Example: `  # Create user config
  stela config init

  # Replace an existing user config (a backup is kept)
  stela config init --force

  # Write ./stela.yaml for this deployment
  stela config init --server`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server {
				return runConfigInitServer(cmd, force)
			}
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (keeps a backup)")
	cmd.Flags().BoolVar(&server, "server", false, "Write ./stela.yaml instead of the user config")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or a single
source with --source.`,
		Example: `  # Show merged configuration
  stela config show

  # Show as JSON
  stela config show --json

  # Show only the user config file's contents
  stela config show --source user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, server, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Long:  `Print the path to the user configuration file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	configPath := config.GetUserConfigPath()
	configDir := config.GetUserConfigDir()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", configPath)
			out.Newline()
			out.Status("💡", "Use --force to start over from the template (keeps a backup)")
			return nil
		}

		backupPath, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(configs.UserConfigTemplate), 0644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		out.Success("Replaced user configuration with the template")
		out.Statusf("📁", "Location: %s", configPath)
		out.Statusf("💾", "Backup: %s", backupPath)
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	if err := os.WriteFile(configPath, []byte(configs.UserConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", configPath)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Edit the file to customize settings")
	out.Status("", "  2. Run 'stela config show' to verify")

	return nil
}

func runConfigInitServer(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	path := "stela.yaml"
	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("stela.yaml already exists in this directory")
		out.Status("💡", "Use --force to overwrite it")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.ServerConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	out.Success("Created server configuration")
	out.Statusf("📁", "Location: %s", abs)
	out.Status("💡", "The server picks it up on the next 'stela serve' from this directory")

	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var cfg *config.Config
	var sourceDesc string

	switch source {
	case "merged":
		var err error
		cfg, err = config.Load(".")
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sourceDesc = "merged (defaults + user + server + env)"

	case "user":
		configPath := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", configPath)
			out.Status("💡", "Run 'stela config init' to create one")
			return nil
		}

		var err error
		cfg, err = readConfigFile(configPath)
		if err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("user (%s)", configPath)

	case "server":
		var configPath string
		for _, name := range []string{"stela.yaml", "stela.yml"} {
			if _, err := os.Stat(name); err == nil {
				configPath = name
				break
			}
		}
		if configPath == "" {
			out.Warning("No server configuration file found")
			out.Statusf("📁", "Expected at: %s", "./stela.yaml")
			out.Status("💡", "Run 'stela config init --server' to create one")
			return nil
		}

		var err error
		cfg, err = readConfigFile(configPath)
		if err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("server (%s)", configPath)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, server, defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}

// readConfigFile parses one config file on top of the defaults, with
// no merging from other sources.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
