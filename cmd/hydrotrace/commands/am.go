package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/hydrotrace/am"
	"github.com/teranos/hydrotrace/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage hydrotrace configuration",
	Long: `am - Manage hydrotrace configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (HYDROTRACE_* prefix)
3. --config file
4. Project config (./hydrotrace.toml)
5. User config (~/.hydrotrace/config.toml)
6. Default values

Examples:
  hydrotrace am show                    # Show current configuration
  hydrotrace am show --format yaml      # Show configuration in YAML format
  hydrotrace am get pulse.workers       # Get specific config value
  hydrotrace am validate                # Validate current configuration
  hydrotrace am init ./hydrotrace.toml  # Write the effective configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., pulse.workers, trace.seed_wildcard)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write the effective configuration to a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	for _, c := range []*cobra.Command{amShowCmd, amGetCmd, amValidateCmd, amInitCmd} {
		addPathFlags(c)
	}

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var out []byte
	switch configFormat {
	case "toml":
		out, err = toml.Marshal(cfg)
	case "json":
		out, err = json.MarshalIndent(cfg, "", "  ")
	case "yaml":
		out, err = yaml.Marshal(cfg)
	default:
		return errors.NewInvalidRequestError("unsupported format %q (want toml, json or yaml)", configFormat)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to render config as %s", configFormat)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	v := am.NewViper()
	if err := applyFlags(cmd, v); err != nil {
		return err
	}
	if !v.IsSet(args[0]) {
		return errors.NewNotFoundError("configuration key %q is not set", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := am.Save(cfg, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", args[0])
	return nil
}

func errRequired(key string) error {
	return errors.WithHint(
		errors.NewInvalidRequestError("%s is required", key),
		"set it in hydrotrace.toml, via HYDROTRACE_* environment variables or on the command line",
	)
}
