package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show hydrotrace version information",
	Long: `Display version, build time, commit hash, and platform information for the hydrotrace binary.

With --require, exit non-zero unless the binary satisfies the constraint:
  hydrotrace version --require ">= 1.2"`,
	RunE: runVersion,
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("require", "", "Semantic version constraint the binary must satisfy")
}

func runVersion(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	constraint, _ := cmd.Flags().GetString("require")

	info := version.Get()

	if constraint != "" {
		ok, err := info.Satisfies(constraint)
		if err != nil {
			return err
		}
		if !ok {
			return errors.WithHint(
				errors.NewInvalidRequestError("hydrotrace %s does not satisfy %s", info.Version, constraint),
				"untagged development builds satisfy no constraint",
			)
		}
	}

	if jsonOutput {
		output, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format version info")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), info.String())
	fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s\n", info.Platform)
	fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", info.GoVersion)
	return nil
}
