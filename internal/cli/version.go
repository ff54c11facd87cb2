package cli

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

// apiConstraint is the range of server API versions this CLI can talk to.
const apiConstraint = "^1.0.0"

var apiVersionConstraint *semver.Constraints

func init() {
	var err error
	apiVersionConstraint, err = semver.NewConstraint(apiConstraint)
	if err != nil {
		panic(err)
	}
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.3.0"
}

// isAPICompatible reports whether the server's API version is within
// apiConstraint. Invalid versions are incompatible.
func isAPICompatible(version string) bool {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	return apiVersionConstraint.Check(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			kv := map[string]any{"version_cli": getCLIVersion()}

			cfg := GetConfig()
			if cfg == nil || cfg.ServerURL == "" {
				if jsonOutput {
					return printJSON(out, kv)
				}
				fmt.Fprintf(out, "bondly CLI %s\n", getCLIVersion())
				return nil
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			info, err := client.Version(ctx)
			if err != nil {
				if jsonOutput {
					kv["error"] = "Unable to connect to server: " + err.Error()
					printJSON(out, kv)
				} else {
					fmt.Fprintf(out, "bondly CLI %s\n", getCLIVersion())
					errorLabel.Fprintf(out, "Unable to connect to server: %v\n", err)
				}
				return ErrAlreadyHandled
			}

			compatible := isAPICompatible(info.ApiVersion)
			if jsonOutput {
				kv["server"] = info
				kv["compatible"] = compatible
				return printJSON(out, kv)
			}
			fmt.Fprintf(out, "bondly CLI %s\n", getCLIVersion())
			fmt.Fprintf(out, "%s (API %s)\n", info.ServerVersion, info.ApiVersion)
			if !compatible {
				errorLabel.Fprintf(out, "Server API %s is not supported by this CLI (needs %s)\n", info.ApiVersion, apiConstraint)
			}
			return nil
		},
	}
}
