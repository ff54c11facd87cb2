// Package cli implements the bondly command line client.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	serverURL  string
)

// persistedServerURL is the server from the config file, restored before the
// file is rewritten so --server does not stick.
var persistedServerURL string

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var headingLabel = color.New(color.FgHiMagenta, color.Bold)
var faintLabel = color.New(color.Faint)

var rootCmd = &cobra.Command{
	Use:   "bondly [command] [flags]",
	Short: "Bondly CLI - relationship advice for two perspectives",
	Long: `Bondly collects both partners' perspectives on a disagreement and returns
personalized advice to each of them.

Examples:
  # Point the CLI at a server
  bondly config create --server http://localhost:8080

  # Start a session and share the link with your partner
  bondly new --name Alex --partner Sam --situation "..." --feelings "..." --emotion Frustrated

  # Answer as the partner
  bondly respond https://bondly.example/partner/<token> --situation "..." --feelings "..." --emotion Sad

  # Wait for the advice and print it
  bondly watch <session-id>`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server URL, overrides the configured one")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newRespondCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newAdviceCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newCleanupCmd())
}

// Execute runs the root command. It is called once by main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(os.Stdout, map[string]string{
				"error": err.Error(),
			})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents loads the config file for every command that talks
// to a server.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		var err error
		configFile, err = GetDefaultConfigPath()
		if err != nil {
			return err
		}
	}

	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return nil
		}
	}

	if err := LoadConfig(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if serverURL == "" && cmd.Name() != "version" {
			return fmt.Errorf("bondly config file not found. Configure bondly with \"bondly config create\" or pass --server")
		}
		config = &Config{Version: ConfigVersion}
	}
	persistedServerURL = config.ServerURL
	if serverURL != "" {
		config.ServerURL = MorphServer(serverURL)
	}
	return nil
}

// printJSON prints data as indented JSON.
func printJSON(w io.Writer, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}
