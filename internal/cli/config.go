package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	ConfigVersion     = "0.1.0"
	DefaultConfigDir  = ".bondly"
	DefaultConfigFile = "config.yaml"
)

// sessionMemory is how long the CLI remembers a session locally. The server
// keeps sessions for a day.
const sessionMemory = 48 * time.Hour

// SessionEntry is what the CLI remembers about a session it took part in.
type SessionEntry struct {
	Role       string    `yaml:"role"`
	Label      string    `yaml:"label,omitempty"`
	ShareToken string    `yaml:"share_token,omitempty"`
	AdviceID   string    `yaml:"advice_id,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// Config is the CLI configuration and local state.
type Config struct {
	Version   string `yaml:"version"`
	ServerURL string `yaml:"server_url"`
	// CronSecret authorizes "bondly cleanup".
	CronSecret string `yaml:"cron_secret,omitempty"`
	// ParticipantToken identifies this user across sessions.
	ParticipantToken string                   `yaml:"participant_token,omitempty"`
	TokenExpiry      string                   `yaml:"token_expiry,omitempty"`
	Sessions         map[string]*SessionEntry `yaml:"sessions,omitempty"`
}

var config *Config

// GetDefaultConfigPath returns ~/.bondly/config.yaml.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from file into the package config.
func LoadConfig(file string) error {
	c, err := ReadConfig(file)
	if err != nil {
		return err
	}
	config = c
	return nil
}

// ReadConfig parses a config file.
func ReadConfig(file string) (*Config, error) {
	yamlStr, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	var c Config
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}
	if c.Version != ConfigVersion {
		return nil, fmt.Errorf("unsupported config version %q", c.Version)
	}
	if c.ServerURL == "" {
		return nil, errors.New("server_url is required")
	}
	c.ServerURL = MorphServer(c.ServerURL)
	return &c, nil
}

// GetConfig returns the loaded configuration.
func GetConfig() *Config {
	return config
}

// WriteConfig writes the configuration to file, dropping sessions the server
// has long forgotten.
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}
	cfg.pruneSessions(time.Now())

	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}
	if err := os.WriteFile(file, yamlStr, os.FileMode(0600)); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}

func (cfg *Config) pruneSessions(now time.Time) {
	for id, s := range cfg.Sessions {
		if s == nil || now.Sub(s.CreatedAt) > sessionMemory {
			delete(cfg.Sessions, id)
		}
	}
}

// Print prints the configuration in a human readable format.
func (cfg *Config) Print(w io.Writer) {
	fmt.Fprintf(w, "Server: %s\n", cfg.ServerURL)
	if cfg.GetToken() != "" {
		fmt.Fprintf(w, "Participant token expires: %s\n", cfg.GetTokenExpiry().Local().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(w, "Remembered sessions: %d\n", len(cfg.Sessions))
}

// MorphServer adds a scheme when missing and drops trailing slashes.
func MorphServer(server string) string {
	if server == "" {
		return server
	}
	server = strings.TrimRight(server, "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return server
}

// GetToken returns the participant token, or "" when it is missing or expired.
func (cfg *Config) GetToken() string {
	if cfg.ParticipantToken == "" {
		return ""
	}
	if exp := cfg.GetTokenExpiry(); !exp.IsZero() && time.Now().After(exp) {
		return ""
	}
	return cfg.ParticipantToken
}

func (cfg *Config) GetTokenExpiry() time.Time {
	if cfg.TokenExpiry == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, cfg.TokenExpiry)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (cfg *Config) SetToken(token string, expiry time.Time) {
	cfg.ParticipantToken = token
	cfg.TokenExpiry = expiry.UTC().Format(time.RFC3339)
}

// RememberSession records the role this user holds in a session.
func (cfg *Config) RememberSession(sessionID string, entry SessionEntry) {
	if cfg.Sessions == nil {
		cfg.Sessions = map[string]*SessionEntry{}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cfg.Sessions[sessionID] = &entry
}

// Role returns the remembered role in a session, or "".
func (cfg *Config) Role(sessionID string) string {
	if s, ok := cfg.Sessions[sessionID]; ok && s != nil {
		return s.Role
	}
	return ""
}

// saveConfig persists the package config to the config file in use.
func saveConfig() error {
	if config == nil {
		return nil
	}
	cfg := *config
	if persistedServerURL != "" {
		cfg.ServerURL = persistedServerURL
	}
	return cfg.WriteConfig(configFile)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [command]",
		Short: "Create or show the CLI configuration",
	}
	cmd.AddCommand(newConfigCreateCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigCreateCmd() *cobra.Command {
	var cronSecret string
	cmd := &cobra.Command{
		Use:   "create --server URL",
		Short: "Write a new configuration file",
		Long: `Write a new configuration file, replacing any existing one.

Examples:
  bondly config create --server http://localhost:8080
  bondly config create --server https://bondly.example --cron-secret "$CRON_SECRET"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				return errors.New("--server is required")
			}
			cfg := &Config{
				Version:    ConfigVersion,
				ServerURL:  MorphServer(serverURL),
				CronSecret: cronSecret,
			}
			if err := cfg.WriteConfig(configFile); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"config_file": configFile, "server_url": cfg.ServerURL})
			}
			okLabel.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&cronSecret, "cron-secret", "", "Secret for triggering cleanup")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ReadConfig(configFile)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config_file":         configFile,
					"server_url":          cfg.ServerURL,
					"remembered_sessions": len(cfg.Sessions),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", configFile)
			cfg.Print(cmd.OutOrStdout())
			return nil
		},
	}
}
