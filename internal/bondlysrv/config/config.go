package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Version is the supported config file format.
const Version = "0.1.0"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	DriverPostgres = "postgresql"
	DriverSQLite   = "sqlite"
)

// Environment overrides for secrets.
const (
	EnvLLMAPIKey   = "BONDLY_LLM_API_KEY"
	EnvCronSecret  = "BONDLY_CRON_SECRET"
	EnvTokenSecret = "BONDLY_TOKEN_SECRET"
	EnvDBPassword  = "BONDLY_DB_PASSWORD"
	EnvEnvironment = "BONDLY_ENV"
)

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

type DBConfig struct {
	Driver      string `toml:"driver"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	DBName      string `toml:"dbname"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	SSLMode     string `toml:"sslmode"`
	SQLitePath  string `toml:"sqlite_path"`
	MaxOpenConn int    `toml:"max_open_conns"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (d *DBConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return SQLiteDSN(d.SQLitePath)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// SQLiteDSN builds a modernc.org/sqlite DSN for a database file.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(0)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

// LLMConfig configures the advice generation API.
type LLMConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	Temperature       float64 `toml:"temperature"`
	UseResponseSchema bool    `toml:"use_response_schema"`
	MaxRetries        int     `toml:"max_retries"`
	MinRetryDelay     string  `toml:"min_retry_delay"`
	MaxRetryDelay     string  `toml:"max_retry_delay"`
	RequestTimeout    string  `toml:"request_timeout"`
}

func (l *LLMConfig) GetMinRetryDelay() time.Duration {
	return mustDuration(l.MinRetryDelay)
}

func (l *LLMConfig) GetMaxRetryDelay() time.Duration {
	return mustDuration(l.MaxRetryDelay)
}

func (l *LLMConfig) GetRequestTimeout() time.Duration {
	return mustDuration(l.RequestTimeout)
}

type AnalysisConfig struct {
	ResponsePollAttempts   int    `toml:"response_poll_attempts"`
	ResponsePollDelay      string `toml:"response_poll_delay"`
	AnalyzeOnPartnerSubmit bool   `toml:"analyze_on_partner_submit"`
}

func (a *AnalysisConfig) GetResponsePollDelay() time.Duration {
	return mustDuration(a.ResponsePollDelay)
}

// RetentionConfig controls how long sessions and advice are kept.
type RetentionConfig struct {
	MaxAge     string `toml:"max_age"`
	Schedule   string `toml:"schedule"`
	CronSecret string `toml:"cron_secret"`
}

func (r *RetentionConfig) GetMaxAge() time.Duration {
	return mustDuration(r.MaxAge)
}

type AuthConfig struct {
	TokenSecret   string `toml:"token_secret"`
	TokenValidity string `toml:"token_validity"`
	ClockSkew     string `toml:"clock_skew"`
}

func (a *AuthConfig) GetTokenValidity() time.Duration {
	return mustDuration(a.TokenValidity)
}

func (a *AuthConfig) GetClockSkew() time.Duration {
	return mustDuration(a.ClockSkew)
}

type RealtimeConfig struct {
	Enabled   bool   `toml:"enabled"`
	Channel   string `toml:"channel"`
	Heartbeat string `toml:"heartbeat"`
}

func (r *RealtimeConfig) GetHeartbeat() time.Duration {
	return mustDuration(r.Heartbeat)
}

// ConfigParam holds all configuration of the bondly service.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`
	Environment   string `toml:"environment"`

	ServerHostName     string   `toml:"server_hostname"`
	ServerPort         string   `toml:"server_port"`
	PublicURL          string   `toml:"public_url"`
	HandleCORS         bool     `toml:"handle_cors"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	MaxRequestBodySize int64    `toml:"max_request_body_size"`
	RequestTimeout     string   `toml:"request_timeout"`

	Log       LogConfig       `toml:"log"`
	DB        DBConfig        `toml:"db"`
	LLM       LLMConfig       `toml:"llm"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Retention RetentionConfig `toml:"retention"`
	Auth      AuthConfig      `toml:"auth"`
	Realtime  RealtimeConfig  `toml:"realtime"`
}

func (c *ConfigParam) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *ConfigParam) GetRequestTimeout() time.Duration {
	return mustDuration(c.RequestTimeout)
}

// ParseDuration accepts "<n>d", "<n>y" and everything time.ParseDuration accepts.
func ParseDuration(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid duration %q", input)
	}
	unit := input[len(input)-1:]
	if unit == "d" || unit == "y" {
		value, err := strconv.Atoi(input[:len(input)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid number: %s", err)
		}
		if unit == "y" {
			return time.Duration(value) * 365 * 24 * time.Hour, nil
		}
		return time.Duration(value) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %v", input, err)
	}
	return d, nil
}

// mustDuration is only used on values that passed ValidateConfig.
func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration: %v", err))
	}
	return d
}

// Default returns a configuration suitable for local development.
func Default() *ConfigParam {
	return &ConfigParam{
		FormatVersion:      Version,
		Environment:        EnvDevelopment,
		ServerHostName:     "localhost",
		ServerPort:         "8080",
		PublicURL:          "http://localhost:8080",
		MaxRequestBodySize: 64 * 1024,
		RequestTimeout:     "90s",
		Log:                LogConfig{Level: "info"},
		DB: DBConfig{
			Driver:      DriverSQLite,
			SQLitePath:  "bondly.db",
			AutoMigrate: true,
		},
		LLM: LLMConfig{
			BaseURL:           "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:             "gemini-1.5-flash",
			Temperature:       0.7,
			UseResponseSchema: true,
			MaxRetries:        2,
			MinRetryDelay:     "1s",
			MaxRetryDelay:     "60s",
			RequestTimeout:    "30s",
		},
		Analysis: AnalysisConfig{
			ResponsePollAttempts: 5,
			ResponsePollDelay:    "500ms",
		},
		Retention: RetentionConfig{
			MaxAge: "24h",
		},
		Auth: AuthConfig{
			TokenValidity: "2d",
			ClockSkew:     "1m",
		},
		Realtime: RealtimeConfig{
			Enabled:   true,
			Channel:   "bondly_session_events",
			Heartbeat: "15s",
		},
	}
}

// ValidateConfig checks required values and fills derived ones.
func ValidateConfig(cfg *ConfigParam) error {
	validators := []func(*ConfigParam) error{
		validateConfigFormatVersion,
		validateServerConfig,
		validateDBConfig,
		validateLLMConfig,
		validateAnalysisConfig,
		validateRetentionConfig,
		validateAuthConfig,
		validateRealtimeConfig,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateConfigFormatVersion(cfg *ConfigParam) error {
	if cfg.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	return nil
}

func validateServerConfig(cfg *ConfigParam) error {
	switch cfg.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q", EnvDevelopment, EnvProduction)
	}
	if cfg.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if cfg.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max_request_body_size must be positive")
	}
	if _, err := ParseDuration(cfg.RequestTimeout); err != nil {
		return fmt.Errorf("invalid request_timeout: %v", err)
	}
	if cfg.PublicURL != "" {
		if _, err := url.ParseRequestURI(cfg.PublicURL); err != nil {
			return fmt.Errorf("invalid public_url: %v", err)
		}
	}
	return nil
}

func validateDBConfig(cfg *ConfigParam) error {
	switch cfg.DB.Driver {
	case DriverSQLite:
		if cfg.DB.SQLitePath == "" {
			return fmt.Errorf("db.sqlite_path is required")
		}
	case DriverPostgres:
		if cfg.DB.Host == "" {
			return fmt.Errorf("db.host is required")
		}
		if cfg.DB.Port <= 0 {
			return fmt.Errorf("db.port must be positive")
		}
		if cfg.DB.DBName == "" {
			return fmt.Errorf("db.dbname is required")
		}
		if cfg.DB.User == "" {
			return fmt.Errorf("db.user is required")
		}
		if cfg.DB.Password == "" {
			return fmt.Errorf("db.password is required")
		}
		if cfg.DB.SSLMode == "" {
			return fmt.Errorf("db.sslmode is required")
		}
	default:
		return fmt.Errorf("db.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	return nil
}

func validateLLMConfig(cfg *ConfigParam) error {
	if cfg.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if !strings.HasSuffix(cfg.LLM.BaseURL, "/") {
		cfg.LLM.BaseURL += "/"
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if cfg.LLM.APIKey == "" && cfg.IsProduction() {
		return fmt.Errorf("llm.api_key or %s is required in production", EnvLLMAPIKey)
	}
	if cfg.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	for name, v := range map[string]string{
		"llm.min_retry_delay": cfg.LLM.MinRetryDelay,
		"llm.max_retry_delay": cfg.LLM.MaxRetryDelay,
		"llm.request_timeout": cfg.LLM.RequestTimeout,
	} {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	if cfg.LLM.GetMinRetryDelay() > cfg.LLM.GetMaxRetryDelay() {
		return fmt.Errorf("llm.min_retry_delay exceeds llm.max_retry_delay")
	}
	return nil
}

func validateAnalysisConfig(cfg *ConfigParam) error {
	if cfg.Analysis.ResponsePollAttempts < 1 {
		return fmt.Errorf("analysis.response_poll_attempts must be at least 1")
	}
	if _, err := ParseDuration(cfg.Analysis.ResponsePollDelay); err != nil {
		return fmt.Errorf("invalid analysis.response_poll_delay: %v", err)
	}
	return nil
}

func validateRetentionConfig(cfg *ConfigParam) error {
	d, err := ParseDuration(cfg.Retention.MaxAge)
	if err != nil {
		return fmt.Errorf("invalid retention.max_age: %v", err)
	}
	if d <= 0 {
		return fmt.Errorf("retention.max_age must be positive")
	}
	if cfg.Retention.CronSecret == "" && cfg.IsProduction() {
		return fmt.Errorf("retention.cron_secret or %s is required in production", EnvCronSecret)
	}
	return nil
}

func validateAuthConfig(cfg *ConfigParam) error {
	if len(cfg.Auth.TokenSecret) < 32 {
		if cfg.IsProduction() {
			return fmt.Errorf("auth.token_secret must be at least 32 bytes")
		}
		if cfg.Auth.TokenSecret == "" {
			cfg.Auth.TokenSecret = "bondly-development-token-secret-000"
		}
	}
	if _, err := ParseDuration(cfg.Auth.TokenValidity); err != nil {
		return fmt.Errorf("invalid auth.token_validity: %v", err)
	}
	if _, err := ParseDuration(cfg.Auth.ClockSkew); err != nil {
		return fmt.Errorf("invalid auth.clock_skew: %v", err)
	}
	return nil
}

func validateRealtimeConfig(cfg *ConfigParam) error {
	if !cfg.Realtime.Enabled {
		return nil
	}
	if cfg.Realtime.Channel == "" {
		return fmt.Errorf("realtime.channel is required")
	}
	if _, err := ParseDuration(cfg.Realtime.Heartbeat); err != nil {
		return fmt.Errorf("invalid realtime.heartbeat: %v", err)
	}
	return nil
}

// applyEnv overrides secrets with values from the environment. A .env file next to
// the config file is loaded first; variables already set in the process win.
func applyEnv(cfg *ConfigParam, configDir string) error {
	envFile := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("error loading %s: %v", envFile, err)
		}
	}
	overrides := map[string]*string{
		EnvLLMAPIKey:   &cfg.LLM.APIKey,
		EnvCronSecret:  &cfg.Retention.CronSecret,
		EnvTokenSecret: &cfg.Auth.TokenSecret,
		EnvDBPassword:  &cfg.DB.Password,
		EnvEnvironment: &cfg.Environment,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}
	return nil
}

// LoadConfig reads a TOML file over the defaults, applies environment overrides and
// validates the result.
func LoadConfig(filename string) (*ConfigParam, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	return parseConfig(string(content), filepath.Dir(filename))
}

func parseConfig(content, configDir string) (*ConfigParam, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key: %s", undecoded[0].String())
	}
	if err := applyEnv(cfg, configDir); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}
