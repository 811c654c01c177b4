package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for frontdesk.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Server       ServerConfig       `json:"server"`
	Redis        RedisConfig        `json:"redis"`
	Database     DatabaseConfig     `json:"database"`
	Provider     ProviderConfig     `json:"provider"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Verification VerificationConfig `json:"verification"`
	Dialog       DialogConfig       `json:"dialog"`
	Channels     ChannelsConfig     `json:"channels"`
	Voice        VoiceConfig        `json:"voice"`
	Admin        AdminConfig        `json:"admin"`
	Notify       NotifyConfig       `json:"notify"`
	Events       EventsConfig       `json:"events"`
	Sweep        SweepConfig        `json:"sweep"`
}

type GeneralConfig struct {
	Env                string `json:"env"` // "development" | "production"
	LogLevel           string `json:"logLevel"`
	LogFormat          string `json:"logFormat"` // "text" | "json"
	MaxConcurrentTurns int    `json:"maxConcurrentTurns"`
}

// Production reports whether strict production behaviour is enabled.
func (g GeneralConfig) Production() bool {
	return strings.EqualFold(g.Env, "production")
}

type ServerConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	PublicURL        string `json:"publicUrl,omitempty"` // external base URL, used for Twilio signatures
	MetricsPath      string `json:"metricsPath"`
	SenderRatePerMin int    `json:"senderRatePerMinute"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RedisConfig struct {
	URL string `json:"url"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	DSN    string `json:"dsn"`
}

type ProviderConfig struct {
	Name           string   `json:"name"`
	APIBase        string   `json:"apiBase"`
	APIKey         string   `json:"apiKey,omitempty"`
	Model          string   `json:"model"`
	FallbackModels []string `json:"fallbackModels,omitempty"`
	MaxTokens      int      `json:"maxTokens"`
	Temperature    float64  `json:"temperature"`
}

type OrchestratorConfig struct {
	Mode               string `json:"mode"` // "coordinator" | "dispatcher"
	MaxIterations      int    `json:"maxIterations"`
	EngineTimeoutSecs  int    `json:"engineTimeoutSeconds"`
	WorkerTimeoutSecs  int    `json:"workerTimeoutSeconds"`
	WorkerProfilesPath string `json:"workerProfilesPath,omitempty"`
	EmergencyNumber    string `json:"emergencyNumber"`
}

// EngineTimeout returns the reasoning-engine call timeout.
func (o OrchestratorConfig) EngineTimeout() time.Duration {
	return time.Duration(o.EngineTimeoutSecs) * time.Second
}

// WorkerTimeout returns the per-worker call timeout.
func (o OrchestratorConfig) WorkerTimeout() time.Duration {
	return time.Duration(o.WorkerTimeoutSecs) * time.Second
}

type VerificationConfig struct {
	TokenTTLHours      int        `json:"tokenTtlHours"`
	DefaultCountryCode string     `json:"defaultCountryCode"`
	SMTP               SMTPConfig `json:"smtp"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

type DialogConfig struct {
	TTLMinutes      int `json:"ttlMinutes"`
	HandoffTTLHours int `json:"handoffTtlHours"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	SMS      SMSConfig      `json:"sms"`
	Email    EmailConfig    `json:"email"`
	Voice    VoiceChannel   `json:"voice"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`
	SecretToken string `json:"secretToken,omitempty"`
}

type SMSConfig struct {
	Enabled    bool   `json:"enabled"`
	AccountSID string `json:"accountSid,omitempty"`
	AuthToken  string `json:"authToken,omitempty"`
	FromNumber string `json:"fromNumber,omitempty"`
	APIBase    string `json:"apiBase,omitempty"`
}

type EmailConfig struct {
	Enabled       bool   `json:"enabled"`
	SigningSecret string `json:"signingSecret,omitempty"`
}

type VoiceChannel struct {
	Enabled       bool   `json:"enabled"`
	SigningSecret string `json:"signingSecret,omitempty"`
}

type VoiceConfig struct {
	WhisperAPIBase string `json:"whisperApiBase"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model"`
	Language       string `json:"language,omitempty"`
	PopTimeoutSecs int    `json:"popTimeoutSeconds"`
}

type AdminConfig struct {
	Token string `json:"token,omitempty"`
}

type NotifyConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl,omitempty"`
	MinIntervalSecs int    `json:"minIntervalSeconds"`
}

type EventsConfig struct {
	AMQPURL  string `json:"amqpUrl,omitempty"`
	Exchange string `json:"exchange"`
}

type SweepConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`
	InactiveDays    int  `json:"inactiveDays"`
}

// DefaultConfigDir returns the default config directory (~/.frontdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frontdesk"
	}
	return filepath.Join(home, ".frontdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a .env file from the working directory if one exists, then the
// JSON config at path with ${VAR} substitution applied.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = ExpandPath(cfg.Database.DSN)
	}
	cfg.Orchestrator.WorkerProfilesPath = ExpandPath(cfg.Orchestrator.WorkerProfilesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.Env) {
	case "development", "production", "test":
	default:
		errs = append(errs, "general.env must be one of: development, production, test")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxConcurrentTurns < 1 || cfg.General.MaxConcurrentTurns > 1000 {
		errs = append(errs, "general.maxConcurrentTurns must be between 1 and 1000")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Redis.URL == "" {
		errs = append(errs, "redis.url is required")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	switch cfg.Orchestrator.Mode {
	case "coordinator", "dispatcher":
	default:
		errs = append(errs, "orchestrator.mode must be one of: coordinator, dispatcher")
	}
	if cfg.Orchestrator.MaxIterations < 1 || cfg.Orchestrator.MaxIterations > 20 {
		errs = append(errs, "orchestrator.maxIterations must be between 1 and 20")
	}
	if cfg.Orchestrator.EngineTimeoutSecs < 1 {
		errs = append(errs, "orchestrator.engineTimeoutSeconds must be >= 1")
	}
	if cfg.Orchestrator.EmergencyNumber == "" {
		errs = append(errs, "orchestrator.emergencyNumber is required")
	}
	if cfg.Verification.TokenTTLHours < 1 {
		errs = append(errs, "verification.tokenTtlHours must be >= 1")
	}
	if cfg.Dialog.TTLMinutes < 1 {
		errs = append(errs, "dialog.ttlMinutes must be >= 1")
	}
	if cfg.Dialog.HandoffTTLHours < 1 {
		errs = append(errs, "dialog.handoffTtlHours must be >= 1")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.AccessToken == "" {
		errs = append(errs, "channels.whatsapp.accessToken is required when whatsapp is enabled")
	}
	if cfg.Channels.SMS.Enabled && (cfg.Channels.SMS.AccountSID == "" || cfg.Channels.SMS.AuthToken == "") {
		errs = append(errs, "channels.sms.accountSid and authToken are required when sms is enabled")
	}
	if cfg.Channels.SMS.Enabled && cfg.Server.PublicURL == "" && cfg.General.Production() {
		errs = append(errs, "server.publicUrl is required for sms signature checks in production")
	}
	if cfg.Sweep.Enabled && cfg.Sweep.IntervalMinutes < 1 {
		errs = append(errs, "sweep.intervalMinutes must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
