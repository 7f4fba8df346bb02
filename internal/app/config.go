package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hllvc/airvane/internal/auth"
	"github.com/hllvc/airvane/internal/authflow"
	"github.com/hllvc/airvane/internal/tokensource"
	"github.com/hllvc/airvane/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// TokenStorageType represents the different storage types supported for the
// persisted credential record.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// AuthenticationMethod represents the different authentication methods supported.
type AuthenticationMethod string

const (
	AuthenticationMethodStatic AuthenticationMethod = "static"
	AuthenticationMethodOAuth  AuthenticationMethod = "oauth"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 8780
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAuthStorage     = TokenStorageTypeFile
	DefaultConfigAuthMethod      = AuthenticationMethodOAuth
)

// ServerConfig holds the gateway's listen configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// AirflowConfig holds the upstream Airflow deployment configuration.
type AirflowConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`

	// Username/Password for Airflow's own token endpoint. Empty means
	// anonymous, for deployments that delegate identity to IAP.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AuthConfig describes how the IAP credential is obtained and persisted.
type AuthConfig struct {
	// Audience is the OAuth client ID of the IAP protecting the resource.
	// Distinct from ClientID: one names the protected resource, the other
	// names this tool.
	Audience string `json:"audience" validate:"required"`

	// ClientID/ClientSecret identify this tool's registered desktop OAuth
	// client. Defaults to the Google Cloud SDK's public installed-app
	// client; deployments wanting full IAP compatibility register their own
	// in the same project as the IAP client.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// Storage configuration - where the persisted credential record lives
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to record file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier

	// Authentication method - how the bearer for the proxy is produced
	Method AuthenticationMethod `json:"method" validate:"required,oneof=oauth static"`

	// RefreshInterval is the background refresh cadence. Defaults to 50
	// minutes, a conservative fraction of Google's one hour token lifetime.
	RefreshInterval time.Duration `json:"refresh_interval"`

	// ExpiryMargin is the safety margin before expiry at which a token
	// counts as stale. Must be shorter than RefreshInterval.
	ExpiryMargin time.Duration `json:"expiry_margin"`

	// LoginTimeout bounds the wait for the interactive consent callback.
	LoginTimeout time.Duration `json:"login_timeout"`
}

// NewTokenStore creates a credential record store from the authentication
// configuration.
func (a *AuthConfig) NewTokenStore() (tokenstore.Store, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore("airvane-credential", a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json otel"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Airflow   AirflowConfig  `json:"airflow"`
	Auth      AuthConfig     `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.Method == "" {
		c.Auth.Method = DefaultConfigAuthMethod
	}
	if c.Auth.ClientID == "" {
		c.Auth.ClientID = tokensource.DefaultClientID
	}
	if c.Auth.ClientSecret == "" {
		c.Auth.ClientSecret = tokensource.DefaultClientSecret
	}
	if c.Auth.RefreshInterval == 0 {
		c.Auth.RefreshInterval = auth.DefaultRefreshInterval
	}
	if c.Auth.ExpiryMargin == 0 {
		c.Auth.ExpiryMargin = auth.DefaultExpiryMargin
	}
	if c.Auth.LoginTimeout == 0 {
		c.Auth.LoginTimeout = authflow.DefaultTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "airvane", "credential.json")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// OAuth requires writable storage (env is read-only)
	if c.Auth.Method == AuthenticationMethodOAuth && c.Auth.Storage == TokenStorageTypeEnv {
		return errors.New("oauth authentication requires writable storage, env is read-only")
	}

	// A margin at or above the cadence would make every access a refresh.
	if c.Auth.ExpiryMargin >= c.Auth.RefreshInterval {
		return fmt.Errorf("expiry_margin (%s) must be shorter than refresh_interval (%s)",
			c.Auth.ExpiryMargin, c.Auth.RefreshInterval)
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
