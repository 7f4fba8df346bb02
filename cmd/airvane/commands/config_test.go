package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hllvc/airvane/internal/app"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airvane.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
host = "0.0.0.0"
port = 9000

[airflow]
base_url = "https://airflow.example.com"

[auth]
audience = "iap-client.apps.googleusercontent.com"
`)

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d, want 0.0.0.0:9000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Airflow.BaseURL != "https://airflow.example.com" {
		t.Errorf("base_url = %q", cfg.Airflow.BaseURL)
	}
	// Unset fields fall through to defaults.
	if cfg.Auth.Method != app.AuthenticationMethodOAuth {
		t.Errorf("auth method = %q, want the oauth default", cfg.Auth.Method)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9000

[airflow]
base_url = "https://airflow.example.com"

[auth]
audience = "iap-client.apps.googleusercontent.com"
`)

	environ := func() []string {
		return []string{
			"AIRVANE_SERVER__PORT=9100",
			"AIRVANE_AUTH__STORAGE=keyring",
			"AIRVANE_AUTH__KEYRING_USER=deploy",
		}
	}
	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, environment must override the file", cfg.Server.Port)
	}
	if cfg.Auth.Storage != app.TokenStorageTypeKeyring || cfg.Auth.KeyringUser != "deploy" {
		t.Errorf("storage = %q user = %q", cfg.Auth.Storage, cfg.Auth.KeyringUser)
	}
}

func TestLoadConfigRejectsIncomplete(t *testing.T) {
	// No audience anywhere.
	path := writeConfigFile(t, `
[airflow]
base_url = "https://airflow.example.com"
`)
	if _, err := loadConfig(path, nil, func() []string { return nil }); err == nil {
		t.Fatal("loadConfig accepted a config without an audience")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"AIRVANE_AUTH__AUDIENCE", "auth.audience"},
		{"AIRVANE_AUTH__REFRESH_INTERVAL", "auth.refresh_interval"},
		{"AIRVANE_AIRFLOW__BASE_URL", "airflow.base_url"},
		{"AIRVANE_LOG_FORMAT", "log_format"},
		{"AIRVANE_SERVER__PORT", "server.port"},
	}
	for _, tt := range tests {
		if got, _ := envTransform(tt.env, "x"); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/airvane.toml", nil, func() []string { return nil }); err == nil {
		t.Fatal("loadConfig accepted a missing config file")
	}
}
