package config

import (
	"testing"
	"time"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "HTTP_ADDR", "METRICS_ADDR", "STATE_DIR",
		"ACTIVITY_RETENTION", "ACTIVITY_MAX_ENTRIES",
		"QUERY_MAX_ASSETS_PER_SOURCE", "QUERY_PARALLEL", "RECENT_ACTIVITY_WINDOW",
		"SCAN_MODE", "SCAN_PAGE_SIZE", "SCAN_AUTO_CONTINUE_LIMIT", "SCAN_RATE_LIMIT", "SCAN_RATE_BURST",
		"REFRESH_INTERVAL", "CREDENTIALS_BACKEND",
		"GOOGLE_DRIVE_CONFIG", "GOOGLE_GMAIL_CONFIG",
		"GOOGLE_DRIVE_SERVICE_ACCOUNT_JSON", "GOOGLE_GMAIL_REFRESH_TOKEN",
		"GOOGLE_GMAIL_CLIENT_ID", "GOOGLE_GMAIL_CLIENT_SECRET",
		"VAULT_ADDR", "VAULT_TOKEN", "VAULT_AUTH_TYPE", "VAULT_KV_MOUNT", "VAULT_SECRET_PREFIX",
		"RISK_FILE_PUBLIC_WEIGHT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadWithOptions_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("addrs = %q %q", cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.ActivityRetention != 720*time.Hour || cfg.ActivityMaxEntries != 500 {
		t.Fatalf("activity = %s/%d", cfg.ActivityRetention, cfg.ActivityMaxEntries)
	}
	if cfg.QueryMaxPerSource != 1000 || cfg.QueryParallel || cfg.RecentActivityWindow != 168*time.Hour {
		t.Fatalf("query = %d/%v/%s", cfg.QueryMaxPerSource, cfg.QueryParallel, cfg.RecentActivityWindow)
	}
	if cfg.ScanPageSize != 100 || cfg.ScanAutoContinueLimit != 500 || cfg.ScanRateLimit != 5 || cfg.ScanMode != "full" {
		t.Fatalf("scan = %+v", cfg)
	}
	if cfg.RefreshInterval != 0 || cfg.CredentialsBackend != "env" || len(cfg.Google) != 0 {
		t.Fatalf("refresh/backend/google = %s/%s/%d", cfg.RefreshInterval, cfg.CredentialsBackend, len(cfg.Google))
	}
	if !cfg.MetricsEnabled() {
		t.Fatal("metrics should be enabled by default")
	}
}

func TestLoadWithOptions_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCAN_PAGE_SIZE", "lots")
	t.Setenv("ACTIVITY_RETENTION", "-1h")
	t.Setenv("SCAN_RATE_LIMIT", "0")
	t.Setenv("REFRESH_INTERVAL", "10m")
	t.Setenv("QUERY_PARALLEL", "1")
	t.Setenv("METRICS_ADDR", "off")

	cfg, err := LoadWithOptions(LoadOptions{})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.ScanPageSize != defaultScanPageSize || cfg.ActivityRetention != defaultActivityRetention || cfg.ScanRateLimit != defaultScanRateLimit {
		t.Fatalf("fallbacks = %d/%s/%v", cfg.ScanPageSize, cfg.ActivityRetention, cfg.ScanRateLimit)
	}
	if cfg.RefreshInterval != 10*time.Minute || !cfg.QueryParallel {
		t.Fatalf("refresh/parallel = %s/%v", cfg.RefreshInterval, cfg.QueryParallel)
	}
	if cfg.MetricsEnabled() {
		t.Fatal("METRICS_ADDR=off should disable metrics")
	}
}

func TestLoadWithOptions_GoogleConfigsAndCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_GMAIL_CONFIG", `{"auth_type":"oauth_user","user_email":"me@example.com","scopes":["https://www.googleapis.com/auth/gmail.readonly"]}`)
	t.Setenv("GOOGLE_GMAIL_REFRESH_TOKEN", "1//refresh")
	t.Setenv("RISK_FILE_PUBLIC_WEIGHT", "70")

	cfg, err := LoadWithOptions(LoadOptions{})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	gmail, ok := cfg.Google[asset.PlatformGmail]
	if !ok || gmail.AuthType != configstore.GoogleAuthTypeOAuthUser || gmail.UserEmail != "me@example.com" {
		t.Fatalf("gmail config = %+v", gmail)
	}
	if _, ok := cfg.Google[asset.PlatformGoogleDrive]; ok {
		t.Fatal("drive config should be absent")
	}
	if cfg.Credentials[asset.PlatformGmail].RefreshToken != "1//refresh" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Risk.FilePublicWeight != 70 {
		t.Fatalf("FilePublicWeight = %d, want 70", cfg.Risk.FilePublicWeight)
	}
}

func TestLoadWithOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts LoadOptions
	}{
		{name: "database required", opts: LoadOptions{RequireDatabaseURL: true}},
		{name: "malformed google config", env: map[string]string{"GOOGLE_DRIVE_CONFIG": "{"}},
		{name: "unknown backend", env: map[string]string{"CREDENTIALS_BACKEND": "keychain"}},
		{name: "vault without address", env: map[string]string{"CREDENTIALS_BACKEND": "vault", "VAULT_TOKEN": "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadWithOptions(tt.opts); err == nil {
				t.Fatal("LoadWithOptions() error = nil")
			}
		})
	}
}

func TestLoadWithOptions_VaultBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CREDENTIALS_BACKEND", "vault")
	t.Setenv("VAULT_ADDR", "https://vault.example.com/")
	t.Setenv("VAULT_TOKEN", "s.token")

	cfg, err := LoadWithOptions(LoadOptions{})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.Vault.KVMount != "secret" || cfg.Vault.SecretPrefix != "workspace-audit" || cfg.Vault.AuthType != configstore.VaultAuthTypeToken {
		t.Fatalf("vault = %+v", cfg.Vault)
	}
}
