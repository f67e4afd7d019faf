package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
	"github.com/open-sspm/workspace-audit/internal/credentials"
	"github.com/open-sspm/workspace-audit/internal/risk"
)

const (
	defaultHTTPAddr             = ":8080"
	defaultMetricsAddr          = ":9090"
	defaultActivityRetention    = 30 * 24 * time.Hour
	defaultActivityMaxEntries   = 500
	defaultQueryMaxPerSource    = 1000
	defaultRecentActivityWindow = 7 * 24 * time.Hour
	defaultScanPageSize         = 100
	defaultScanAutoContinue     = 500
	defaultScanRateLimit        = 5.0
	defaultScanRateBurst        = 5
	defaultScanMode             = "full"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	MetricsAddr string
	StateDir    string

	ActivityRetention  time.Duration
	ActivityMaxEntries int

	QueryMaxPerSource    int
	QueryParallel        bool
	RecentActivityWindow time.Duration

	ScanMode              string
	ScanPageSize          int
	ScanAutoContinueLimit int
	ScanRateLimit         float64
	ScanRateBurst         int
	RefreshInterval       time.Duration

	Risk risk.Policy

	// Google holds the connection config of every platform that has one.
	Google map[asset.Platform]configstore.GoogleConfig
	// Credentials holds secrets supplied through the environment.
	Credentials map[asset.Platform]credentials.Credentials

	CredentialsBackend string
	Vault              configstore.VaultConfig
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadRequireDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr: getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		StateDir:    strings.TrimSpace(os.Getenv("STATE_DIR")),

		ActivityRetention:  getenvDurationDefault("ACTIVITY_RETENTION", defaultActivityRetention),
		ActivityMaxEntries: getenvIntDefault("ACTIVITY_MAX_ENTRIES", defaultActivityMaxEntries),

		QueryMaxPerSource:    getenvIntDefault("QUERY_MAX_ASSETS_PER_SOURCE", defaultQueryMaxPerSource),
		QueryParallel:        getenvBoolDefault("QUERY_PARALLEL", false),
		RecentActivityWindow: getenvDurationDefault("RECENT_ACTIVITY_WINDOW", defaultRecentActivityWindow),

		ScanMode:              strings.ToLower(strings.TrimSpace(getenvDefault("SCAN_MODE", defaultScanMode))),
		ScanPageSize:          getenvIntDefault("SCAN_PAGE_SIZE", defaultScanPageSize),
		ScanAutoContinueLimit: getenvIntDefault("SCAN_AUTO_CONTINUE_LIMIT", defaultScanAutoContinue),
		ScanRateLimit:         getenvFloatDefault("SCAN_RATE_LIMIT", defaultScanRateLimit),
		ScanRateBurst:         getenvIntDefault("SCAN_RATE_BURST", defaultScanRateBurst),

		Risk: risk.PolicyFromEnv(),

		Google:             map[asset.Platform]configstore.GoogleConfig{},
		Credentials:        map[asset.Platform]credentials.Credentials{},
		CredentialsBackend: strings.ToLower(strings.TrimSpace(getenvDefault("CREDENTIALS_BACKEND", credentials.BackendEnv))),
	}

	// Zero disables the periodic refresh, so it is parsed without the
	// positive-only rule the other durations follow.
	if v := strings.TrimSpace(os.Getenv("REFRESH_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.RefreshInterval = d
		}
	}

	for _, platform := range asset.Platforms() {
		prefix := envPrefix(platform)
		if raw := strings.TrimSpace(os.Getenv(prefix + "_CONFIG")); raw != "" {
			gcfg, err := configstore.DecodeGoogleConfig([]byte(raw))
			if err != nil {
				return cfg, fmt.Errorf("%s_CONFIG: %w", prefix, err)
			}
			cfg.Google[platform] = gcfg
		}
		creds := credentials.Credentials{
			ServiceAccountJSON: os.Getenv(prefix + "_SERVICE_ACCOUNT_JSON"),
			ClientID:           os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret:       os.Getenv(prefix + "_CLIENT_SECRET"),
			RefreshToken:       os.Getenv(prefix + "_REFRESH_TOKEN"),
		}
		if !creds.IsZero() {
			cfg.Credentials[platform] = creds
		}
	}

	switch cfg.CredentialsBackend {
	case credentials.BackendEnv:
	case credentials.BackendVault:
		cfg.Vault = configstore.VaultConfig{
			Address:          os.Getenv("VAULT_ADDR"),
			Namespace:        os.Getenv("VAULT_NAMESPACE"),
			AuthType:         getenvDefault("VAULT_AUTH_TYPE", configstore.VaultAuthTypeToken),
			Token:            os.Getenv("VAULT_TOKEN"),
			AppRoleMountPath: os.Getenv("VAULT_APPROLE_MOUNT_PATH"),
			AppRoleRoleID:    os.Getenv("VAULT_APPROLE_ROLE_ID"),
			AppRoleSecretID:  os.Getenv("VAULT_APPROLE_SECRET_ID"),
			KVMount:          os.Getenv("VAULT_KV_MOUNT"),
			SecretPrefix:     os.Getenv("VAULT_SECRET_PREFIX"),
			TLSSkipVerify:    getenvBoolDefault("VAULT_TLS_SKIP_VERIFY", false),
			TLSCACertPEM:     os.Getenv("VAULT_CACERT_PEM"),
		}.Normalized()
		if err := cfg.Vault.Validate(); err != nil {
			return cfg, fmt.Errorf("vault credentials backend: %w", err)
		}
	default:
		return cfg, fmt.Errorf("CREDENTIALS_BACKEND must be one of: %s, %s", credentials.BackendEnv, credentials.BackendVault)
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

// MetricsEnabled reports whether the prometheus listener should start.
func (c Config) MetricsEnabled() bool {
	addr := strings.ToLower(strings.TrimSpace(c.MetricsAddr))
	return addr != "" && addr != "off"
}

func envPrefix(platform asset.Platform) string {
	return "GOOGLE_" + strings.ToUpper(strings.TrimPrefix(string(platform), "google_"))
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1":
		return true
	case "0":
		return false
	default:
		return def
	}
}
