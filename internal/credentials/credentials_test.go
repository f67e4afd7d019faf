package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
)

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	p := NewStaticProvider(map[asset.Platform]Credentials{
		asset.PlatformGmail:       {RefreshToken: "refresh"},
		asset.PlatformGoogleDrive: {},
	})

	got, err := p.Credentials(context.Background(), asset.PlatformGmail)
	if err != nil {
		t.Fatalf("Credentials(gmail) error = %v", err)
	}
	if got.RefreshToken != "refresh" {
		t.Fatalf("RefreshToken = %q", got.RefreshToken)
	}
	if _, err := p.Credentials(context.Background(), asset.PlatformGoogleDrive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Credentials(drive) error = %v, want ErrNotFound", err)
	}

	var nilProvider *StaticProvider
	if _, err := nilProvider.Credentials(context.Background(), asset.PlatformGmail); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nil provider error = %v, want ErrNotFound", err)
	}
}

func TestCredentialsApplyKeepsExistingSecrets(t *testing.T) {
	t.Parallel()

	cfg := configstore.GoogleConfig{
		AuthType:     configstore.GoogleAuthTypeOAuthUser,
		ClientID:     "config-client",
		ClientSecret: "config-secret",
		UserEmail:    "me@example.com",
	}
	got := Credentials{RefreshToken: "vault-refresh"}.Apply(cfg)
	if got.ClientID != "config-client" || got.ClientSecret != "config-secret" || got.RefreshToken != "vault-refresh" {
		t.Fatalf("Apply() = %+v", got)
	}
	if got.UserEmail != "me@example.com" {
		t.Fatalf("UserEmail = %q", got.UserEmail)
	}
}

func TestVaultProviderTokenRead(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Vault-Token"); got != "s.token" {
			t.Errorf("X-Vault-Token = %q", got)
		}
		switch r.URL.Path {
		case "/v1/kv/data/audit/gmail":
			writeJSON(t, w, map[string]any{"data": map[string]any{
				"data":     map[string]any{"client_id": "cid", "client_secret": "csecret", "refresh_token": "rt"},
				"metadata": map[string]any{"version": 3},
			}})
		case "/v1/kv/data/audit/google_drive":
			writeJSON(t, w, map[string]any{"data": map[string]any{"data": nil, "metadata": map[string]any{"deletion_time": "2026-01-01T00:00:00Z"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer server.Close()

	p, err := NewVaultProvider(context.Background(), configstore.VaultConfig{
		Address:      server.URL,
		Token:        "s.token",
		KVMount:      "/kv/",
		SecretPrefix: "audit",
	})
	if err != nil {
		t.Fatalf("NewVaultProvider() error = %v", err)
	}

	got, err := p.Credentials(context.Background(), asset.PlatformGmail)
	if err != nil {
		t.Fatalf("Credentials(gmail) error = %v", err)
	}
	if got.ClientID != "cid" || got.ClientSecret != "csecret" || got.RefreshToken != "rt" {
		t.Fatalf("Credentials(gmail) = %+v", got)
	}
	if _, err := p.Credentials(context.Background(), asset.PlatformGoogleDrive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Credentials(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestVaultProviderMissingSecret(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewVaultProvider(context.Background(), configstore.VaultConfig{Address: server.URL, Token: "s.token"})
	if err != nil {
		t.Fatalf("NewVaultProvider() error = %v", err)
	}
	if got := p.secretPath(asset.PlatformGmail); got != "secret/data/workspace-audit/gmail" {
		t.Fatalf("secretPath() = %q", got)
	}
	if _, err := p.Credentials(context.Background(), asset.PlatformGmail); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Credentials() error = %v, want ErrNotFound", err)
	}
}

func TestVaultProviderAppRoleLogin(t *testing.T) {
	t.Parallel()

	var loggedIn atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/ops-approle/login":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode login body: %v", err)
			}
			if body["role_id"] != "role" || body["secret_id"] != "secret" {
				t.Errorf("login body = %v", body)
			}
			loggedIn.Store(true)
			writeJSON(t, w, map[string]any{"auth": map[string]any{"client_token": "token-from-approle"}})
		case "/v1/secret/data/workspace-audit/google_drive":
			if got := r.Header.Get("X-Vault-Token"); got != "token-from-approle" {
				t.Errorf("X-Vault-Token = %q", got)
			}
			writeJSON(t, w, map[string]any{"data": map[string]any{"data": map[string]any{"service_account_json": `{"type":"service_account"}`}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p, err := NewVaultProvider(context.Background(), configstore.VaultConfig{
		Address:          server.URL,
		AuthType:         configstore.VaultAuthTypeAppRole,
		AppRoleMountPath: "ops-approle",
		AppRoleRoleID:    "role",
		AppRoleSecretID:  "secret",
	})
	if err != nil {
		t.Fatalf("NewVaultProvider(approle) error = %v", err)
	}
	if !loggedIn.Load() {
		t.Fatal("approle login endpoint was not called")
	}
	got, err := p.Credentials(context.Background(), asset.PlatformGoogleDrive)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if !strings.Contains(got.ServiceAccountJSON, "service_account") {
		t.Fatalf("ServiceAccountJSON = %q", got.ServiceAccountJSON)
	}
}

func TestNewVaultProviderRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewVaultProvider(context.Background(), configstore.VaultConfig{Address: "https://vault.example.com"}); err == nil {
		t.Fatal("NewVaultProvider() error = nil without token")
	}
}

func TestVaultNamespaceHint(t *testing.T) {
	t.Parallel()

	p := &VaultProvider{addressHost: "my-cluster.vault.hashicorp.cloud"}
	err := p.withNamespaceHint(errors.New("Code: 403. permission denied"))
	if !strings.Contains(err.Error(), `namespace to "admin"`) {
		t.Fatalf("withNamespaceHint() = %v", err)
	}
	p.namespace = "admin"
	if err := p.withNamespaceHint(errors.New("permission denied")); strings.Contains(err.Error(), "tip") {
		t.Fatalf("hint added with namespace set: %v", err)
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}
