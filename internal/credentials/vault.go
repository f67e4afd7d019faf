package credentials

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
)

// VaultProvider reads one KV v2 secret per platform at
// <mount>/data/<prefix>/<platform>.
type VaultProvider struct {
	client      *vaultapi.Client
	namespace   string
	addressHost string
	mount       string
	prefix      string
}

// NewVaultProvider authenticates against Vault. AppRole logins happen here,
// once; the resulting token is reused for every read.
func NewVaultProvider(ctx context.Context, cfg configstore.VaultConfig) (*VaultProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalized()

	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.Address
	vc.HttpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: buildHTTPTransport(cfg.TLSSkipVerify, cfg.TLSCACertPEM),
	}
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthType {
	case configstore.VaultAuthTypeToken:
		client.SetToken(cfg.Token)
	case configstore.VaultAuthTypeAppRole:
		loginPath := "auth/" + cfg.AppRoleMountPath + "/login"
		secret, err := client.Logical().WriteWithContext(ctx, loginPath, map[string]any{
			"role_id":   cfg.AppRoleRoleID,
			"secret_id": cfg.AppRoleSecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login at %s: %w", loginPath, err)
		}
		if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
			return nil, errors.New("vault approle login succeeded without client token")
		}
		client.SetToken(secret.Auth.ClientToken)
	}

	addressHost := ""
	if parsed, err := neturl.Parse(cfg.Address); err == nil {
		addressHost = strings.ToLower(parsed.Hostname())
	}
	return &VaultProvider{
		client:      client,
		namespace:   cfg.Namespace,
		addressHost: addressHost,
		mount:       cfg.KVMount,
		prefix:      cfg.SecretPrefix,
	}, nil
}

func (p *VaultProvider) secretPath(platform asset.Platform) string {
	return p.mount + "/data/" + p.prefix + "/" + neturl.PathEscape(string(platform))
}

func (p *VaultProvider) Credentials(ctx context.Context, platform asset.Platform) (Credentials, error) {
	path := p.secretPath(platform)
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("vault read %s: %w", path, p.withNamespaceHint(err))
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrNotFound
	}
	// KV v2 nests the secret under "data"; a null there means the latest
	// version was deleted.
	data, ok := secret.Data["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return Credentials{}, ErrNotFound
	}
	creds := Credentials{
		ServiceAccountJSON: mapString(data, "service_account_json"),
		ClientID:           mapString(data, "client_id"),
		ClientSecret:       mapString(data, "client_secret"),
		RefreshToken:       mapString(data, "refresh_token"),
	}
	if creds.IsZero() {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

func mapString(data map[string]any, key string) string {
	raw, ok := data[key]
	if !ok || raw == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}

func (p *VaultProvider) withNamespaceHint(err error) error {
	if p.namespace != "" || !strings.HasSuffix(p.addressHost, ".hashicorp.cloud") {
		return err
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "permission denied") && !strings.Contains(msg, "403") {
		return err
	}
	return fmt.Errorf("%w (tip: set namespace to \"admin\" for HCP Vault Dedicated)", err)
}

func buildHTTPTransport(skipVerify bool, caCertPEM string) http.RoundTripper {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return http.DefaultTransport
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig.InsecureSkipVerify = skipVerify
	if caCertPEM != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCertPEM)) {
			transport.TLSClientConfig.RootCAs = pool
		}
	}
	return transport
}
