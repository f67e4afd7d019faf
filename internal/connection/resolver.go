// Package connection resolves whether each platform is connected and what
// the connection is allowed to do.
package connection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
	"github.com/open-sspm/workspace-audit/internal/connectors/googleapi"
	"github.com/open-sspm/workspace-audit/internal/credentials"
)

var errNotConfigured = errors.New("platform is not configured")

type Options struct {
	// Configs holds the non-secret connection config per platform.
	Configs       map[asset.Platform]configstore.GoogleConfig
	Credentials   credentials.Provider
	ClientOptions googleapi.ClientOptions
	Logger        *slog.Logger
}

// Resolver implements googleapi.Connector. Clients are cached per platform
// and rebuilt when the resolved config changes.
type Resolver struct {
	configs     map[asset.Platform]configstore.GoogleConfig
	credentials credentials.Provider
	clientOpts  googleapi.ClientOptions
	logger      *slog.Logger

	mu      sync.Mutex
	clients map[asset.Platform]cachedClient
}

type cachedClient struct {
	fingerprint string
	client      *googleapi.Client
}

func NewResolver(opts Options) *Resolver {
	configs := make(map[asset.Platform]configstore.GoogleConfig, len(opts.Configs))
	for platform, cfg := range opts.Configs {
		configs[platform] = cfg
	}
	provider := opts.Credentials
	if provider == nil {
		provider = credentials.NewStaticProvider(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		configs:     configs,
		credentials: provider,
		clientOpts:  opts.ClientOptions,
		logger:      logger,
		clients:     make(map[asset.Platform]cachedClient),
	}
}

// Status reports the connection for platform without contacting Google.
// Failures are reported in the result, never as an error.
func (r *Resolver) Status(ctx context.Context, platform asset.Platform) asset.PlatformConnection {
	conn, _, err := r.resolve(ctx, platform)
	if err != nil {
		conn.IsConnected = false
		conn.Error = err.Error()
	}
	return conn
}

// StatusAll reports every known platform in canonical order.
func (r *Resolver) StatusAll(ctx context.Context) []asset.PlatformConnection {
	platforms := asset.Platforms()
	out := make([]asset.PlatformConnection, 0, len(platforms))
	for _, platform := range platforms {
		out = append(out, r.Status(ctx, platform))
	}
	return out
}

func (r *Resolver) Connect(ctx context.Context, platform asset.Platform) (*googleapi.Client, asset.PlatformConnection, error) {
	conn, cfg, err := r.resolve(ctx, platform)
	if err != nil {
		conn.Error = err.Error()
		return nil, conn, err
	}

	fingerprint, err := configFingerprint(cfg)
	if err != nil {
		return nil, conn, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.clients[platform]; ok && cached.fingerprint == fingerprint {
		return cached.client, conn, nil
	}
	client, err := googleapi.NewClient(cfg, r.clientOpts)
	if err != nil {
		conn.IsConnected = false
		conn.Error = err.Error()
		return nil, conn, fmt.Errorf("build %s client: %w", platform, err)
	}
	r.clients[platform] = cachedClient{fingerprint: fingerprint, client: client}
	r.logger.Debug("google api client created", "platform", platform, "auth_type", cfg.AuthType)
	return client, conn, nil
}

// Invalidate drops a cached client so the next Connect rebuilds it.
func (r *Resolver) Invalidate(platform asset.Platform) {
	r.mu.Lock()
	delete(r.clients, platform)
	r.mu.Unlock()
}

func (r *Resolver) resolve(ctx context.Context, platform asset.Platform) (asset.PlatformConnection, configstore.GoogleConfig, error) {
	conn := asset.PlatformConnection{Platform: platform, SourceKinds: platform.Kinds()}
	if !platform.Valid() {
		return conn, configstore.GoogleConfig{}, fmt.Errorf("unknown platform %q", platform)
	}
	cfg, ok := r.configs[platform]
	if !ok {
		return conn, configstore.GoogleConfig{}, errNotConfigured
	}

	creds, err := r.credentials.Credentials(ctx, platform)
	switch {
	case err == nil:
		cfg = creds.Apply(cfg)
	case errors.Is(err, credentials.ErrNotFound):
	default:
		r.logger.Warn("credential lookup failed", "platform", platform, "err", err)
		return conn, configstore.GoogleConfig{}, fmt.Errorf("credential lookup: %w", err)
	}

	cfg = cfg.Normalized()
	conn.AuthType = cfg.AuthType
	conn.Email = cfg.AccountEmail()
	conn.CredentialHint = credentialHint(cfg)
	if err := cfg.Validate(); err != nil {
		return conn, configstore.GoogleConfig{}, err
	}
	conn.Capabilities = capabilitiesFor(platform, cfg)
	if !conn.Capabilities.CanRead(platformKind(platform)) {
		return conn, configstore.GoogleConfig{}, errors.New("granted scopes do not allow reading this platform")
	}
	conn.IsConnected = true
	return conn, cfg, nil
}

// capabilitiesFor derives permissions from the auth type and granted scopes.
// A personal oauth_user connection never reads the organization directory.
func capabilitiesFor(platform asset.Platform, cfg configstore.GoogleConfig) asset.Capabilities {
	var caps asset.Capabilities
	switch platform {
	case asset.PlatformGoogleDrive:
		caps.WriteFiles = cfg.HasScope(configstore.ScopeDrive)
		caps.ReadFiles = caps.WriteFiles ||
			cfg.HasScope(configstore.ScopeDriveReadonly) ||
			cfg.HasScope(configstore.ScopeDriveMetadataRead)
	case asset.PlatformGmail:
		caps.WriteEmail = cfg.HasScope(configstore.ScopeGmailFull) || cfg.HasScope(configstore.ScopeGmailModify)
		caps.SearchEmail = cfg.CanSearchGmail()
		caps.ReadEmail = caps.SearchEmail || cfg.HasScope(configstore.ScopeGmailMetadata)
	}
	caps.ReadDirectory = cfg.Delegated() && cfg.HasScope(configstore.ScopeDirectoryUserRead)
	return caps
}

// credentialHint masks the secret that identifies the credential in use: the
// refresh token for oauth_user, the private key id of a service account key.
// ADC has no local secret.
func credentialHint(cfg configstore.GoogleConfig) string {
	switch cfg.AuthType {
	case configstore.GoogleAuthTypeOAuthUser:
		return configstore.MaskSecret(cfg.RefreshToken)
	case configstore.GoogleAuthTypeServiceAccountJSON:
		var key struct {
			PrivateKeyID string `json:"private_key_id"`
		}
		if err := json.Unmarshal([]byte(cfg.ServiceAccountJSON), &key); err != nil {
			return ""
		}
		return configstore.MaskSecret(key.PrivateKeyID)
	default:
		return ""
	}
}

func platformKind(platform asset.Platform) asset.SourceKind {
	kinds := platform.Kinds()
	if len(kinds) == 0 {
		return ""
	}
	return kinds[0]
}

func configFingerprint(cfg configstore.GoogleConfig) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("fingerprint config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
