// Package credentials supplies the secret half of a platform connection
// config from the environment or a secrets backend.
package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
)

// ErrNotFound means the backend holds nothing for the platform. Callers fall
// back to whatever the connection config already carries.
var ErrNotFound = errors.New("credentials not found")

const (
	BackendEnv   = "env"
	BackendVault = "vault"
)

// Credentials are the secret fields of a Google connection.
type Credentials struct {
	ServiceAccountJSON string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

func (c Credentials) IsZero() bool {
	return strings.TrimSpace(c.ServiceAccountJSON) == "" &&
		strings.TrimSpace(c.ClientID) == "" &&
		strings.TrimSpace(c.ClientSecret) == "" &&
		strings.TrimSpace(c.RefreshToken) == ""
}

// Apply overlays the non-empty secrets onto cfg.
func (c Credentials) Apply(cfg configstore.GoogleConfig) configstore.GoogleConfig {
	return configstore.MergeGoogleConfig(cfg, configstore.GoogleConfig{
		ServiceAccountJSON: c.ServiceAccountJSON,
		ClientID:           c.ClientID,
		ClientSecret:       c.ClientSecret,
		RefreshToken:       c.RefreshToken,
	})
}

type Provider interface {
	Credentials(ctx context.Context, platform asset.Platform) (Credentials, error)
}

// StaticProvider serves credentials fixed at startup, typically parsed from
// the environment.
type StaticProvider struct {
	byPlatform map[asset.Platform]Credentials
}

func NewStaticProvider(byPlatform map[asset.Platform]Credentials) *StaticProvider {
	out := make(map[asset.Platform]Credentials, len(byPlatform))
	for platform, creds := range byPlatform {
		if creds.IsZero() {
			continue
		}
		out[platform] = creds
	}
	return &StaticProvider{byPlatform: out}
}

func (p *StaticProvider) Credentials(ctx context.Context, platform asset.Platform) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	if p == nil {
		return Credentials{}, ErrNotFound
	}
	creds, ok := p.byPlatform[platform]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}
