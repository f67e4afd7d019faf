package configstore

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"
)

const (
	KindGoogleDrive = "google_drive"
	KindGmail       = "gmail"
	KindVault       = "vault"
)

const (
	GoogleAuthTypeServiceAccountJSON = "service_account_json"
	GoogleAuthTypeADC                = "adc"
	GoogleAuthTypeOAuthUser          = "oauth_user"

	VaultAuthTypeToken   = "token"
	VaultAuthTypeAppRole = "approle"
)

const (
	ScopeDrive             = "https://www.googleapis.com/auth/drive"
	ScopeDriveReadonly     = "https://www.googleapis.com/auth/drive.readonly"
	ScopeDriveMetadataRead = "https://www.googleapis.com/auth/drive.metadata.readonly"
	ScopeGmailFull         = "https://mail.google.com/"
	ScopeGmailModify       = "https://www.googleapis.com/auth/gmail.modify"
	ScopeGmailReadonly     = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeGmailMetadata     = "https://www.googleapis.com/auth/gmail.metadata"
	ScopeDirectoryUserRead = "https://www.googleapis.com/auth/admin.directory.user.readonly"
)

// GoogleConfig describes how to reach one Google platform (Drive or Gmail).
// Delegated auth types impersonate Subject through domain-wide delegation;
// oauth_user consumes a refresh token issued to a single personal account.
type GoogleConfig struct {
	AuthType            string   `json:"auth_type"`
	ServiceAccountJSON  string   `json:"service_account_json"`
	ServiceAccountEmail string   `json:"service_account_email"`
	Subject             string   `json:"subject"`
	CustomerID          string   `json:"customer_id"`
	ClientID            string   `json:"client_id"`
	ClientSecret        string   `json:"client_secret"`
	RefreshToken        string   `json:"refresh_token"`
	UserEmail           string   `json:"user_email"`
	Scopes              []string `json:"scopes"`
}

func (c GoogleConfig) Normalized() GoogleConfig {
	out := c
	out.AuthType = strings.ToLower(strings.TrimSpace(out.AuthType))
	if out.AuthType == "" {
		out.AuthType = GoogleAuthTypeServiceAccountJSON
	}
	out.ServiceAccountJSON = strings.TrimSpace(out.ServiceAccountJSON)
	out.ServiceAccountEmail = strings.TrimSpace(out.ServiceAccountEmail)
	out.Subject = strings.ToLower(strings.TrimSpace(out.Subject))
	out.CustomerID = strings.TrimSpace(out.CustomerID)
	if out.CustomerID == "" {
		out.CustomerID = "my_customer"
	}
	out.ClientID = strings.TrimSpace(out.ClientID)
	out.ClientSecret = strings.TrimSpace(out.ClientSecret)
	out.RefreshToken = strings.TrimSpace(out.RefreshToken)
	out.UserEmail = strings.ToLower(strings.TrimSpace(out.UserEmail))
	out.Scopes = NormalizeScopes(out.Scopes)
	return out
}

// Delegated reports whether the auth type acts on behalf of an organization
// rather than a single personal account.
func (c GoogleConfig) Delegated() bool {
	switch c.Normalized().AuthType {
	case GoogleAuthTypeServiceAccountJSON, GoogleAuthTypeADC:
		return true
	default:
		return false
	}
}

// AccountEmail is the mailbox or drive owner the connection acts as.
func (c GoogleConfig) AccountEmail() string {
	c = c.Normalized()
	if c.Delegated() {
		return c.Subject
	}
	return c.UserEmail
}

func (c GoogleConfig) Validate() error {
	c = c.Normalized()
	switch c.AuthType {
	case GoogleAuthTypeServiceAccountJSON:
		if c.ServiceAccountJSON == "" {
			return errors.New("Google service account JSON is required")
		}
		if !json.Valid([]byte(c.ServiceAccountJSON)) {
			return errors.New("Google service account JSON is invalid")
		}
		if c.Subject == "" {
			return errors.New("Google subject email is required for delegated auth")
		}
	case GoogleAuthTypeADC:
		if c.ServiceAccountEmail == "" {
			return errors.New("Google service account email is required for adc auth")
		}
		if c.Subject == "" {
			return errors.New("Google subject email is required for delegated auth")
		}
	case GoogleAuthTypeOAuthUser:
		if c.ClientID == "" {
			return errors.New("Google OAuth client ID is required")
		}
		if c.ClientSecret == "" {
			return errors.New("Google OAuth client secret is required")
		}
		if c.RefreshToken == "" {
			return errors.New("Google OAuth refresh token is required")
		}
	default:
		return errors.New("Google auth type is invalid")
	}
	return nil
}

// HasScope reports whether scope (or a broader scope that implies it) was granted.
func (c GoogleConfig) HasScope(scope string) bool {
	return slices.Contains(c.Normalized().Scopes, scope)
}

// CanSearchGmail reports whether the Gmail grant accepts the q search
// parameter. gmail.metadata alone does not.
func (c GoogleConfig) CanSearchGmail() bool {
	return c.HasScope(ScopeGmailFull) || c.HasScope(ScopeGmailModify) || c.HasScope(ScopeGmailReadonly)
}

// VaultConfig configures the optional Vault credentials backend.
type VaultConfig struct {
	Address          string `json:"address"`
	Namespace        string `json:"namespace"`
	AuthType         string `json:"auth_type"`
	Token            string `json:"token"`
	AppRoleMountPath string `json:"approle_mount_path"`
	AppRoleRoleID    string `json:"approle_role_id"`
	AppRoleSecretID  string `json:"approle_secret_id"`
	KVMount          string `json:"kv_mount"`
	SecretPrefix     string `json:"secret_prefix"`
	TLSSkipVerify    bool   `json:"tls_skip_verify"`
	TLSCACertPEM     string `json:"tls_ca_cert_pem"`
}

func (c VaultConfig) Normalized() VaultConfig {
	out := c
	out.Address = normalizeVaultAddress(out.Address)
	out.Namespace = strings.TrimSpace(out.Namespace)
	out.AuthType = strings.ToLower(strings.TrimSpace(out.AuthType))
	if out.AuthType == "" {
		out.AuthType = VaultAuthTypeToken
	}
	out.Token = strings.TrimSpace(out.Token)
	out.AppRoleMountPath = normalizeVaultMountPath(out.AppRoleMountPath)
	if out.AppRoleMountPath == "" {
		out.AppRoleMountPath = "approle"
	}
	out.AppRoleRoleID = strings.TrimSpace(out.AppRoleRoleID)
	out.AppRoleSecretID = strings.TrimSpace(out.AppRoleSecretID)
	out.KVMount = normalizeVaultMountPath(out.KVMount)
	if out.KVMount == "" {
		out.KVMount = "secret"
	}
	out.SecretPrefix = normalizeVaultMountPath(out.SecretPrefix)
	if out.SecretPrefix == "" {
		out.SecretPrefix = "workspace-audit"
	}
	out.TLSCACertPEM = strings.TrimSpace(out.TLSCACertPEM)
	return out
}

func (c VaultConfig) Validate() error {
	c = c.Normalized()
	if c.Address == "" {
		return errors.New("Vault address is required")
	}
	parsed, err := url.Parse(c.Address)
	if err != nil {
		return errors.New("Vault address is invalid")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("Vault address must use http or https")
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return errors.New("Vault address host is required")
	}
	switch c.AuthType {
	case VaultAuthTypeToken:
		if c.Token == "" {
			return errors.New("Vault token is required")
		}
	case VaultAuthTypeAppRole:
		if c.AppRoleRoleID == "" {
			return errors.New("Vault AppRole role ID is required")
		}
		if c.AppRoleSecretID == "" {
			return errors.New("Vault AppRole secret ID is required")
		}
	default:
		return errors.New("Vault auth type is invalid")
	}
	if c.TLSCACertPEM != "" {
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM([]byte(c.TLSCACertPEM)); !ok {
			return errors.New("Vault CA certificate PEM is invalid")
		}
	}
	return nil
}

func DecodeGoogleConfig(raw []byte) (GoogleConfig, error) {
	var cfg GoogleConfig
	return cfg, decodeJSON(raw, &cfg)
}

// MergeGoogleConfig overlays update on existing. Secret fields in update replace
// existing ones only when non-empty, so a secret fetched from a credentials
// backend can fill in a config that omits it.
func MergeGoogleConfig(existing GoogleConfig, update GoogleConfig) GoogleConfig {
	merged := existing
	if authType := strings.ToLower(strings.TrimSpace(update.AuthType)); authType != "" {
		merged.AuthType = authType
	}
	if v := strings.TrimSpace(update.ServiceAccountEmail); v != "" {
		merged.ServiceAccountEmail = v
	}
	if v := strings.TrimSpace(update.Subject); v != "" {
		merged.Subject = v
	}
	if v := strings.TrimSpace(update.CustomerID); v != "" {
		merged.CustomerID = v
	}
	if v := strings.TrimSpace(update.ClientID); v != "" {
		merged.ClientID = v
	}
	if v := strings.TrimSpace(update.UserEmail); v != "" {
		merged.UserEmail = v
	}
	if len(update.Scopes) > 0 {
		merged.Scopes = append([]string(nil), update.Scopes...)
	}
	if secret := strings.TrimSpace(update.ServiceAccountJSON); secret != "" {
		merged.ServiceAccountJSON = secret
	}
	if secret := strings.TrimSpace(update.ClientSecret); secret != "" {
		merged.ClientSecret = secret
	}
	if secret := strings.TrimSpace(update.RefreshToken); secret != "" {
		merged.RefreshToken = secret
	}
	return merged
}

func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

func MaskSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	tail := s[len(s)-4:]
	prefix := ""
	if idx := strings.Index(s, "_"); idx > 0 && idx <= 6 {
		prefix = s[:idx+1]
	}
	return prefix + "****" + tail
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func normalizeVaultAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "https://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return strings.TrimRight(addr, "/")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimSpace(parsed.String())
}

func normalizeVaultMountPath(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), "/")
}
