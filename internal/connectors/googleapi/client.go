// Package googleapi is a small authorized REST client shared by the Google Drive
// and Gmail source adapters.
package googleapi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/open-sspm/workspace-audit/internal/connectors/configstore"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const (
	DefaultDriveBaseURL     = "https://www.googleapis.com/drive/v3"
	DefaultGmailBaseURL     = "https://gmail.googleapis.com/gmail/v1"
	DefaultDirectoryBaseURL = "https://admin.googleapis.com/admin/directory/v1"

	defaultGoogleTokenURL   = "https://oauth2.googleapis.com/token"
	defaultGoogleIAMBaseURL = "https://iamcredentials.googleapis.com/v1"
	defaultGoogleTimeout    = 60 * time.Second
	googleTokenLeeway       = 30 * time.Second
	googleMaxRetries        = 5
	defaultInitialBackoff   = 500 * time.Millisecond
	maxBackoff              = 8 * time.Second
	defaultRateLimit        = 5.0
	defaultRateBurst        = 5
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("google api resource not found")

// StatusError is a non-retryable (or retries-exhausted) API failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("google api request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap lets callers match 404s with errors.Is(err, ErrNotFound).
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type ClientOptions struct {
	HTTPClient            *http.Client
	DriveBaseURL          string
	GmailBaseURL          string
	DirectoryBaseURL      string
	TokenURL              string
	IAMCredentialsBaseURL string
	Scopes                []string
	ADCTokenSource        oauth2.TokenSource
	// RateLimit is requests per second across all calls made by the client.
	RateLimit      float64
	RateBurst      int
	InitialBackoff time.Duration
}

type Client struct {
	cfg configstore.GoogleConfig

	http               *http.Client
	driveBaseURL       string
	gmailBaseURL       string
	directoryBaseURL   string
	tokenURL           string
	iamCredentialsBase string
	scopes             []string
	limiter            *rate.Limiter
	initialBackoff     time.Duration

	adcTokenSource oauth2.TokenSource
	oauthConfig    *oauth2.Config

	mu              sync.Mutex
	cachedToken     string
	cachedTokenExp  time.Time
	parsedPrivatePK *rsa.PrivateKey
	saClientEmail   string
}

func NewClient(cfg configstore.GoogleConfig, opts ClientOptions) (*Client, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultGoogleTimeout}
	}

	scopes := configstore.NormalizeScopes(opts.Scopes)
	if len(scopes) == 0 {
		scopes = cfg.Scopes
	}
	if len(scopes) == 0 {
		return nil, errors.New("google api scopes are required")
	}

	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	rateBurst := opts.RateBurst
	if rateBurst <= 0 {
		rateBurst = defaultRateBurst
	}
	initialBackoff := opts.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	client := &Client{
		cfg:                cfg,
		http:               httpClient,
		driveBaseURL:       baseURLOrDefault(opts.DriveBaseURL, DefaultDriveBaseURL),
		gmailBaseURL:       baseURLOrDefault(opts.GmailBaseURL, DefaultGmailBaseURL),
		directoryBaseURL:   baseURLOrDefault(opts.DirectoryBaseURL, DefaultDirectoryBaseURL),
		tokenURL:           baseURLOrDefault(opts.TokenURL, defaultGoogleTokenURL),
		iamCredentialsBase: baseURLOrDefault(opts.IAMCredentialsBaseURL, defaultGoogleIAMBaseURL),
		scopes:             scopes,
		limiter:            rate.NewLimiter(rate.Limit(rateLimit), rateBurst),
		initialBackoff:     initialBackoff,
		adcTokenSource:     opts.ADCTokenSource,
	}

	switch cfg.AuthType {
	case configstore.GoogleAuthTypeServiceAccountJSON:
		if err := client.initServiceAccountJSON(); err != nil {
			return nil, err
		}
	case configstore.GoogleAuthTypeADC:
		// The token is minted through IAM signJwt on first use.
	case configstore.GoogleAuthTypeOAuthUser:
		client.oauthConfig = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: client.tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       scopes,
		}
	default:
		return nil, errors.New("google auth type is invalid")
	}

	return client, nil
}

func baseURLOrDefault(raw, def string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return def
	}
	return raw
}

func (c *Client) DriveBaseURL() string     { return c.driveBaseURL }
func (c *Client) GmailBaseURL() string     { return c.gmailBaseURL }
func (c *Client) DirectoryBaseURL() string { return c.directoryBaseURL }
func (c *Client) Config() configstore.GoogleConfig {
	return c.cfg
}

// HTTPClient returns the underlying client for calls that must not carry Google credentials.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) initServiceAccountJSON() error {
	var payload struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
		TokenURI    string `json:"token_uri"`
	}
	if err := json.Unmarshal([]byte(c.cfg.ServiceAccountJSON), &payload); err != nil {
		return fmt.Errorf("decode service account json: %w", err)
	}
	privateKey, err := parseRSAPrivateKey(payload.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse service account private key: %w", err)
	}

	c.saClientEmail = strings.TrimSpace(payload.ClientEmail)
	if c.saClientEmail == "" {
		return errors.New("service account json missing client_email")
	}
	c.parsedPrivatePK = privateKey
	if tokenURI := strings.TrimSpace(payload.TokenURI); tokenURI != "" {
		c.tokenURL = tokenURI
	}
	return nil
}

func parseRSAPrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("private key is required")
	}
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported private key format")
}

// GetJSON issues a GET against endpoint with query values and decodes the body into dst.
func (c *Client) GetJSON(ctx context.Context, endpoint string, values url.Values, dst any) error {
	requestURL := endpoint
	if encoded := values.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}
	return c.doJSON(ctx, http.MethodGet, requestURL, nil, dst)
}

func (c *Client) PostJSON(ctx context.Context, endpoint string, body, dst any) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, body, dst)
}

func (c *Client) PatchJSON(ctx context.Context, endpoint string, body, dst any) error {
	return c.doJSON(ctx, http.MethodPatch, endpoint, body, dst)
}

func (c *Client) Delete(ctx context.Context, endpoint string) error {
	return c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
}

// PostForm posts form to a third-party endpoint without Google credentials.
// It shares the client's rate limiter and HTTP transport.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("google api rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// Page is one page of a list endpoint.
type Page struct {
	Items         []json.RawMessage
	NextPageToken string
}

// ListPage fetches a single page of a list endpoint; key names the array field
// holding items (files, messages, users, ...).
func (c *Client) ListPage(ctx context.Context, endpoint, key, pageToken string, values url.Values) (Page, error) {
	query := cloneURLValues(values)
	if pageToken = strings.TrimSpace(pageToken); pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	var payload map[string]json.RawMessage
	if err := c.GetJSON(ctx, endpoint, query, &payload); err != nil {
		return Page{}, err
	}

	var page Page
	if raw, ok := payload["nextPageToken"]; ok {
		if err := json.Unmarshal(raw, &page.NextPageToken); err != nil {
			return Page{}, fmt.Errorf("decode google api page token: %w", err)
		}
		page.NextPageToken = strings.TrimSpace(page.NextPageToken)
	}
	if raw, ok := payload[key]; ok {
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return Page{}, fmt.Errorf("decode google api page response: %w", err)
		}
	}
	return page, nil
}

func cloneURLValues(values url.Values) url.Values {
	if len(values) == 0 {
		return url.Values{}
	}
	cloned := make(url.Values, len(values))
	for key, items := range values {
		cp := make([]string, len(items))
		copy(cp, items)
		cloned[key] = cp
	}
	return cloned
}

func (c *Client) doJSON(ctx context.Context, method, requestURL string, body, dst any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode google api request: %w", err)
		}
		payload = raw
	}
	respBody, _, err := c.doAuthorizedJSONRequest(ctx, method, requestURL, payload)
	if err != nil {
		return err
	}
	if dst == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("decode google api response: %w", err)
	}
	return nil
}

func (c *Client) doAuthorizedJSONRequest(ctx context.Context, method, requestURL string, body []byte) ([]byte, int, error) {
	var lastErr error
	statusCode := 0
	backoff := c.initialBackoff

	for attempt := 0; attempt < googleMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, statusCode, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, statusCode, fmt.Errorf("google api rate limiter: %w", err)
		}

		accessToken, err := c.accessToken(ctx)
		if err != nil {
			return nil, statusCode, err
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(body))
		if err != nil {
			return nil, statusCode, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, statusCode, ctx.Err()
			}
			lastErr = err
			continue
		}

		statusCode = resp.StatusCode
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			c.invalidateToken()
		}

		if statusCode >= 200 && statusCode < 300 {
			return respBody, statusCode, nil
		}

		statusErr := &StatusError{StatusCode: statusCode, Body: strings.TrimSpace(string(respBody))}
		if !shouldRetryGoogleStatus(statusCode) {
			return nil, statusCode, statusErr
		}
		lastErr = statusErr
	}

	if lastErr == nil {
		lastErr = errors.New("google api request failed")
	}
	return nil, statusCode, lastErr
}

func shouldRetryGoogleStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedToken = ""
	c.cachedTokenExp = time.Time{}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if token := strings.TrimSpace(c.cachedToken); token != "" && time.Now().UTC().Add(googleTokenLeeway).Before(c.cachedTokenExp) {
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	var (
		token  string
		expiry time.Time
		err    error
	)
	if c.cfg.AuthType == configstore.GoogleAuthTypeOAuthUser {
		token, expiry, err = c.refreshUserToken(ctx)
	} else {
		token, expiry, err = c.fetchAccessToken(ctx)
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cachedToken = token
	c.cachedTokenExp = expiry
	c.mu.Unlock()
	return token, nil
}

func (c *Client) refreshUserToken(ctx context.Context) (string, time.Time, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: c.cfg.RefreshToken}).Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("google oauth refresh: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", time.Time{}, errors.New("google oauth refresh returned an empty access token")
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().UTC().Add(time.Hour)
	}
	return tok.AccessToken, expiry.UTC(), nil
}

func (c *Client) fetchAccessToken(ctx context.Context) (string, time.Time, error) {
	assertion, err := c.signedAssertion(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("google oauth token exchange failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode google oauth token response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", time.Time{}, errors.New("google oauth token response missing access_token")
	}
	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return payload.AccessToken, time.Now().UTC().Add(time.Duration(expiresIn) * time.Second), nil
}

func (c *Client) signedAssertion(ctx context.Context) (string, error) {
	issuedAt := time.Now().UTC()
	claims := map[string]any{
		"iss":   c.issuer(),
		"sub":   c.cfg.Subject,
		"scope": strings.Join(c.scopes, " "),
		"aud":   c.tokenURL,
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(time.Hour).Unix(),
	}

	switch c.cfg.AuthType {
	case configstore.GoogleAuthTypeServiceAccountJSON:
		return signJWTAssertion(claims, c.parsedPrivatePK)
	case configstore.GoogleAuthTypeADC:
		return c.signJWTViaIAM(ctx, claims)
	default:
		return "", errors.New("unsupported google auth type")
	}
}

func (c *Client) issuer() string {
	if c.cfg.AuthType == configstore.GoogleAuthTypeADC {
		return c.cfg.ServiceAccountEmail
	}
	return c.saClientEmail
}

func signJWTAssertion(claims map[string]any, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", errors.New("rsa private key is required")
	}
	headerJSON, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	hash := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (c *Client) signJWTViaIAM(ctx context.Context, claims map[string]any) (string, error) {
	adcTS := c.adcTokenSource
	if adcTS == nil {
		var err error
		adcTS, err = google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return "", fmt.Errorf("google adc token source: %w", err)
		}
	}
	adcToken, err := adcTS.Token()
	if err != nil {
		return "", fmt.Errorf("google adc token: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	requestBody, err := json.Marshal(map[string]string{"payload": string(claimsJSON)})
	if err != nil {
		return "", err
	}

	requestURL := c.iamCredentialsBase + "/projects/-/serviceAccounts/" + url.PathEscape(c.cfg.ServiceAccountEmail) + ":signJwt"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+adcToken.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("google iam signJwt failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var payload struct {
		SignedJWT string `json:"signedJwt"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("decode google iam signJwt response: %w", err)
	}
	if strings.TrimSpace(payload.SignedJWT) == "" {
		return "", errors.New("google iam signJwt response missing signedJwt")
	}
	return payload.SignedJWT, nil
}

// ParseTime accepts RFC 3339 timestamps and Gmail's epoch-millisecond strings.
// Unparseable input yields the zero time.
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC()
	}
	if unixMS, err := strconv.ParseInt(raw, 10, 64); err == nil && unixMS > 0 {
		return time.UnixMilli(unixMS).UTC()
	}
	return time.Time{}
}
