package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	googleProviderKey     = "google"
	oauthTokenPathFormat  = "/api/backend/v1/user/%s/oauth_token"
	defaultBackendTimeout = 10 * time.Second
)

var (
	// ErrUpstreamUnavailable indicates the PropelAuth backend API call failed.
	// "No tokens captured for this user" is NOT this error; it is a normal
	// outcome reported as a nil result.
	ErrUpstreamUnavailable = errors.New("auth: identity provider backend unavailable")

	// ErrInvalidBackendConfig indicates the client could not be constructed.
	ErrInvalidBackendConfig = errors.New("auth: invalid backend client config")

	errMissingAPIKey = errors.New("api key configuration required")
)

// ProviderTokens is the Google-issued token material PropelAuth captured on
// the user's behalf during social login.
type ProviderTokens struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAtEpochS int64
	Scopes          []string
	Email           string
}

// BackendClientConfig bundles configuration for the PropelAuth backend API.
type BackendClientConfig struct {
	AuthURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// BackendClient queries the PropelAuth backend API with the service-level API
// key (never a user token) for third-party tokens captured at social login.
type BackendClient struct {
	authURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBackendClient constructs a backend API client.
func NewBackendClient(cfg BackendClientConfig) (*BackendClient, error) {
	authURL := strings.TrimRight(strings.TrimSpace(cfg.AuthURL), "/")
	if authURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackendConfig, errMissingAuthURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackendConfig, errMissingAPIKey)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultBackendTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendClient{
		authURL:    authURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type oauthTokenResponse struct {
	UserID string `json:"user_id"`
	Tokens map[string]struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresAt    int64    `json:"expires_at"`
		Scopes       []string `json:"scopes"`
		Email        string   `json:"email"`
	} `json:"oauth_tokens"`
}

// FetchOAuthTokens returns the Google tokens PropelAuth holds for the user, or
// (nil, nil) when the user has not linked Google. Any transport or non-2xx
// failure surfaces as ErrUpstreamUnavailable.
func (c *BackendClient) FetchOAuthTokens(ctx context.Context, userID string) (*ProviderTokens, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id required", ErrUpstreamUnavailable)
	}

	endpoint := c.authURL + fmt.Sprintf(oauthTokenPathFormat, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		c.logger.Warn("oauth token lookup failed",
			zap.Int("status", response.StatusCode),
			zap.String("user_id", userID))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, response.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload oauthTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	google, ok := payload.Tokens[googleProviderKey]
	if !ok || google.AccessToken == "" {
		// User has not linked Google; expected for password-only accounts.
		return nil, nil
	}

	return &ProviderTokens{
		AccessToken:     google.AccessToken,
		RefreshToken:    google.RefreshToken,
		ExpiresAtEpochS: google.ExpiresAt,
		Scopes:          google.Scopes,
		Email:           google.Email,
	}, nil
}
