// Package oauth performs the two Google token-endpoint operations the backend
// needs: exchanging a one-shot authorization code and refreshing an access
// token. It also exposes the consent URL and the userinfo lookup used by the
// redirect callback flow.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultUserInfoURL     = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultExchangeTimeout = 10 * time.Second
)

var (
	// ErrExchangeFailed indicates the authorization-code exchange was rejected.
	// Codes are single-use, so the exchange is never retried.
	ErrExchangeFailed = errors.New("oauth: code exchange failed")

	// ErrRefreshFailed indicates the refresh-token grant was rejected.
	ErrRefreshFailed = errors.New("oauth: token refresh failed")

	// ErrUserInfoFailed indicates the userinfo lookup was rejected.
	ErrUserInfoFailed = errors.New("oauth: userinfo request failed")

	errMissingClientID     = errors.New("client id required")
	errMissingClientSecret = errors.New("client secret required")

	// ErrInvalidExchangeConfig indicates the client could not be constructed.
	ErrInvalidExchangeConfig = errors.New("oauth: invalid exchange client config")
)

// UpstreamError carries the provider status and body for operator diagnostics.
// It unwraps to the operation sentinel so callers can match with errors.Is.
type UpstreamError struct {
	kind       error
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.kind, e.Body)
	}
	return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.kind
}

func wrapUpstream(kind error, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &UpstreamError{
			kind:       kind,
			StatusCode: status,
			Body:       strings.TrimSpace(string(retrieveErr.Body)),
		}
	}
	return &UpstreamError{kind: kind, Body: err.Error()}
}

// TokenResult is the normalized outcome of an exchange or refresh. An empty
// RefreshToken means the provider withheld one; the caller keeps whatever it
// already has stored.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scopes       []string
}

// UserInfo is the Google profile tied to an access token.
type UserInfo struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Given  string `json:"given_name"`
	Family string `json:"family_name"`
}

// ExchangeClientConfig bundles configuration for the exchange client.
type ExchangeClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint overrides the Google OAuth endpoint; tests point it at a local
	// server.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Clock       func() time.Time
}

// ExchangeClient turns authorization codes and refresh tokens into access
// tokens against the Google token endpoint.
type ExchangeClient struct {
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	endpoint     oauth2.Endpoint
	userInfoURL  string
	httpClient   *http.Client
	logger       *zap.Logger
	clock        func() time.Time
}

// NewExchangeClient constructs an exchange client with validated configuration.
func NewExchangeClient(cfg ExchangeClientConfig) (*ExchangeClient, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExchangeConfig, errMissingClientID)
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExchangeConfig, errMissingClientSecret)
	}

	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultExchangeTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ExchangeClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       cfg.Scopes,
		endpoint:     endpoint,
		userInfoURL:  userInfoURL,
		httpClient:   httpClient,
		logger:       logger,
		clock:        clock,
	}, nil
}

// Credentials exposes the OAuth client pair used for exchanges so callers can
// persist it alongside the issued tokens.
func (c *ExchangeClient) Credentials() (string, string) {
	return c.clientID, c.clientSecret
}

// AuthCodeURL builds the Google consent URL. Offline access plus a forced
// consent prompt ensure a refresh token is issued; previously granted scopes
// are carried forward.
func (c *ExchangeClient) AuthCodeURL(state string) string {
	return c.config(c.clientID, c.clientSecret).AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// ExchangeCode redeems a single-use authorization code for a token pair.
func (c *ExchangeClient) ExchangeCode(ctx context.Context, code string) (TokenResult, error) {
	if strings.TrimSpace(code) == "" {
		return TokenResult{}, &UpstreamError{kind: ErrExchangeFailed, Body: "authorization code required"}
	}

	token, err := c.config(c.clientID, c.clientSecret).Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return TokenResult{}, wrapUpstream(ErrExchangeFailed, err)
	}
	return c.toResult(token), nil
}

// RefreshAccessToken obtains a fresh access token using the stored refresh
// token and the client credentials that produced it. The caller persists the
// result and the absolute expiry.
func (c *ExchangeClient) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientSecret string) (TokenResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenResult{}, &UpstreamError{kind: ErrRefreshFailed, Body: "refresh token required"}
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return TokenResult{}, &UpstreamError{kind: ErrRefreshFailed, Body: "client credentials required"}
	}

	source := c.config(clientID, clientSecret).TokenSource(
		c.withHTTPClient(ctx),
		&oauth2.Token{RefreshToken: refreshToken},
	)
	token, err := source.Token()
	if err != nil {
		return TokenResult{}, wrapUpstream(ErrRefreshFailed, err)
	}
	return c.toResult(token), nil
}

// FetchUserInfo resolves the Google profile behind an access token.
func (c *ExchangeClient) FetchUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return UserInfo{}, &UpstreamError{
			kind:       ErrUserInfoFailed,
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var info UserInfo
	if err := json.NewDecoder(response.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	return info, nil
}

func (c *ExchangeClient) config(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       c.scopes,
		Endpoint:     c.endpoint,
	}
}

func (c *ExchangeClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *ExchangeClient) toResult(token *oauth2.Token) TokenResult {
	scopes := c.scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    tokenType,
		Expiry:       token.Expiry,
		Scopes:       scopes,
	}
}
