package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/calendar"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleCalendarAuthURL returns the Google consent URL the frontend redirects
// the user to when they enable the calendar service.
func (h *httpHandler) handleCalendarAuthURL(c *gin.Context) {
	state := uuid.NewString()
	c.JSON(http.StatusOK, gin.H{
		"auth_url": h.exchange.AuthCodeURL(state),
		"state":    state,
	})
}

// handleGoogleCallback receives the browser redirect from Google's consent
// screen, redeems the single-use code, and provisions the token record before
// bouncing the user back to the frontend.
func (h *httpHandler) handleGoogleCallback(c *gin.Context) {
	if providerError := c.Query("error"); providerError != "" {
		h.redirectToFrontend(c, "error="+providerError)
		return
	}
	code := c.Query("code")
	if code == "" {
		h.redirectToFrontend(c, "error=no_code")
		return
	}

	ctx := c.Request.Context()
	result, err := h.exchange.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Warn("code exchange failed", zap.Error(err))
		h.redirectToFrontend(c, "error=token_exchange_failed")
		return
	}

	info, err := h.exchange.FetchUserInfo(ctx, result.AccessToken)
	if err != nil {
		h.logger.Warn("userinfo lookup failed", zap.Error(err))
		h.redirectToFrontend(c, "error=server_error")
		return
	}

	clientID, clientSecret := h.exchange.Credentials()
	record := &users.UserTokenRecord{
		UserID:       info.ID,
		Email:        info.Email,
		DisplayName:  info.Name,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		Scope:        users.JoinScopes(result.Scopes),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	if !result.Expiry.IsZero() {
		record.TokenExpiration = result.Expiry.Unix()
	}
	record.HasCalendarAccess = record.HasScopes(calendar.RequiredScopes...)

	if err := h.store.Upsert(ctx, record); err != nil {
		h.logger.Error("token record upsert failed", zap.Error(err))
		h.redirectToFrontend(c, "error=server_error")
		return
	}

	h.redirectToFrontend(c, "service=calendar")
}

func (h *httpHandler) redirectToFrontend(c *gin.Context, query string) {
	target := h.frontendURL + "/calendar"
	if query != "" {
		target += "?" + query
	}
	c.Redirect(http.StatusTemporaryRedirect, target)
}

type authCallbackPayload struct {
	AccessToken string `json:"access_token"`
	Service     string `json:"service"`
}

// handleAuthCallback links a PropelAuth-authenticated user to the Google
// tokens PropelAuth captured at social login. A user who never signed in with
// Google is a normal outcome, reported with its own tag and no write.
func (h *httpHandler) handleAuthCallback(c *gin.Context) {
	var payload authCallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no_access_token"})
		return
	}

	ctx := c.Request.Context()
	claims, err := h.verifier.Verify(ctx, payload.AccessToken)
	if err != nil {
		h.logger.Warn("callback bearer verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	tokens, err := h.providerTokens.FetchOAuthTokens(ctx, claims.Subject)
	if err != nil {
		h.logger.Error("provider token lookup failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "server_error"})
		return
	}
	if tokens == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "not_logged_in_with_google"})
		return
	}

	clientID, clientSecret := h.exchange.Credentials()
	record := &users.UserTokenRecord{
		UserID:          claims.Subject,
		Email:           firstNonEmpty(claims.Email, tokens.Email),
		DisplayName:     strings.TrimSpace(claims.FirstName + " " + claims.LastName),
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		TokenType:       "Bearer",
		TokenExpiration: tokens.ExpiresAtEpochS,
		Scope:           users.JoinScopes(tokens.Scopes),
		ClientID:        clientID,
		ClientSecret:    clientSecret,
	}
	record.HasCalendarAccess = record.HasScopes(calendar.RequiredScopes...)

	if err := h.store.Upsert(ctx, record); err != nil {
		h.logger.Error("token record upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user_id": claims.Subject})
}

// handleGetUser reports the caller's display identity. Custom first/last names
// override the provider-supplied display name once both are set.
func (h *httpHandler) handleGetUser(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	name := record.DisplayName
	hasCustomName := record.FirstName != "" && record.LastName != ""
	if hasCustomName {
		name = record.FirstName + " " + record.LastName
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":              record.UserID,
			"email":           record.Email,
			"name":            name,
			"first_name":      record.FirstName,
			"last_name":       record.LastName,
			"has_custom_name": hasCustomName,
		},
		"authenticated":       true,
		"has_calendar_access": record.HasCalendarAccess,
		"timezone":            record.Timezone,
	})
}

func (h *httpHandler) handleCalendarAccess(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_calendar_access": record.HasCalendarAccess})
}

// handleAdminTokens is the operator lookup: token metadata only, never the
// credential values themselves.
func (h *httpHandler) handleAdminTokens(c *gin.Context) {
	userID := c.Param("user_id")
	record, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("token record lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":                record.UserID,
		"email":                  record.Email,
		"name":                   record.DisplayName,
		"has_calendar_access":    record.HasCalendarAccess,
		"has_refresh_token":      record.RefreshToken != "",
		"has_client_credentials": record.ClientID != "" && record.ClientSecret != "",
		"token_scope":            record.Scope,
		"created_at":             record.CreatedAt,
		"updated_at":             record.UpdatedAt,
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
