package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/calendar"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/oauth"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
)

// errRefreshUnavailable means the stored token is unusable and no refresh is
// possible: the user has to re-link their calendar.
var errRefreshUnavailable = errors.New("refresh token or client credentials missing")

// withFreshToken runs one calendar call under the token-freshness protocol:
// refresh up front when the stored expiry has passed, and on a live 401
// refresh once and retry the same call once. Never more than one refresh and
// two calendar calls per inbound request.
func (h *httpHandler) withFreshToken(ctx context.Context, record *users.UserTokenRecord, call func(accessToken string) error) error {
	accessToken := record.AccessToken
	refreshed := false

	if record.TokenExpired(h.clock()) {
		fresh, err := h.refreshAndPersist(ctx, record)
		if err != nil {
			return err
		}
		accessToken = fresh
		refreshed = true
	}

	err := call(accessToken)
	if err == nil {
		return nil
	}
	if !calendar.IsUnauthorized(err) || refreshed {
		return err
	}

	fresh, refreshErr := h.refreshAndPersist(ctx, record)
	if refreshErr != nil {
		return refreshErr
	}
	return call(fresh)
}

// refreshAndPersist exchanges the stored refresh token for a new access token
// and persists it with the normalized absolute expiry. The refresh token
// column is only touched when the provider reissued one.
func (h *httpHandler) refreshAndPersist(ctx context.Context, record *users.UserTokenRecord) (string, error) {
	if record.RefreshToken == "" || record.ClientID == "" || record.ClientSecret == "" {
		return "", errRefreshUnavailable
	}

	result, err := h.exchange.RefreshAccessToken(ctx, record.RefreshToken, record.ClientID, record.ClientSecret)
	if err != nil {
		return "", err
	}

	fields := map[string]any{
		"access_token": result.AccessToken,
	}
	if !result.Expiry.IsZero() {
		fields["token_expiration_s"] = result.Expiry.Unix()
	}
	if result.RefreshToken != "" && result.RefreshToken != record.RefreshToken {
		fields["refresh_token"] = result.RefreshToken
	}
	if err := h.store.ApplyPartialUpdate(ctx, record.UserID, fields); err != nil {
		return "", err
	}

	record.AccessToken = result.AccessToken
	if !result.Expiry.IsZero() {
		record.TokenExpiration = result.Expiry.Unix()
	}
	if result.RefreshToken != "" {
		record.RefreshToken = result.RefreshToken
	}
	return result.AccessToken, nil
}

func (h *httpHandler) requestTimezone(c *gin.Context) string {
	if tz := strings.TrimSpace(c.GetHeader("X-Timezone")); tz != "" {
		return tz
	}
	return h.defaultTimezone
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	record := h.recordFromContext(c)
	timeZone := h.requestTimezone(c)

	var page calendar.EventsPage
	err := h.withFreshToken(c.Request.Context(), record, func(accessToken string) error {
		result, callErr := h.calendar.ListEvents(c.Request.Context(), accessToken, timeZone)
		if callErr != nil {
			return callErr
		}
		page = result
		return nil
	})
	if err != nil {
		h.respondCalendarError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	record := h.recordFromContext(c)
	timeZone := h.requestTimezone(c)

	var event gcal.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var created *gcal.Event
	err := h.withFreshToken(c.Request.Context(), record, func(accessToken string) error {
		result, callErr := h.calendar.CreateEvent(c.Request.Context(), accessToken, &event, timeZone)
		if callErr != nil {
			return callErr
		}
		created = result
		return nil
	})
	if err != nil {
		h.respondCalendarError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "event created",
		"event":    created,
		"timezone": timeZone,
	})
}

// respondCalendarError translates the failure taxonomy into an HTTP status and
// a short machine-readable reason. Provider detail stays in the logs.
func (h *httpHandler) respondCalendarError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errRefreshUnavailable):
		h.logger.Warn("calendar refresh unavailable", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "calendar_reauthorization_required"})
	case errors.Is(err, oauth.ErrRefreshFailed):
		h.logger.Warn("calendar token refresh failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "calendar_refresh_failed"})
	case calendar.IsUnauthorized(err), errors.Is(err, calendar.ErrCalendarUpstream):
		h.logger.Warn("calendar upstream call failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "calendar_upstream_error"})
	default:
		h.logger.Error("calendar request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
