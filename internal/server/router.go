package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/auth"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/calendar"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/oauth"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
)

const userRecordContextKey = "calendar_user_record"

var (
	errMissingVerifier      = errors.New("identity verifier dependency required")
	errMissingTokenFetcher  = errors.New("provider token fetcher dependency required")
	errMissingExchanger     = errors.New("token exchanger dependency required")
	errMissingCalendarAPI   = errors.New("calendar client dependency required")
	errMissingTokenStore    = errors.New("token store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates a PropelAuth bearer credential.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// ProviderTokenFetcher looks up Google tokens PropelAuth captured for a user.
type ProviderTokenFetcher interface {
	FetchOAuthTokens(ctx context.Context, userID string) (*auth.ProviderTokens, error)
}

// TokenExchanger performs Google token-endpoint operations.
type TokenExchanger interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (oauth.TokenResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientSecret string) (oauth.TokenResult, error)
	FetchUserInfo(ctx context.Context, accessToken string) (oauth.UserInfo, error)
	Credentials() (clientID, clientSecret string)
}

// CalendarAPI proxies Google Calendar operations with a live access token.
type CalendarAPI interface {
	ListEvents(ctx context.Context, accessToken, timeZone string) (calendar.EventsPage, error)
	CreateEvent(ctx context.Context, accessToken string, event *gcal.Event, timeZone string) (*gcal.Event, error)
}

// TokenStore persists user token records keyed by user id.
type TokenStore interface {
	Upsert(ctx context.Context, record *users.UserTokenRecord) error
	Get(ctx context.Context, userID string) (*users.UserTokenRecord, error)
	ApplyPartialUpdate(ctx context.Context, userID string, fields map[string]any) error
}

// Dependencies wires the orchestrator's collaborators into the HTTP layer.
type Dependencies struct {
	Verifier        IdentityVerifier
	ProviderTokens  ProviderTokenFetcher
	Exchange        TokenExchanger
	Calendar        CalendarAPI
	Store           TokenStore
	Logger          *zap.Logger
	FrontendURL     string
	DefaultTimezone string
	Clock           func() time.Time
}

// NewHTTPHandler validates dependencies and assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.ProviderTokens == nil {
		return nil, errMissingTokenFetcher
	}
	if deps.Exchange == nil {
		return nil, errMissingExchanger
	}
	if deps.Calendar == nil {
		return nil, errMissingCalendarAPI
	}
	if deps.Store == nil {
		return nil, errMissingTokenStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	defaultTimezone := strings.TrimSpace(deps.DefaultTimezone)
	if defaultTimezone == "" {
		defaultTimezone = "America/New_York"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Timezone"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:        deps.Verifier,
		providerTokens:  deps.ProviderTokens,
		exchange:        deps.Exchange,
		calendar:        deps.Calendar,
		store:           deps.Store,
		logger:          logger,
		frontendURL:     strings.TrimRight(deps.FrontendURL, "/"),
		defaultTimezone: defaultTimezone,
		clock:           clock,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/timezone/options", handler.handleTimezoneOptions)
	router.GET("/auth/google/calendar", handler.handleCalendarAuthURL)
	router.GET("/auth/google/callback", handler.handleGoogleCallback)
	router.POST("/auth/callback", handler.handleAuthCallback)
	router.GET("/users/:user_id/tokens", handler.handleAdminTokens)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/user", handler.handleGetUser)
	protected.GET("/calendar/access", handler.handleCalendarAccess)
	protected.POST("/update-user-names", handler.handleUpdateNames)
	protected.POST("/update-user-timezone", handler.handleUpdateTimezone)
	protected.GET("/welcome-form/status", handler.handleWelcomeFormStatus)
	protected.POST("/welcome-form/submit", handler.handleWelcomeFormSubmit)

	calendarRoutes := protected.Group("/calendar")
	calendarRoutes.Use(handler.requireCalendarScopes)
	calendarRoutes.GET("/events", handler.handleListEvents)
	calendarRoutes.POST("/events", handler.handleCreateEvent)

	return router, nil
}

type httpHandler struct {
	verifier        IdentityVerifier
	providerTokens  ProviderTokenFetcher
	exchange        TokenExchanger
	calendar        CalendarAPI
	store           TokenStore
	logger          *zap.Logger
	frontendURL     string
	defaultTimezone string
	clock           func() time.Time
}

// authorizeRequest moves the request from Unauthenticated to Authenticated:
// bearer credential verified against the identity provider, then the token
// record loaded by the verified subject. A subject with no record is not
// provisioned and stays unauthorized.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("bearer verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	record, err := h.store.Get(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_not_provisioned"})
			return
		}
		h.logger.Error("token record lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.Set(userRecordContextKey, record)
	c.Next()
}

// requireCalendarScopes gates the Calendar-Authorized transition. The granted
// scope set is recomputed from the record; the cached boolean is not trusted
// because grants can change out of band.
func (h *httpHandler) requireCalendarScopes(c *gin.Context) {
	record := h.recordFromContext(c)
	if record == nil || !record.HasScopes(calendar.RequiredScopes...) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "calendar_access_not_granted"})
		return
	}
	c.Next()
}

func (h *httpHandler) recordFromContext(c *gin.Context) *users.UserTokenRecord {
	value, ok := c.Get(userRecordContextKey)
	if !ok {
		return nil
	}
	record, ok := value.(*users.UserTokenRecord)
	if !ok {
		return nil
	}
	return record
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "calendar-backend",
	})
}
