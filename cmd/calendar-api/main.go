package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/auth"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/calendar"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/config"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/database"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/logging"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/oauth"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/server"
	"github.com/Xpectrum-AI/admin-panel/calendar-backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	// Credential overrides may live in a local .env during development.
	if _, err := os.Stat(".env"); err == nil {
		_ = gotenv.Load(".env")
	}

	rootCmd := &cobra.Command{
		Use:   "calendar-api",
		Short: "Google Calendar OAuth backend for the admin panel",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("frontend-url", defaults.GetString("frontend.url"), "Admin panel base URL for redirects")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-client-secret", "", "Google OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("google-redirect-uri", defaults.GetString("google.redirect_uri"), "Google OAuth redirect URI")
	cmd.PersistentFlags().String("propelauth-url", defaults.GetString("propelauth.url"), "PropelAuth environment URL")
	cmd.PersistentFlags().String("propelauth-api-key", "", "PropelAuth backend API key (overrides env)")
	cmd.PersistentFlags().String("default-timezone", defaults.GetString("calendar.default_timezone"), "Fallback IANA timezone for calendar queries")
	cmd.PersistentFlags().Int64("max-events", defaults.GetInt64("calendar.max_events"), "Maximum events returned per calendar query")
	cmd.PersistentFlags().Int("upstream-timeout", defaults.GetInt("upstream.timeout_seconds"), "Outbound HTTP timeout in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "frontend.url", "frontend-url")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.client_secret", "google-client-secret")
	bindFlag(cmd, "google.redirect_uri", "google-redirect-uri")
	bindFlag(cmd, "propelauth.url", "propelauth-url")
	bindFlag(cmd, "propelauth.api_key", "propelauth-api-key")
	bindFlag(cmd, "calendar.default_timezone", "default-timezone")
	bindFlag(cmd, "calendar.max_events", "max-events")
	bindFlag(cmd, "upstream.timeout_seconds", "upstream-timeout")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	upstreamClient := &http.Client{Timeout: appConfig.UpstreamTimeout}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		AuthURL:    appConfig.PropelAuthURL,
		HTTPClient: upstreamClient,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	backendClient, err := auth.NewBackendClient(auth.BackendClientConfig{
		AuthURL:    appConfig.PropelAuthURL,
		APIKey:     appConfig.PropelAuthAPIKey,
		HTTPClient: upstreamClient,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	exchangeClient, err := oauth.NewExchangeClient(oauth.ExchangeClientConfig{
		ClientID:     appConfig.GoogleClientID,
		ClientSecret: appConfig.GoogleClientSecret,
		RedirectURL:  appConfig.GoogleRedirectURI,
		Scopes:       calendar.RequiredScopes,
		HTTPClient:   upstreamClient,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	calendarClient := calendar.NewClient(calendar.ClientConfig{
		MaxEvents: appConfig.MaxCalendarEvents,
		Timeout:   appConfig.UpstreamTimeout,
		Logger:    logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:        verifier,
		ProviderTokens:  backendClient,
		Exchange:        exchangeClient,
		Calendar:        calendarClient,
		Store:           store,
		Logger:          logger,
		FrontendURL:     appConfig.FrontendURL,
		DefaultTimezone: appConfig.DefaultTimezone,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
