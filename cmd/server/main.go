package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/safelane/sauth/internal/authkit"
	"github.com/safelane/sauth/internal/authkitmongo"
	"github.com/safelane/sauth/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityVerifier = func(ctx context.Context, configuration authkit.ServerConfig) (*authkit.GoogleIdentityVerifier, error) {
	return authkit.NewGoogleIdentityVerifier(ctx, configuration)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "sauth",
		Short:   "Auth service with Google Sign-In verification, signed sessions, and a user profile directory",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret (code flow only)")
	rootCmd.Flags().String("google_redirect_url", "", "OAuth redirect URL registered with Google (code flow only)")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for session tokens")
	rootCmd.Flags().String("session_issuer", "sauth", "Issuer claim stamped on session tokens")
	rootCmd.Flags().Duration("session_ttl", 7*24*time.Hour, "Session token TTL")
	rootCmd.Flags().Duration("upstream_timeout", 8*time.Second, "Per-step timeout for Google and store calls")
	rootCmd.Flags().String("store_url", "", "Profile store URL (mongodb://, postgres://, or sqlite://; empty for in-memory)")
	rootCmd.Flags().String("mongo_database", "sauth", "Database name when store_url is mongodb://")
	rootCmd.Flags().String("mobile_redirect_url", "", "App deep link the callback redirects to; empty returns JSON")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("google_client_secret", rootCmd.Flags().Lookup("google_client_secret"))
	_ = viper.BindPFlag("google_redirect_url", rootCmd.Flags().Lookup("google_redirect_url"))
	_ = viper.BindPFlag("session_signing_key", rootCmd.Flags().Lookup("session_signing_key"))
	_ = viper.BindPFlag("session_issuer", rootCmd.Flags().Lookup("session_issuer"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("upstream_timeout", rootCmd.Flags().Lookup("upstream_timeout"))
	_ = viper.BindPFlag("store_url", rootCmd.Flags().Lookup("store_url"))
	_ = viper.BindPFlag("mongo_database", rootCmd.Flags().Lookup("mongo_database"))
	_ = viper.BindPFlag("mobile_redirect_url", rootCmd.Flags().Lookup("mobile_redirect_url"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingGoogleClientID   = "config.missing_google_client_id"
	configCodeMissingSigningKey       = "config.missing_session_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidUpstreamTimeout  = "config.invalid_upstream_timeout"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeVerifierInit            = "config.identity_verifier_init"
	configCodeStoreInit               = "config.store_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the externally supplied configuration surface.
func LoadServerConfig() (authkit.ServerConfig, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}

	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	upstreamTimeout := viper.GetDuration("upstream_timeout")
	if upstreamTimeout <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidUpstreamTimeout, "upstream_timeout must be greater than zero")
	}

	return authkit.ServerConfig{
		GoogleClientID:     googleClientID,
		GoogleClientSecret: viper.GetString("google_client_secret"),
		GoogleRedirectURL:  viper.GetString("google_redirect_url"),
		SessionSigningKey:  []byte(sessionSigningKey),
		SessionIssuerName:  viper.GetString("session_issuer"),
		SessionTTL:         sessionTTL,
		UpstreamTimeout:    upstreamTimeout,
		MobileRedirectURL:  viper.GetString("mobile_redirect_url"),
	}, nil
}

// buildUserDirectory selects the profile store by URL scheme.
func buildUserDirectory(ctx context.Context, storeURL string, mongoDatabase string) (authkit.UserDirectory, func(context.Context), string, error) {
	noop := func(context.Context) {}
	trimmed := strings.TrimSpace(storeURL)
	if trimmed == "" {
		return authkit.NewMemoryUserDirectory(), noop, "memory", nil
	}
	if strings.HasPrefix(trimmed, "mongodb://") || strings.HasPrefix(trimmed, "mongodb+srv://") {
		mongoDirectory, mongoErr := authkitmongo.New(ctx, trimmed, mongoDatabase)
		if mongoErr != nil {
			return nil, nil, "", mongoErr
		}
		closer := func(closeCtx context.Context) { _ = mongoDirectory.Close(closeCtx) }
		return mongoDirectory, closer, "mongo", nil
	}
	databaseDirectory, databaseErr := authkit.NewDatabaseUserDirectory(ctx, trimmed)
	if databaseErr != nil {
		return nil, nil, "", databaseErr
	}
	return databaseDirectory, noop, databaseDirectory.Driver(), nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	storeURL := viper.GetString("store_url")
	mongoDatabase := viper.GetString("mongo_database")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	directory, closeDirectory, driverLabel, directoryErr := buildUserDirectory(commandContext, storeURL, mongoDatabase)
	if directoryErr != nil {
		return fmt.Errorf("%s: %w", configCodeStoreInit, directoryErr)
	}
	defer closeDirectory(context.Background())
	logger.Info("using profile store", zap.String("driver", driverLabel))

	verifier, verifierErr := buildIdentityVerifier(commandContext, serverConfig)
	if verifierErr != nil {
		return fmt.Errorf("%s: %w", configCodeVerifierInit, verifierErr)
	}

	clock := authkit.NewSystemClock()
	sessions, sessionsErr := authkit.NewSessionIssuer(serverConfig.SessionSigningKey, serverConfig.SessionIssuerName, serverConfig.SessionTTL, clock)
	if sessionsErr != nil {
		return sessionsErr
	}
	states, statesErr := authkit.NewStateSigner(serverConfig.SessionSigningKey)
	if statesErr != nil {
		return statesErr
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRecorder, metricsErr := authkit.NewPrometheusMetrics(metricsRegistry)
	if metricsErr != nil {
		return metricsErr
	}

	authenticator, authenticatorErr := authkit.NewAuthenticator(verifier, directory, sessions, clock, logger, metricsRecorder, serverConfig.UpstreamTimeout)
	if authenticatorErr != nil {
		return authenticatorErr
	}

	authkit.MountAuthRoutes(router, serverConfig, authenticator, verifier, states)

	router.GET("/", web.HandleBanner())
	router.GET("/health", web.HandleHealth(directory))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})))

	protected := router.Group("/api")
	protected.Use(authkit.RequireSession(sessions))
	protected.GET("/me", web.HandleWhoAmI(logger, directory))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
