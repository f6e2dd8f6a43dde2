package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap/zaptest"

	"github.com/safelane/sauth/internal/authkit"
)

func setRequiredConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("google_client_id", "client-id.apps.googleusercontent.com")
	viper.Set("session_signing_key", "test-signing-key")
	viper.Set("session_issuer", "sauth")
	viper.Set("session_ttl", 7*24*time.Hour)
	viper.Set("upstream_timeout", 8*time.Second)
}

func TestLoadServerConfigSucceeds(t *testing.T) {
	setRequiredConfig(t)
	viper.Set("google_client_secret", "secret")
	viper.Set("google_redirect_url", "https://auth.example.com/auth/callback")
	viper.Set("mobile_redirect_url", "app://auth")

	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		t.Fatalf("unexpected load error: %v", loadErr)
	}
	if serverConfig.GoogleClientID != "client-id.apps.googleusercontent.com" {
		t.Fatalf("unexpected google client id: %q", serverConfig.GoogleClientID)
	}
	if string(serverConfig.SessionSigningKey) != "test-signing-key" {
		t.Fatalf("unexpected signing key")
	}
	if serverConfig.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl: %v", serverConfig.SessionTTL)
	}
	if serverConfig.MobileRedirectURL != "app://auth" {
		t.Fatalf("unexpected mobile redirect url: %q", serverConfig.MobileRedirectURL)
	}
}

func TestLoadServerConfigValidation(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func()
		wantCode string
	}{
		{
			name:     "missing google client id",
			mutate:   func() { viper.Set("google_client_id", "") },
			wantCode: configCodeMissingGoogleClientID,
		},
		{
			name:     "missing signing key",
			mutate:   func() { viper.Set("session_signing_key", "") },
			wantCode: configCodeMissingSigningKey,
		},
		{
			name:     "non-positive session ttl",
			mutate:   func() { viper.Set("session_ttl", time.Duration(0)) },
			wantCode: configCodeInvalidSessionTTL,
		},
		{
			name:     "non-positive upstream timeout",
			mutate:   func() { viper.Set("upstream_timeout", -time.Second) },
			wantCode: configCodeInvalidUpstreamTimeout,
		},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			setRequiredConfig(t)
			testCase.mutate()
			_, loadErr := LoadServerConfig()
			if loadErr == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(loadErr.Error(), testCase.wantCode) {
				t.Fatalf("expected code %q, got %v", testCase.wantCode, loadErr)
			}
		})
	}
}

func TestBuildUserDirectorySelectsBackendByScheme(t *testing.T) {
	ctx := context.Background()

	memoryDirectory, closeMemory, memoryLabel, memoryErr := buildUserDirectory(ctx, "", "sauth")
	if memoryErr != nil {
		t.Fatalf("unexpected memory backend error: %v", memoryErr)
	}
	defer closeMemory(ctx)
	if memoryLabel != "memory" {
		t.Fatalf("expected memory label, got %q", memoryLabel)
	}
	if memoryDirectory == nil {
		t.Fatalf("expected a directory instance")
	}

	sqlitePath := filepath.Join(t.TempDir(), "profiles.db")
	sqliteDirectory, closeSQLite, sqliteLabel, sqliteErr := buildUserDirectory(ctx, "sqlite://"+sqlitePath, "sauth")
	if sqliteErr != nil {
		t.Fatalf("unexpected sqlite backend error: %v", sqliteErr)
	}
	defer closeSQLite(ctx)
	if sqliteLabel != "sqlite" {
		t.Fatalf("expected sqlite label, got %q", sqliteLabel)
	}
	if pingErr := sqliteDirectory.Ping(ctx); pingErr != nil {
		t.Fatalf("expected sqlite backend to be reachable: %v", pingErr)
	}

	if _, _, _, unsupportedErr := buildUserDirectory(ctx, "redis://localhost:6379", "sauth"); unsupportedErr == nil {
		t.Fatalf("expected error for unsupported store scheme")
	}
}

func TestRunServerRequiresPreparedConfig(t *testing.T) {
	setRequiredConfig(t)

	command := newRootCommand()
	command.SetContext(context.Background())
	runErr := runServer(command, nil)
	if runErr == nil {
		t.Fatalf("expected error without prepared config")
	}
	if !strings.Contains(runErr.Error(), configCodeUninitializedServerConf) {
		t.Fatalf("expected %q, got %v", configCodeUninitializedServerConf, runErr)
	}
}

func TestPrepareServerConfigStoresConfigOnContext(t *testing.T) {
	setRequiredConfig(t)

	command := newRootCommand()
	if prepareErr := prepareServerConfig(command, nil); prepareErr != nil {
		t.Fatalf("unexpected prepare error: %v", prepareErr)
	}
	stored := command.Context().Value(serverConfigContextKey)
	serverConfig, ok := stored.(authkit.ServerConfig)
	if !ok {
		t.Fatalf("expected server config on command context, got %T", stored)
	}
	if serverConfig.GoogleClientID == "" {
		t.Fatalf("expected populated config on context")
	}
}

func TestPrepareServerConfigPropagatesValidationError(t *testing.T) {
	setRequiredConfig(t)
	viper.Set("session_signing_key", "")

	command := newRootCommand()
	if prepareErr := prepareServerConfig(command, nil); prepareErr == nil {
		t.Fatalf("expected validation error")
	}
}

func TestZapLoggerMiddlewarePassesRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t)))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, "pong")
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "pong" {
		t.Fatalf("expected body to pass through, got %q", recorder.Body.String())
	}
}
