package authkit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// ConsentURLBuilder builds the identity provider's authorization URL for the
// redirect step of the code flow.
type ConsentURLBuilder interface {
	AuthCodeURL(state string) string
}

// MountAuthRoutes registers /auth/login, /auth/callback, and /api/auth/google.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, authenticator *Authenticator, consent ConsentURLBuilder, states *StateSigner) {
	router.GET("/auth/login", func(contextGin *gin.Context) {
		state, stateErr := states.Issue()
		if stateErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "state_generation_failed"})
			return
		}
		contextGin.Redirect(http.StatusFound, consent.AuthCodeURL(state))
	})

	handleCallback := func(contextGin *gin.Context) {
		code := contextGin.Query("code")
		if code == "" {
			code = contextGin.PostForm("code")
		}
		state := contextGin.Query("state")
		if state == "" {
			state = contextGin.PostForm("state")
		}
		if strings.TrimSpace(code) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
			return
		}
		if !states.Verify(state) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
			return
		}

		result, loginErr := authenticator.LoginWithCode(contextGin.Request.Context(), code)
		if loginErr != nil {
			respondLoginError(contextGin, loginErr)
			return
		}

		if configuration.MobileRedirectURL != "" {
			redirectTo, redirectErr := buildMobileRedirect(configuration.MobileRedirectURL, result)
			if redirectErr != nil {
				contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "redirect_encoding_failed"})
				return
			}
			contextGin.Redirect(http.StatusFound, redirectTo)
			return
		}
		contextGin.JSON(http.StatusOK, result)
	}
	router.GET("/auth/callback", handleCallback)
	router.POST("/auth/callback", handleCallback)

	router.POST("/api/auth/google", func(contextGin *gin.Context) {
		var inbound struct {
			IDToken string `json:"id_token"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.IDToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		result, loginErr := authenticator.LoginWithIDToken(contextGin.Request.Context(), inbound.IDToken)
		if loginErr != nil {
			respondLoginError(contextGin, loginErr)
			return
		}
		contextGin.JSON(http.StatusOK, result)
	})
}

// respondLoginError maps the error taxonomy onto transport statuses:
// rejected credentials are the caller's fault and final, upstream and store
// failures are retryable server-side conditions.
func respondLoginError(contextGin *gin.Context, loginErr error) {
	switch {
	case errors.Is(loginErr, ErrInvalidCredential):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
	case errors.Is(loginErr, ErrIdentityUnavailable):
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "identity_provider_unavailable"})
	case errors.Is(loginErr, ErrDirectoryUnavailable):
		contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}

// buildMobileRedirect encodes the login result onto the app's deep link so
// the mobile client can capture the session after the browser round trip.
func buildMobileRedirect(redirectBase string, result LoginResult) (string, error) {
	profileJSON, encodeErr := json.Marshal(result.Profile)
	if encodeErr != nil {
		return "", encodeErr
	}
	parameters := url.Values{}
	parameters.Set("token", result.Token)
	parameters.Set("user", string(profileJSON))
	separator := "?"
	if strings.Contains(redirectBase, "?") {
		separator = "&"
	}
	return redirectBase + separator + parameters.Encode(), nil
}
