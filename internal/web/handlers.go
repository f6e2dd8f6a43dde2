package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safelane/sauth/internal/authkit"
)

// HandleBanner reports that the service is up.
func HandleBanner() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"service": "sauth", "status": "running"})
	}
}

// HandleHealth reports store connectivity.
func HandleHealth(directory authkit.UserDirectory) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if pingErr := directory.Ping(contextGin.Request.Context()); pingErr != nil {
			contextGin.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "unreachable"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok", "store": "ok"})
	}
}

// HandleWhoAmI resolves the authenticated caller's profile. Identity comes
// from the session claims; the directory supplies the freshest profile.
func HandleWhoAmI(logger *zap.Logger, directory authkit.UserDirectory) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if directory == nil {
		panic("user directory is required")
	}

	return func(contextGin *gin.Context) {
		claimsValue, found := contextGin.Get(authkit.ClaimsContextKey)
		if !found {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, ok := claimsValue.(*authkit.SessionClaims)
		if !ok || claims == nil || claims.ProviderID() == "" {
			logger.Warn("invalid auth claims on context",
				zap.String("code", "api.me.invalid_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		profile, profileErr := directory.FindByProviderID(contextGin, claims.ProviderID())
		if profileErr != nil {
			if errors.Is(profileErr, authkit.ErrProfileNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.me.profile_missing"),
					zap.String("provider_id", claims.ProviderID()))
				contextGin.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.me.profile_error"),
				zap.String("provider_id", claims.ProviderID()),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		expiresAt := time.Time{}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id": claims.ProviderID(),
			"user":    profile,
			"expires": expiresAt,
		})
	}
}
