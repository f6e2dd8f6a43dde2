package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsContextKey is where RequireSession stores the verified claims.
const ClaimsContextKey = "auth_claims"

// RequireSession validates the presented session token and injects its
// claims. The token arrives as an Authorization bearer header or, for
// clients that cannot set headers, a token query parameter. Expired and
// malformed tokens both terminate with 401; identity never comes from
// anything but the locally-issued session.
func RequireSession(sessions *SessionIssuer) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		presented := bearerToken(contextGin.Request)
		if presented == "" {
			presented = contextGin.Query("token")
		}
		if presented == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		claims, verifyErr := sessions.Verify(presented)
		if verifyErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_or_expired_token"})
			return
		}
		contextGin.Set(ClaimsContextKey, claims)
		contextGin.Next()
	}
}

func bearerToken(request *http.Request) string {
	header := request.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
