package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are embedded in the locally-signed session token. Subject
// carries the provider id; the rest is convenience for downstream handlers.
type SessionClaims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// ProviderID returns the stable Google identity the session binds to.
func (claims *SessionClaims) ProviderID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// SessionIssuer mints and verifies HS256 session tokens. Tokens are
// stateless: never persisted, validated purely by signature and expiry.
type SessionIssuer struct {
	signingKey []byte
	issuerName string
	ttl        time.Duration
	clock      Clock
}

// NewSessionIssuer constructs a SessionIssuer after validating its inputs.
func NewSessionIssuer(signingKey []byte, issuerName string, ttl time.Duration, clock Clock) (*SessionIssuer, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("session.issuer.new: signing key must be non-empty")
	}
	if strings.TrimSpace(issuerName) == "" {
		return nil, fmt.Errorf("session.issuer.new: issuer name must be non-empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session.issuer.new: ttl must be greater than zero")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &SessionIssuer{
		signingKey: signingKey,
		issuerName: issuerName,
		ttl:        ttl,
		clock:      clock,
	}, nil
}

// Issue signs a session token with subject = providerID and a single
// process-wide TTL. Returns the token and its expiry.
func (issuer *SessionIssuer) Issue(providerID string, email string, displayName string, avatarURL string) (string, time.Time, error) {
	if strings.TrimSpace(providerID) == "" {
		return "", time.Time{}, fmt.Errorf("session.issue: subject must be non-empty")
	}
	issuedAt := issuer.clock.Now()
	expiresAt := issuedAt.Add(issuer.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer.issuerName,
			Subject:   providerID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(issuer.signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("session.issue: %w", signErr)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token, returning its claims.
// Expiry maps to ErrSessionExpired, everything else to ErrSessionInvalid.
func (issuer *SessionIssuer) Verify(tokenString string) (*SessionClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.verify: %w", ErrSessionInvalid)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return issuer.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return issuer.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.verify: %w", ErrSessionExpired)
		}
		return nil, fmt.Errorf("session.verify: %w", ErrSessionInvalid)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.verify: %w", ErrSessionInvalid)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("session.verify: %w", ErrSessionInvalid)
	}
	if claims.Issuer != issuer.issuerName {
		return nil, fmt.Errorf("session.verify: %w", ErrSessionInvalid)
	}
	return claims, nil
}
