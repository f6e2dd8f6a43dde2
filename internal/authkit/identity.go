package authkit

import "time"

// IdentityClaims are the normalized claims extracted from a verified Google
// credential, independent of which flow produced them.
type IdentityClaims struct {
	ProviderID  string `json:"provider_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UserProfile is the directory record for one Google identity. ProviderID is
// the stable key; CreatedAt is written once, the rest on every login.
type UserProfile struct {
	ProviderID  string     `json:"provider_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// LoginResult is what a completed login attempt returns to the transport.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Profile   UserProfile `json:"user"`
}
