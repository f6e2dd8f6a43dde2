package authkit

import (
	"context"
	"time"
)

// UserDirectory persists user profiles keyed by provider id.
type UserDirectory interface {
	// UpsertLogin atomically creates the profile on first sight of
	// claims.ProviderID (setting CreatedAt = now) or updates email, display
	// name, avatar, and LastLoginAt on the existing record. Never keyed by
	// email. Must not create duplicates under concurrent calls.
	UpsertLogin(ctx context.Context, claims IdentityClaims, now time.Time) (UserProfile, error)
	// FindByProviderID returns the stored profile, or ErrProfileNotFound.
	FindByProviderID(ctx context.Context, providerID string) (UserProfile, error)
	// Ping reports backing-store connectivity for health checks.
	Ping(ctx context.Context) error
}
