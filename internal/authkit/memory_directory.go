package authkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryUserDirectory is an in-memory UserDirectory for tests and dev runs.
type MemoryUserDirectory struct {
	mutex    sync.Mutex
	profiles map[string]UserProfile
}

// NewMemoryUserDirectory creates an empty in-memory directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{profiles: make(map[string]UserProfile)}
}

// UpsertLogin creates or updates the profile under the mutex, so concurrent
// logins for the same provider id cannot race a duplicate create.
func (directory *MemoryUserDirectory) UpsertLogin(ctx context.Context, claims IdentityClaims, now time.Time) (UserProfile, error) {
	if claims.ProviderID == "" {
		return UserProfile{}, fmt.Errorf("memory_directory.upsert: provider id must be non-empty")
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()

	lastLogin := now
	record, exists := directory.profiles[claims.ProviderID]
	if !exists {
		record = UserProfile{
			ProviderID: claims.ProviderID,
			CreatedAt:  now,
		}
	}
	record.Email = claims.Email
	record.DisplayName = claims.DisplayName
	record.AvatarURL = claims.AvatarURL
	record.LastLoginAt = &lastLogin
	directory.profiles[claims.ProviderID] = record
	return record, nil
}

// FindByProviderID returns the stored profile, or ErrProfileNotFound.
func (directory *MemoryUserDirectory) FindByProviderID(ctx context.Context, providerID string) (UserProfile, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	record, exists := directory.profiles[providerID]
	if !exists {
		return UserProfile{}, fmt.Errorf("memory_directory.find: %w", ErrProfileNotFound)
	}
	return record, nil
}

// Ping always succeeds for the in-memory directory.
func (directory *MemoryUserDirectory) Ping(ctx context.Context) error {
	return nil
}

// Count returns the number of stored profiles. Test helper.
func (directory *MemoryUserDirectory) Count() int {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	return len(directory.profiles)
}
