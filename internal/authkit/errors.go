package authkit

import "errors"

var (
	// ErrInvalidCredential indicates the presented Google credential failed
	// signature, issuer, audience, or expiry checks, or the code exchange was
	// rejected. The attempt is abandoned and must not be retried as-is.
	ErrInvalidCredential = errors.New("auth.invalid_credential")
	// ErrIdentityUnavailable indicates Google's endpoints could not be reached
	// or the key set could not be fetched. The whole login may be retried.
	ErrIdentityUnavailable = errors.New("auth.identity_unavailable")
	// ErrDirectoryUnavailable indicates the user directory's backing store
	// failed or timed out. The whole login may be retried.
	ErrDirectoryUnavailable = errors.New("auth.directory_unavailable")
	// ErrProfileNotFound indicates no profile exists for the provider id.
	ErrProfileNotFound = errors.New("auth.profile_not_found")
	// ErrSessionExpired indicates the session token's expiry has passed.
	ErrSessionExpired = errors.New("session.expired")
	// ErrSessionInvalid indicates the session token's signature or structure
	// is malformed, or its issuer is not this service.
	ErrSessionInvalid = errors.New("session.invalid")
)
