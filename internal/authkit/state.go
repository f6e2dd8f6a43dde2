package authkit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// StateSigner issues and verifies HMAC-signed state values for the
// authorization-code flow, protecting the callback against CSRF without
// server-side storage.
type StateSigner struct {
	key []byte
}

// NewStateSigner constructs a StateSigner from the shared secret.
func NewStateSigner(key []byte) (*StateSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("state.new: signing key must be non-empty")
	}
	return &StateSigner{key: key}, nil
}

// Issue generates a random state value and appends its signature.
func (signer *StateSigner) Issue() (string, error) {
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("state.issue: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(randomBytes)
	return raw + "." + signer.sign(raw), nil
}

// Verify reports whether the state value carries a valid signature.
func (signer *StateSigner) Verify(state string) bool {
	separator := strings.LastIndex(state, ".")
	if separator <= 0 || separator == len(state)-1 {
		return false
	}
	raw := state[:separator]
	presented := state[separator+1:]
	return hmac.Equal([]byte(signer.sign(raw)), []byte(presented))
}

func (signer *StateSigner) sign(raw string) string {
	mac := hmac.New(sha256.New, signer.key)
	mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
