package authkit

import "time"

// ServerConfig configures the Google client, session signing, and timeouts.
type ServerConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	SessionSigningKey  []byte
	SessionIssuerName  string
	SessionTTL         time.Duration
	UpstreamTimeout    time.Duration
	MobileRedirectURL  string
}
