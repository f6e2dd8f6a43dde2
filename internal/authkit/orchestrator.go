package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultUpstreamTimeout = 8 * time.Second

// Authenticator runs one login attempt as a single pass: verify the Google
// credential, reconcile the profile, issue a session. Each step's failure
// terminates the attempt; a session is never issued before a successful
// upsert, so failed attempts leave no session behind.
type Authenticator struct {
	verifier        IdentityVerifier
	directory       UserDirectory
	sessions        *SessionIssuer
	clock           Clock
	logger          *zap.Logger
	metrics         MetricsRecorder
	upstreamTimeout time.Duration
}

// NewAuthenticator wires the orchestrator from injected collaborators.
func NewAuthenticator(verifier IdentityVerifier, directory UserDirectory, sessions *SessionIssuer, clock Clock, logger *zap.Logger, metrics MetricsRecorder, upstreamTimeout time.Duration) (*Authenticator, error) {
	if verifier == nil {
		return nil, fmt.Errorf("authenticator.new: identity verifier is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("authenticator.new: user directory is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("authenticator.new: session issuer is required")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	if upstreamTimeout <= 0 {
		upstreamTimeout = defaultUpstreamTimeout
	}
	return &Authenticator{
		verifier:        verifier,
		directory:       directory,
		sessions:        sessions,
		clock:           clock,
		logger:          logger,
		metrics:         metrics,
		upstreamTimeout: upstreamTimeout,
	}, nil
}

// LoginWithIDToken authenticates a client-supplied Google ID token.
func (authenticator *Authenticator) LoginWithIDToken(ctx context.Context, rawIDToken string) (LoginResult, error) {
	return authenticator.login(ctx, "id_token", func(stepCtx context.Context) (IdentityClaims, error) {
		return authenticator.verifier.VerifyIDToken(stepCtx, rawIDToken)
	})
}

// LoginWithCode authenticates an authorization code from the redirect flow.
func (authenticator *Authenticator) LoginWithCode(ctx context.Context, code string) (LoginResult, error) {
	return authenticator.login(ctx, "code", func(stepCtx context.Context) (IdentityClaims, error) {
		return authenticator.verifier.ExchangeCode(stepCtx, code)
	})
}

func (authenticator *Authenticator) login(ctx context.Context, flowLabel string, verifyStep func(context.Context) (IdentityClaims, error)) (LoginResult, error) {
	verifyCtx, verifyCancel := context.WithTimeout(ctx, authenticator.upstreamTimeout)
	claims, verifyErr := verifyStep(verifyCtx)
	verifyCancel()
	if verifyErr != nil {
		authenticator.recordFailure(flowLabel, verifyErr)
		return LoginResult{}, verifyErr
	}

	upsertCtx, upsertCancel := context.WithTimeout(ctx, authenticator.upstreamTimeout)
	profile, upsertErr := authenticator.directory.UpsertLogin(upsertCtx, claims, authenticator.clock.Now())
	upsertCancel()
	if upsertErr != nil {
		mapped := mapDirectoryError(upsertErr)
		authenticator.recordFailure(flowLabel, mapped)
		return LoginResult{}, mapped
	}

	token, expiresAt, issueErr := authenticator.sessions.Issue(profile.ProviderID, profile.Email, profile.DisplayName, profile.AvatarURL)
	if issueErr != nil {
		authenticator.recordFailure(flowLabel, issueErr)
		return LoginResult{}, fmt.Errorf("authenticator.issue: %w", issueErr)
	}

	authenticator.metrics.Increment("login." + flowLabel + ".ok")
	authenticator.logger.Info("login succeeded",
		zap.String("flow", flowLabel),
		zap.String("provider_id", profile.ProviderID),
	)
	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Profile:   profile,
	}, nil
}

func (authenticator *Authenticator) recordFailure(flowLabel string, err error) {
	kind := "internal"
	switch {
	case errors.Is(err, ErrInvalidCredential):
		kind = "invalid_credential"
	case errors.Is(err, ErrIdentityUnavailable):
		kind = "identity_unavailable"
	case errors.Is(err, ErrDirectoryUnavailable):
		kind = "directory_unavailable"
	}
	authenticator.metrics.Increment("login." + flowLabel + "." + kind)
	authenticator.logger.Warn("login failed",
		zap.String("flow", flowLabel),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// mapDirectoryError folds timeouts and raw store failures into the
// directory-unavailable kind the transport layer responds on.
func mapDirectoryError(err error) error {
	if errors.Is(err, ErrDirectoryUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("authenticator.upsert: %w", ErrDirectoryUnavailable)
	}
	return fmt.Errorf("authenticator.upsert: %w: %s", ErrDirectoryUnavailable, err.Error())
}
