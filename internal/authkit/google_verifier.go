package authkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	googleendpoint "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/idtoken"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// IdentityVerifier verifies client-supplied Google credential material and
// returns normalized identity claims.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (IdentityClaims, error)
	ExchangeCode(ctx context.Context, code string) (IdentityClaims, error)
}

// IDTokenValidator abstracts idtoken.Validator so tests can substitute fakes.
type IDTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

var trustedGoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleIdentityVerifier implements both supported input modes: direct ID
// token verification against Google's published keys, and the server-side
// authorization-code exchange followed by a userinfo fetch.
type GoogleIdentityVerifier struct {
	tokenValidator  IDTokenValidator
	oauthConfig     *oauth2.Config
	userinfoOptions []option.ClientOption
}

// NewGoogleIdentityVerifier constructs the production verifier. The idtoken
// validator caches Google's key set between calls.
func NewGoogleIdentityVerifier(ctx context.Context, configuration ServerConfig) (*GoogleIdentityVerifier, error) {
	if strings.TrimSpace(configuration.GoogleClientID) == "" {
		return nil, fmt.Errorf("google_verifier.new: client id must be non-empty")
	}
	tokenValidator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, fmt.Errorf("google_verifier.new: %w", validatorErr)
	}
	return &GoogleIdentityVerifier{
		tokenValidator: tokenValidator,
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.GoogleClientID,
			ClientSecret: configuration.GoogleClientSecret,
			RedirectURL:  configuration.GoogleRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleendpoint.Endpoint,
		},
	}, nil
}

// AuthCodeURL builds the Google consent page URL carrying the signed state.
func (verifier *GoogleIdentityVerifier) AuthCodeURL(state string) string {
	return verifier.oauthConfig.AuthCodeURL(state)
}

// VerifyIDToken validates signature, issuer, audience, and expiry, then
// normalizes the payload claims.
func (verifier *GoogleIdentityVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) (IdentityClaims, error) {
	if strings.TrimSpace(rawIDToken) == "" {
		return IdentityClaims{}, fmt.Errorf("google_verifier.id_token: %w", ErrInvalidCredential)
	}
	payload, validateErr := verifier.tokenValidator.Validate(ctx, rawIDToken, verifier.oauthConfig.ClientID)
	if validateErr != nil {
		return IdentityClaims{}, fmt.Errorf("google_verifier.id_token: %w", classifyUpstreamError(validateErr))
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if !isTrustedIssuer(issuerValue) {
		return IdentityClaims{}, fmt.Errorf("google_verifier.id_token.issuer: %w", ErrInvalidCredential)
	}
	providerID, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	displayName, _ := payload.Claims["name"].(string)
	avatarURL, _ := payload.Claims["picture"].(string)
	if providerID == "" || userEmail == "" {
		return IdentityClaims{}, fmt.Errorf("google_verifier.id_token.claims: %w", ErrInvalidCredential)
	}
	return IdentityClaims{
		ProviderID:  providerID,
		Email:       userEmail,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	}, nil
}

// ExchangeCode trades an authorization code for an access token, then fetches
// the profile from Google's userinfo endpoint.
func (verifier *GoogleIdentityVerifier) ExchangeCode(ctx context.Context, code string) (IdentityClaims, error) {
	if strings.TrimSpace(code) == "" {
		return IdentityClaims{}, fmt.Errorf("google_verifier.exchange: %w", ErrInvalidCredential)
	}
	exchangedToken, exchangeErr := verifier.oauthConfig.Exchange(ctx, code)
	if exchangeErr != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(exchangeErr, &retrieveErr) {
			return IdentityClaims{}, fmt.Errorf("google_verifier.exchange: %w", ErrInvalidCredential)
		}
		return IdentityClaims{}, fmt.Errorf("google_verifier.exchange: %w", classifyUpstreamError(exchangeErr))
	}

	serviceOptions := append([]option.ClientOption{
		option.WithTokenSource(verifier.oauthConfig.TokenSource(ctx, exchangedToken)),
	}, verifier.userinfoOptions...)
	userinfoService, serviceErr := goauth2.NewService(ctx, serviceOptions...)
	if serviceErr != nil {
		return IdentityClaims{}, fmt.Errorf("google_verifier.userinfo: %w", classifyUpstreamError(serviceErr))
	}
	userinfo, fetchErr := userinfoService.Userinfo.Get().Context(ctx).Do()
	if fetchErr != nil {
		var apiErr *googleapi.Error
		if errors.As(fetchErr, &apiErr) && apiErr.Code < 500 {
			return IdentityClaims{}, fmt.Errorf("google_verifier.userinfo: %w", ErrInvalidCredential)
		}
		return IdentityClaims{}, fmt.Errorf("google_verifier.userinfo: %w", classifyUpstreamError(fetchErr))
	}
	if userinfo.Id == "" || userinfo.Email == "" {
		return IdentityClaims{}, fmt.Errorf("google_verifier.userinfo.claims: %w", ErrInvalidCredential)
	}
	return IdentityClaims{
		ProviderID:  userinfo.Id,
		Email:       userinfo.Email,
		DisplayName: userinfo.Name,
		AvatarURL:   userinfo.Picture,
	}, nil
}

func isTrustedIssuer(issuerValue string) bool {
	for _, trusted := range trustedGoogleIssuers {
		if issuerValue == trusted {
			return true
		}
	}
	return false
}

// classifyUpstreamError separates transport failures, which the caller may
// retry, from credential rejections, which it must not.
func classifyUpstreamError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrIdentityUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrIdentityUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrIdentityUnavailable
	}
	return ErrInvalidCredential
}
