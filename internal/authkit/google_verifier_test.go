package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

type fakeIDTokenValidator struct {
	payloads         map[string]*idtoken.Payload
	validateErr      error
	expectedAudience string
}

func (fake *fakeIDTokenValidator) Validate(ctx context.Context, idTokenValue string, audience string) (*idtoken.Payload, error) {
	if fake.validateErr != nil {
		return nil, fake.validateErr
	}
	if fake.expectedAudience != "" && audience != fake.expectedAudience {
		return nil, fmt.Errorf("audience mismatch: %s", audience)
	}
	payload, ok := fake.payloads[idTokenValue]
	if !ok {
		return nil, fmt.Errorf("token signature invalid")
	}
	return payload, nil
}

func newVerifierWithFakeValidator(fake *fakeIDTokenValidator) *GoogleIdentityVerifier {
	return &GoogleIdentityVerifier{
		tokenValidator: fake,
		oauthConfig: &oauth2.Config{
			ClientID: "client-id",
			Scopes:   []string{"openid", "email", "profile"},
		},
	}
}

func googlePayload(sub string, email string, name string, picture string) *idtoken.Payload {
	return &idtoken.Payload{
		Claims: map[string]interface{}{
			"iss":     "https://accounts.google.com",
			"sub":     sub,
			"email":   email,
			"name":    name,
			"picture": picture,
		},
	}
}

func TestVerifyIDTokenNormalizesClaims(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{
		payloads: map[string]*idtoken.Payload{
			"valid-token": googlePayload("g123", "a@x.com", "A", "https://avatar.example/a.png"),
		},
		expectedAudience: "client-id",
	})

	claims, verifyErr := verifier.VerifyIDToken(context.Background(), "valid-token")
	if verifyErr != nil {
		t.Fatalf("unexpected error: %v", verifyErr)
	}
	if claims.ProviderID != "g123" {
		t.Fatalf("expected provider id g123, got %q", claims.ProviderID)
	}
	if claims.Email != "a@x.com" || claims.DisplayName != "A" || claims.AvatarURL != "https://avatar.example/a.png" {
		t.Fatalf("unexpected normalized claims: %+v", claims)
	}
}

func TestVerifyIDTokenRejectsBadSignature(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{
		payloads: map[string]*idtoken.Payload{},
	})

	_, verifyErr := verifier.VerifyIDToken(context.Background(), "tampered-token")
	if !errors.Is(verifyErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", verifyErr)
	}
}

func TestVerifyIDTokenRejectsUntrustedIssuer(t *testing.T) {
	t.Parallel()

	payload := googlePayload("g123", "a@x.com", "A", "")
	payload.Claims["iss"] = "https://evil.example"
	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{
		payloads: map[string]*idtoken.Payload{"forged": payload},
	})

	_, verifyErr := verifier.VerifyIDToken(context.Background(), "forged")
	if !errors.Is(verifyErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", verifyErr)
	}
}

func TestVerifyIDTokenRejectsMissingSubject(t *testing.T) {
	t.Parallel()

	payload := googlePayload("", "a@x.com", "A", "")
	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{
		payloads: map[string]*idtoken.Payload{"no-sub": payload},
	})

	_, verifyErr := verifier.VerifyIDToken(context.Background(), "no-sub")
	if !errors.Is(verifyErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", verifyErr)
	}
}

func TestVerifyIDTokenMapsKeyFetchFailure(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{
		validateErr: &url.Error{Op: "Get", URL: "https://www.googleapis.com/oauth2/v3/certs", Err: errors.New("connection refused")},
	})

	_, verifyErr := verifier.VerifyIDToken(context.Background(), "any-token")
	if !errors.Is(verifyErr, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", verifyErr)
	}
}

func TestVerifyIDTokenRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{})
	_, verifyErr := verifier.VerifyIDToken(context.Background(), "   ")
	if !errors.Is(verifyErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", verifyErr)
	}
}

func newExchangeTestServer(t *testing.T, tokenStatus int, userinfoBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if tokenStatus != http.StatusOK {
			writer.WriteHeader(tokenStatus)
			_, _ = writer.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = writer.Write([]byte(`{"access_token":"test-access-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(userinfoBody))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newExchangeVerifier(server *httptest.Server) *GoogleIdentityVerifier {
	return &GoogleIdentityVerifier{
		tokenValidator: &fakeIDTokenValidator{},
		oauthConfig: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "https://service.example/auth/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  server.URL + "/auth",
				TokenURL: server.URL + "/token",
			},
		},
		userinfoOptions: []option.ClientOption{option.WithEndpoint(server.URL)},
	}
}

func TestExchangeCodeFetchesProfile(t *testing.T) {
	t.Parallel()

	server := newExchangeTestServer(t, http.StatusOK,
		`{"id":"g456","email":"b@x.com","name":"B","picture":"https://avatar.example/b.png","verified_email":true}`)
	verifier := newExchangeVerifier(server)

	claims, exchangeErr := verifier.ExchangeCode(context.Background(), "auth-code")
	if exchangeErr != nil {
		t.Fatalf("unexpected error: %v", exchangeErr)
	}
	if claims.ProviderID != "g456" || claims.Email != "b@x.com" || claims.DisplayName != "B" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestExchangeCodeRejectedByProvider(t *testing.T) {
	t.Parallel()

	server := newExchangeTestServer(t, http.StatusBadRequest, `{}`)
	verifier := newExchangeVerifier(server)

	_, exchangeErr := verifier.ExchangeCode(context.Background(), "expired-code")
	if !errors.Is(exchangeErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", exchangeErr)
	}
}

func TestExchangeCodeNetworkFailure(t *testing.T) {
	t.Parallel()

	verifier := &GoogleIdentityVerifier{
		tokenValidator: &fakeIDTokenValidator{},
		oauthConfig: &oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{
				TokenURL: "http://127.0.0.1:1/token",
			},
		},
	}

	_, exchangeErr := verifier.ExchangeCode(context.Background(), "auth-code")
	if !errors.Is(exchangeErr, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", exchangeErr)
	}
}

func TestExchangeCodeRejectsEmptyCode(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{})
	_, exchangeErr := verifier.ExchangeCode(context.Background(), "")
	if !errors.Is(exchangeErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", exchangeErr)
	}
}

func TestExchangeCodeRejectsIncompleteUserinfo(t *testing.T) {
	t.Parallel()

	server := newExchangeTestServer(t, http.StatusOK, `{"name":"No Identifier"}`)
	verifier := newExchangeVerifier(server)

	_, exchangeErr := verifier.ExchangeCode(context.Background(), "auth-code")
	if !errors.Is(exchangeErr, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", exchangeErr)
	}
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	t.Parallel()

	verifier := newVerifierWithFakeValidator(&fakeIDTokenValidator{})
	verifier.oauthConfig.Endpoint = oauth2.Endpoint{AuthURL: "https://accounts.google.com/o/oauth2/v2/auth"}
	verifier.oauthConfig.RedirectURL = "https://service.example/auth/callback"

	consentURL := verifier.AuthCodeURL("signed-state")
	parsed, parseErr := url.Parse(consentURL)
	if parseErr != nil {
		t.Fatalf("unexpected parse error: %v", parseErr)
	}
	if parsed.Query().Get("state") != "signed-state" {
		t.Fatalf("expected state parameter, got %q", parsed.Query().Get("state"))
	}
	if parsed.Query().Get("client_id") != "client-id" {
		t.Fatalf("expected client_id parameter, got %q", parsed.Query().Get("client_id"))
	}
}
