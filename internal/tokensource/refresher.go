package tokensource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/hllvc/airvane/internal/auth"
)

// RefresherOption configures a Refresher.
type RefresherOption func(*refresherConfig)

// refresherConfig holds configuration for NewRefresher.
type refresherConfig struct {
	baseTransport http.RoundTripper
	endpoint      oauth2.Endpoint
}

// WithTransport sets a custom base transport for token refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) RefresherOption {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithEndpoint overrides the Google token endpoint, used by tests.
func WithEndpoint(endpoint oauth2.Endpoint) RefresherOption {
	return func(c *refresherConfig) {
		c.endpoint = endpoint
	}
}

// Refresher exchanges a refresh token for a new IAP-scoped credential
// without human interaction. It implements auth.Refresher.
type Refresher struct {
	config   *oauth2.Config
	audience string
	client   *http.Client
}

// Compile-time check to ensure Refresher implements auth.Refresher
var _ auth.Refresher = (*Refresher)(nil)

// NewRefresher creates a Refresher. clientID/clientSecret identify this tool
// (the registered desktop OAuth client); audience identifies the IAP client
// protecting the resource. The two identities are distinct and never
// interchangeable.
func NewRefresher(clientID, clientSecret, audience string, opts ...RefresherOption) *Refresher {
	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		endpoint:      Endpoint,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// HTTP client bounds the refresh round trip even when callers pass a
	// long-lived context. The audienceTransport injects the IAP audience
	// into every token endpoint request.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &audienceTransport{
			base:     cfg.baseTransport,
			audience: audience,
		},
	}

	return &Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint:     cfg.endpoint,
		},
		audience: audience,
		client:   httpClient,
	}
}

// Refresh exchanges cred's refresh token for a fresh credential. The returned
// credential keeps the previous refresh token unless the provider rotated it.
func (r *Refresher) Refresh(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	if cred == nil || cred.RefreshToken == "" {
		return nil, auth.ErrInteractionRequired
	}

	// oauth2 injects custom HTTP clients via context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	// A token value with only the refresh token forces an immediate exchange.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err)
	}

	// IAP consumes the OIDC ID token, not the OAuth access token.
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("%w: token response carries no id_token", auth.ErrMalformed)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		// Google omits expires_in for some client types; assume the standard
		// one hour lifetime rather than treating the token as eternal.
		expiry = time.Now().Add(time.Hour)
	}

	// Refresh responses usually omit refresh_token; keep the current one
	// unless the provider rotated it.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	return &auth.Credential{
		AccessToken:  idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiry,
		Audience:     r.audience,
	}, nil
}

// classify maps oauth2 transport errors onto the auth error taxonomy.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		switch {
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("%w: token endpoint returned %d: %v", auth.ErrTransient, status, err)
		case retrieveErr.ErrorCode == "invalid_grant" ||
			retrieveErr.ErrorCode == "invalid_client" ||
			retrieveErr.ErrorCode == "unauthorized_client" ||
			(status >= 400 && status < 500):
			return fmt.Errorf("%w: %v", auth.ErrRefreshRejected, err)
		default:
			return fmt.Errorf("%w: %v", auth.ErrMalformed, err)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", auth.ErrTransient, err)
	}

	// A 2xx response oauth2 could not interpret.
	return fmt.Errorf("%w: %v", auth.ErrMalformed, err)
}

// audienceTransport injects the IAP client ID as the `audience` parameter of
// token endpoint requests. Google mints the ID token for that audience, which
// is what lets the bearer pass the proxy. The oauth2 package guarantees this
// transport only receives token endpoint requests.
type audienceTransport struct {
	base     http.RoundTripper
	audience string
}

// Compile-time check that audienceTransport implements http.RoundTripper.
var _ http.RoundTripper = (*audienceTransport)(nil)

// RoundTrip rewrites the form-encoded token request to include the audience.
func (t *audienceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Defer close since we consume the body entirely and create a new body
	// for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}
	formData.Set("audience", t.audience)

	encoded := formData.Encode()
	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader([]byte(encoded)))
	newReq.ContentLength = int64(len(encoded))
	newReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return t.base.RoundTrip(newReq)
}
