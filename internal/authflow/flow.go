// Package authflow runs the one-time interactive consent handshake against
// Google's OAuth2 endpoints.
//
// The flow opens a loopback listener for the provider's redirect, prints the
// authorization URL for the human to complete out-of-band, and blocks until
// the callback arrives, the user denies consent, the context is cancelled, or
// the timeout elapses. PKCE and a random state parameter guard the callback.
//
// The exchange performed here is scoped to this tool's own desktop client;
// the audience-scoped bearer for the proxy is minted afterwards through the
// refresh exchange (see internal/tokensource).
package authflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/hllvc/airvane/internal/auth"
	"github.com/hllvc/airvane/internal/tokensource"
)

// DefaultTimeout bounds the wait for the provider callback. Consent is human
// paced, but an indefinite hang must be impossible.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimedOut means the provider callback did not arrive in time.
	ErrTimedOut = errors.New("timed out waiting for authorization callback")

	// ErrDenied means the user rejected the consent request.
	ErrDenied = errors.New("authorization denied by user")
)

// successPage is shown in the browser once the callback is received.
const successPage = "Authentication successful! You can close this window and return to the terminal."

// Option configures a Flow.
type Option func(*Flow)

// WithTimeout overrides the callback wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

// WithEndpoint overrides the OAuth2 endpoints, used by tests.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(f *Flow) { f.endpoint = endpoint }
}

// WithPromptWriter redirects the interaction prompt (defaults to stderr).
func WithPromptWriter(w io.Writer) Option {
	return func(f *Flow) { f.prompt = w }
}

// WithTerminalCheck overrides the terminal detection, used by tests.
func WithTerminalCheck(check func() bool) Option {
	return func(f *Flow) { f.isTerminal = check }
}

// Flow performs the interactive consent handshake. Safe to invoke more than
// once, but each invocation blocks for the full human-paced round trip, so
// callers serialize invocations behind the credential manager.
type Flow struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	timeout      time.Duration
	prompt       io.Writer
	isTerminal   func() bool
}

// Compile-time check to ensure Flow implements auth.InteractiveFlow
var _ auth.InteractiveFlow = (*Flow)(nil)

// New creates a Flow for this tool's registered desktop client identity.
func New(clientID, clientSecret string, opts ...Option) *Flow {
	f := &Flow{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     tokensource.Endpoint,
		timeout:      DefaultTimeout,
		prompt:       os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// callbackResult carries the authorization code or failure from the HTTP
// handler to the waiting Authenticate call.
type callbackResult struct {
	code string
	err  error
}

// Authenticate blocks until the consent flow completes and returns a fresh
// refreshable credential. Timeout, denial, and provider unreachability are
// all fatal for this invocation; the caller may retry the whole flow.
func (f *Flow) Authenticate(ctx context.Context) (*auth.Credential, error) {
	if !f.isTerminal() {
		return nil, fmt.Errorf("%w: no terminal attached, run 'airvane login' from a shell", auth.ErrInteractionRequired)
	}

	// Loopback listener on an ephemeral port receives the redirect.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("opening callback listener: %w", err)
	}
	defer func() { _ = listener.Close() }()

	cfg := &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		Scopes:       tokensource.Scopes,
		Endpoint:     f.endpoint,
		RedirectURL:  fmt.Sprintf("http://%s/callback", listener.Addr().String()),
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	// access_type=offline and prompt=consent together guarantee Google
	// issues a refresh token, not just an access token.
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "Authorization failed. You can close this window.", http.StatusForbidden)
			if q.Get("error") == "access_denied" {
				results <- callbackResult{err: ErrDenied}
			} else {
				results <- callbackResult{err: fmt.Errorf("authorization error: %s", q.Get("error"))}
			}
		case q.Get("state") != state:
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("state parameter mismatch in callback")}
		case q.Get("code") == "":
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("callback carries no authorization code")}
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintln(w, successPage)
			results <- callbackResult{code: q.Get("code")}
		}
	})

	server := &http.Server{Handler: mux}
	go func() { _ = server.Serve(listener) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(f.prompt, "\nAuthentication required.\n\nOpen the following URL in your browser and sign in with an account that has access to the protected resource:\n\n  %s\n\n", authURL)

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.timeout):
		return nil, ErrTimedOut
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("provider issued no refresh token")
	}

	cred := &auth.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// Prefer the ID token when present: it is the artifact the refresh
	// exchange and the proxy ultimately care about.
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		cred.AccessToken = idToken
	}

	fmt.Fprintln(f.prompt, "Authentication successful.")
	return cred, nil
}
