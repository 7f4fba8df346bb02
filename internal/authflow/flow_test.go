package authflow

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/hllvc/airvane/internal/auth"
)

// promptBuffer is a goroutine-safe writer capturing the interaction prompt.
type promptBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *promptBuffer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

func (p *promptBuffer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// waitForAuthURL polls the prompt until the authorization URL appears.
func waitForAuthURL(t *testing.T, prompt *promptBuffer) *url.URL {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m := urlPattern.FindString(prompt.String()); m != "" {
			u, err := url.Parse(m)
			if err != nil {
				t.Fatalf("parsing authorization URL %q: %v", m, err)
			}
			return u
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("authorization URL never appeared in the prompt")
	return nil
}

// newTestFlow wires a Flow against a fake token endpoint. The handler decides
// what the exchange returns.
func newTestFlow(t *testing.T, tokenHandler http.HandlerFunc, opts ...Option) (*Flow, *promptBuffer) {
	t.Helper()
	provider := httptest.NewServer(tokenHandler)
	t.Cleanup(provider.Close)

	prompt := &promptBuffer{}
	base := []Option{
		WithEndpoint(oauth2.Endpoint{
			AuthURL:  provider.URL + "/auth",
			TokenURL: provider.URL + "/token",
		}),
		WithPromptWriter(prompt),
		WithTerminalCheck(func() bool { return true }),
		WithTimeout(5 * time.Second),
	}
	return New("client-id", "client-secret", append(base, opts...)...), prompt
}

// completeCallback simulates the browser redirect back to the loopback
// listener with the given query parameters.
func completeCallback(t *testing.T, redirectURI string, params url.Values) {
	t.Helper()
	resp, err := http.Get(redirectURI + "?" + params.Encode())
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()
}

func TestAuthenticateSuccess(t *testing.T) {
	var exchanged url.Values
	flow, prompt := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing exchange form: %v", err)
		}
		exchanged = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","id_token":"id","expires_in":3600,"token_type":"Bearer"}`))
	})

	type result struct {
		cred *auth.Credential
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cred, err := flow.Authenticate(context.Background())
		done <- result{cred, err}
	}()

	authURL := waitForAuthURL(t, prompt)
	q := authURL.Query()
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Error("authorization URL carries no PKCE challenge")
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Error("authorization URL does not request offline access with forced consent")
	}

	completeCallback(t, q.Get("redirect_uri"), url.Values{
		"code":  {"auth-code"},
		"state": {q.Get("state")},
	})

	res := <-done
	if res.err != nil {
		t.Fatalf("Authenticate: %v", res.err)
	}
	if res.cred.AccessToken != "id" {
		t.Errorf("AccessToken = %q, want the id_token", res.cred.AccessToken)
	}
	if res.cred.RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q, want rt", res.cred.RefreshToken)
	}
	if exchanged.Get("code") != "auth-code" {
		t.Errorf("exchanged code = %q, want auth-code", exchanged.Get("code"))
	}
	if exchanged.Get("code_verifier") == "" {
		t.Error("exchange carries no PKCE verifier")
	}
}

func TestAuthenticateDenied(t *testing.T) {
	flow, prompt := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be hit on denial")
	})

	done := make(chan error, 1)
	go func() {
		_, err := flow.Authenticate(context.Background())
		done <- err
	}()

	authURL := waitForAuthURL(t, prompt)
	q := authURL.Query()
	completeCallback(t, q.Get("redirect_uri"), url.Values{
		"error": {"access_denied"},
		"state": {q.Get("state")},
	})

	if err := <-done; !errors.Is(err, ErrDenied) {
		t.Fatalf("Authenticate error = %v, want ErrDenied", err)
	}
}

func TestAuthenticateStateMismatch(t *testing.T) {
	flow, prompt := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be hit on a forged callback")
	})

	done := make(chan error, 1)
	go func() {
		_, err := flow.Authenticate(context.Background())
		done <- err
	}()

	authURL := waitForAuthURL(t, prompt)
	completeCallback(t, authURL.Query().Get("redirect_uri"), url.Values{
		"code":  {"auth-code"},
		"state": {"forged"},
	})

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "state") {
		t.Fatalf("Authenticate error = %v, want state mismatch", err)
	}
}

func TestAuthenticateTimeout(t *testing.T) {
	flow, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {},
		WithTimeout(50*time.Millisecond))

	if _, err := flow.Authenticate(context.Background()); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Authenticate error = %v, want ErrTimedOut", err)
	}
}

func TestAuthenticateCancelled(t *testing.T) {
	flow, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := flow.Authenticate(ctx)
		done <- err
	}()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Authenticate error = %v, want context.Canceled", err)
	}
}

func TestAuthenticateRequiresTerminal(t *testing.T) {
	flow, _ := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {},
		WithTerminalCheck(func() bool { return false }))

	if _, err := flow.Authenticate(context.Background()); !errors.Is(err, auth.ErrInteractionRequired) {
		t.Fatalf("Authenticate error = %v, want ErrInteractionRequired", err)
	}
}

func TestAuthenticateRequiresRefreshToken(t *testing.T) {
	flow, prompt := newTestFlow(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","expires_in":3600,"token_type":"Bearer"}`))
	})

	done := make(chan error, 1)
	go func() {
		_, err := flow.Authenticate(context.Background())
		done <- err
	}()

	authURL := waitForAuthURL(t, prompt)
	q := authURL.Query()
	completeCallback(t, q.Get("redirect_uri"), url.Values{
		"code":  {"auth-code"},
		"state": {q.Get("state")},
	})

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "refresh token") {
		t.Fatalf("Authenticate error = %v, want missing refresh token", err)
	}
}
