// Package proxy is a local reverse proxy that makes an IAP-protected Airflow
// deployment reachable without per-request authentication. Inbound requests
// are forwarded upstream with the IAP bearer injected as Proxy-Authorization
// and, unless the caller supplied its own, the Airflow session JWT as
// Authorization.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hllvc/airvane/internal/airflow"
	"github.com/hllvc/airvane/internal/auth"
)

// Proxy represents the gateway server.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a gateway in front of the Airflow deployment at baseURL.
// provider supplies the IAP bearer, session the Airflow JWT, and status feeds
// the local credential status endpoint.
func New(baseURL string, provider airflow.TokenProvider, session *airflow.Session, status func() auth.Status) (*Proxy, error) {
	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute: %s", baseURL)
	}

	transport := &dualAuthTransport{
		base:     http.DefaultTransport,
		provider: provider,
		session:  session,
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = upstream.Scheme
			pr.Out.URL.Host = upstream.Host
			pr.Out.Host = upstream.Host
		},
		// FlushInterval: -1 disables automatic periodic flushing, flushing
		// only when the backend flushes. Log tailing endpoints stream, and
		// clients expect data as soon as Airflow sends it.
		FlushInterval: -1,
		Transport:     transport,
	}

	mux := http.NewServeMux()

	// Airflow REST API and its token endpoint go upstream.
	mux.Handle("/api/", applyMiddlewares(reverseProxyHandler,
		Logging(),
		Recovery,
	))
	mux.Handle("/auth/", applyMiddlewares(reverseProxyHandler,
		Logging(),
		Recovery,
	))

	// Anything outside the forwarded prefixes is answered locally.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(r.Context(), w, "not found", http.StatusNotFound)
	})

	// Local diagnostics endpoint; never forwarded.
	mux.HandleFunc("GET /-/status", func(w http.ResponseWriter, r *http.Request) {
		s := status()
		writeJSON(r.Context(), w, statusResponse{
			Authenticated: s.Authenticated,
			Refreshable:   s.Refreshable,
			ExpiresAt:     s.ExpiresAt,
			Audience:      s.Audience,
		}, http.StatusOK)
	})

	return &Proxy{mux: mux}, nil
}

// statusResponse is the JSON shape of the local status endpoint. It carries
// metadata only, never token values.
type statusResponse struct {
	Authenticated bool      `json:"authenticated"`
	Refreshable   bool      `json:"refreshable"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	Audience      string    `json:"audience"`
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 15 * time.Minute, // Inbound: Write entire response to client (allows long log streams, still bounded)
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// dualAuthTransport attaches the two bearers every upstream request needs.
// The caller's own Authorization header, when present, is passed through
// untouched so operators can still use native Airflow credentials.
type dualAuthTransport struct {
	base     http.RoundTripper
	provider airflow.TokenProvider
	session  *airflow.Session
}

// Compile-time check that dualAuthTransport implements http.RoundTripper.
var _ http.RoundTripper = (*dualAuthTransport)(nil)

func (t *dualAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	iapToken, err := t.provider.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("obtaining proxy token: %w", err)
	}
	req.Header.Set("Proxy-Authorization", "Bearer "+iapToken)

	injectedJWT := ""
	if req.Header.Get("Authorization") == "" && t.session != nil {
		jwt, err := t.session.Token(req.Context())
		if err != nil {
			return nil, fmt.Errorf("obtaining airflow session token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+jwt)
		injectedJWT = jwt
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// A 401 on an injected JWT means the session expired; drop it so the
	// next request fetches a fresh one. The client sees this 401 and
	// retries, which is cheaper than buffering request bodies for replay.
	if resp.StatusCode == http.StatusUnauthorized && injectedJWT != "" {
		t.session.Invalidate(injectedJWT)
	}

	return resp, nil
}
