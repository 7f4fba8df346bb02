package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// TokenProvider yields a bearer token valid for the IAP edge in front of the
// Airflow deployment.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Session holds the Airflow-issued JWT obtained from the /auth/token
// endpoint. Airflow behind IAP needs both tokens on every request: the IAP
// bearer to pass the proxy and the JWT to authenticate against Airflow
// itself.
//
// The JWT's lifetime is not exposed by the endpoint, so the session keeps it
// until a request comes back 401, then fetches a new one.
type Session struct {
	baseURL  string
	username string
	password string
	provider TokenProvider
	client   *http.Client

	mu  sync.Mutex
	jwt string
}

// NewSession creates a Session. Empty username/password request an anonymous
// JWT, which Airflow grants when configured for IAP-delegated identity.
func NewSession(baseURL, username, password string, provider TokenProvider, client *http.Client) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		baseURL:  baseURL,
		username: username,
		password: password,
		provider: provider,
		client:   client,
	}
}

// Token returns the cached JWT, fetching one if none is held.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jwt != "" {
		return s.jwt, nil
	}

	jwt, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.jwt = jwt
	return jwt, nil
}

// Invalidate drops the JWT if it is still the one the caller saw fail. A
// concurrent caller may already have replaced it; that newer JWT is kept.
func (s *Session) Invalidate(jwt string) {
	s.mu.Lock()
	if s.jwt == jwt {
		s.jwt = ""
	}
	s.mu.Unlock()
}

// fetch obtains a fresh JWT from Airflow's auth endpoint, passing the IAP
// bearer to get through the proxy. Caller holds s.mu.
func (s *Session) fetch(ctx context.Context) (string, error) {
	iapToken, err := s.provider.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("obtaining proxy token: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iapToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting airflow session token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding airflow session token: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("airflow auth endpoint returned no access token")
	}

	return tokenResp.AccessToken, nil
}
