package airflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider returns a fixed IAP bearer.
type staticProvider string

func (p staticProvider) Token(ctx context.Context) (string, error) {
	return string(p), nil
}

// failingProvider always errors.
type failingProvider struct{}

func (failingProvider) Token(ctx context.Context) (string, error) {
	return "", errors.New("no credential")
}

// fakeAirflow is a minimal Airflow deployment: it issues JWTs from
// /auth/token and serves API routes registered on its mux, checking both
// bearers on every API request.
type fakeAirflow struct {
	t   *testing.T
	mux *http.ServeMux

	mu         sync.Mutex
	jwt        string
	authCalls  int
	rejectOnce bool // answer the next API request with 401
}

func newFakeAirflow(t *testing.T) (*fakeAirflow, *httptest.Server) {
	t.Helper()
	f := &fakeAirflow{t: t, mux: http.NewServeMux(), jwt: "jwt-1"}
	f.mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authCalls++
		assert.Equal(t, "Bearer iap-token", r.Header.Get("Authorization"),
			"JWT fetch must carry the IAP bearer")
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": f.jwt})
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		reject := f.rejectOnce && r.URL.Path != "/auth/token"
		if reject {
			f.rejectOnce = false
		}
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return f, server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(server.URL, staticProvider("iap-token"),
		WithBasicCredentials("admin", "secret"))
	require.NoError(t, err)
	return client
}

func TestClientSendsBothBearers(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("GET /api/v2/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-1", r.Header.Get("Authorization"))
		assert.Equal(t, "Bearer iap-token", r.Header.Get("Proxy-Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"3.0.2"}`))
	})

	client := newTestClient(t, server)
	version, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.0.2", version.Version)
	assert.Equal(t, 1, fake.authCalls, "one JWT fetch for the first request")

	// Second call reuses the cached JWT.
	_, err = client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.authCalls, "cached JWT must be reused")
}

func TestClientRetriesOnceOnUnauthorized(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("GET /api/v2/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-2", r.Header.Get("Authorization"),
			"retry must carry the re-fetched JWT")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"3.0.2"}`))
	})

	client := newTestClient(t, server)
	// Prime the session with jwt-1, then make Airflow rotate it.
	_, err := client.session.Token(context.Background())
	require.NoError(t, err)
	fake.mu.Lock()
	fake.jwt = "jwt-2"
	fake.rejectOnce = true
	fake.mu.Unlock()

	_, err = client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.authCalls, "the 401 must trigger exactly one JWT re-fetch")
}

func TestClientUnauthorizedTwiceIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "jwt"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server)
	_, err := client.Version(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientSurfacesAPIError(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("GET /api/v2/dags/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"DAG not found"}`))
	})

	client := newTestClient(t, server)
	_, err := client.GetDAG(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "DAG not found")
}

func TestClientProviderFailure(t *testing.T) {
	_, server := newFakeAirflow(t)
	client, err := NewClient(server.URL, failingProvider{})
	require.NoError(t, err)

	_, err = client.Version(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy token")
}

func TestListDAGsPagination(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("GET /api/v2/dags", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dags":[{"dag_id":"etl_daily","is_paused":false}],"total_entries":120}`))
	})

	client := newTestClient(t, server)
	dags, err := client.ListDAGs(context.Background(), 25, 50)
	require.NoError(t, err)
	assert.Equal(t, 120, dags.TotalEntries)
	require.Len(t, dags.DAGs, 1)
	assert.Equal(t, "etl_daily", dags.DAGs[0].DAGID)
}

func TestTriggerDAG(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("POST /api/v2/dags/{id}/dagRuns", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "etl_daily", r.PathValue("id"))
		var req TriggerDAGRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]any{"env": "prod"}, req.Conf)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dag_run_id":"manual__2026-08-29","dag_id":"etl_daily","state":"queued"}`))
	})

	client := newTestClient(t, server)
	run, err := client.TriggerDAG(context.Background(), "etl_daily", TriggerDAGRunRequest{
		Conf: map[string]any{"env": "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, "manual__2026-08-29", run.DAGRunID)
	assert.Equal(t, "queued", run.State)
}

func TestPauseDAG(t *testing.T) {
	fake, server := newFakeAirflow(t)
	fake.mux.HandleFunc("PATCH /api/v2/dags/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		assert.Equal(t, map[string]bool{"is_paused": true}, patch)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dag_id":"etl_daily","is_paused":true}`))
	})

	client := newTestClient(t, server)
	dag, err := client.PauseDAG(context.Background(), "etl_daily")
	require.NoError(t, err)
	assert.True(t, dag.IsPaused)
}

func TestDeleteVariable(t *testing.T) {
	fake, server := newFakeAirflow(t)
	called := false
	fake.mux.HandleFunc("DELETE /api/v2/variables/{key}", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "retention_days", r.PathValue("key"))
		w.WriteHeader(http.StatusNoContent)
	})

	client := newTestClient(t, server)
	require.NoError(t, client.DeleteVariable(context.Background(), "retention_days"))
	assert.True(t, called)
}

func TestSessionInvalidateKeepsNewerJWT(t *testing.T) {
	_, server := newFakeAirflow(t)
	client := newTestClient(t, server)

	jwt, err := client.session.Token(context.Background())
	require.NoError(t, err)
	// An invalidation for a JWT that was already replaced is a no-op.
	client.session.Invalidate("some-older-jwt")
	again, err := client.session.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jwt, again)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", staticProvider("t"))
	assert.Error(t, err)
	_, err = NewClient("http://localhost:8080", nil)
	assert.Error(t, err)
}
