// Package airflow is a typed client for the Airflow REST API (v2) behind
// Google's Identity-Aware Proxy. Every request carries two bearers: the IAP
// ID token in Proxy-Authorization and the Airflow-issued JWT in
// Authorization.
package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiPrefix = "/api/v2"

// APIError is a non-2xx answer from the Airflow API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airflow API returned %d: %s", e.Status, e.Body)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (e.g., for tests or custom
// timeouts). If not provided, a client with a 30 second timeout is used.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBasicCredentials sets the Airflow username/password used to obtain the
// session JWT. Defaults to anonymous, which Airflow accepts when it delegates
// identity to IAP.
func WithBasicCredentials(username, password string) ClientOption {
	return func(cl *Client) {
		cl.username = username
		cl.password = password
	}
}

// WithSession shares an existing JWT session, so the client and the reverse
// proxy hold one Airflow token between them instead of fetching two.
func WithSession(s *Session) ClientOption {
	return func(cl *Client) { cl.session = s }
}

// Client calls the Airflow REST API.
type Client struct {
	baseURL    string
	provider   TokenProvider
	httpClient *http.Client
	username   string
	password   string
	session    *Session
}

// NewClient creates a Client for the Airflow deployment at baseURL.
func NewClient(baseURL string, provider TokenProvider, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if provider == nil {
		return nil, fmt.Errorf("missing token provider")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		provider:   provider,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewSession(c.baseURL, c.username, c.password, provider, c.httpClient)
	}
	return c, nil
}

// do performs one API request, decoding a JSON response into out when out is
// non-nil. A 401 invalidates the session JWT and the request is retried once
// with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	retried := false
	for {
		jwt, err := c.session.Token(ctx)
		if err != nil {
			return err
		}
		iapToken, err := c.provider.Token(ctx)
		if err != nil {
			return fmt.Errorf("obtaining proxy token: %w", err)
		}

		u := c.baseURL + apiPrefix + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+jwt)
		req.Header.Set("Proxy-Authorization", "Bearer "+iapToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried {
			_ = resp.Body.Close()
			c.session.Invalidate(jwt)
			retried = true
			continue
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &APIError{Status: resp.StatusCode, Body: string(msg)}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
		return nil
	}
}

// pagination builds the limit/offset query shared by the list endpoints.
func pagination(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}

// Health returns the Airflow component health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/monitor/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version returns the Airflow version.
func (c *Client) Version(ctx context.Context) (*Version, error) {
	var out Version
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDAGs returns a page of DAGs.
func (c *Client) ListDAGs(ctx context.Context, limit, offset int) (*DAGCollection, error) {
	var out DAGCollection
	if err := c.do(ctx, http.MethodGet, "/dags", pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDAG returns a single DAG.
func (c *Client) GetDAG(ctx context.Context, dagID string) (*DAG, error) {
	var out DAG
	if err := c.do(ctx, http.MethodGet, "/dags/"+url.PathEscape(dagID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseDAG pauses a DAG.
func (c *Client) PauseDAG(ctx context.Context, dagID string) (*DAG, error) {
	return c.setDAGPaused(ctx, dagID, true)
}

// UnpauseDAG unpauses a DAG.
func (c *Client) UnpauseDAG(ctx context.Context, dagID string) (*DAG, error) {
	return c.setDAGPaused(ctx, dagID, false)
}

func (c *Client) setDAGPaused(ctx context.Context, dagID string, paused bool) (*DAG, error) {
	var out DAG
	body := map[string]bool{"is_paused": paused}
	if err := c.do(ctx, http.MethodPatch, "/dags/"+url.PathEscape(dagID), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDAGRuns returns a page of runs for a DAG.
func (c *Client) ListDAGRuns(ctx context.Context, dagID string, limit, offset int) (*DAGRunCollection, error) {
	var out DAGRunCollection
	path := "/dags/" + url.PathEscape(dagID) + "/dagRuns"
	if err := c.do(ctx, http.MethodGet, path, pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDAGRun returns a single DAG run.
func (c *Client) GetDAGRun(ctx context.Context, dagID, dagRunID string) (*DAGRun, error) {
	var out DAGRun
	path := "/dags/" + url.PathEscape(dagID) + "/dagRuns/" + url.PathEscape(dagRunID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerDAG creates a new DAG run.
func (c *Client) TriggerDAG(ctx context.Context, dagID string, req TriggerDAGRunRequest) (*DAGRun, error) {
	var out DAGRun
	path := "/dags/" + url.PathEscape(dagID) + "/dagRuns"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTaskInstance returns a single task instance.
func (c *Client) GetTaskInstance(ctx context.Context, dagID, dagRunID, taskID string) (*TaskInstance, error) {
	var out TaskInstance
	path := "/dags/" + url.PathEscape(dagID) + "/dagRuns/" + url.PathEscape(dagRunID) +
		"/taskInstances/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTaskLogs returns the logs of one task try.
func (c *Client) GetTaskLogs(ctx context.Context, dagID, dagRunID, taskID string, tryNumber int) (*TaskLogs, error) {
	var out TaskLogs
	path := "/dags/" + url.PathEscape(dagID) + "/dagRuns/" + url.PathEscape(dagRunID) +
		"/taskInstances/" + url.PathEscape(taskID) + "/logs/" + strconv.Itoa(tryNumber)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVariables returns a page of variables.
func (c *Client) ListVariables(ctx context.Context, limit, offset int) (*VariableCollection, error) {
	var out VariableCollection
	if err := c.do(ctx, http.MethodGet, "/variables", pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVariable returns a single variable.
func (c *Client) GetVariable(ctx context.Context, key string) (*Variable, error) {
	var out Variable
	if err := c.do(ctx, http.MethodGet, "/variables/"+url.PathEscape(key), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetVariable creates or replaces a variable.
func (c *Client) SetVariable(ctx context.Context, key, value string) (*Variable, error) {
	var out Variable
	body := Variable{Key: key, Value: value}
	if err := c.do(ctx, http.MethodPost, "/variables", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteVariable removes a variable.
func (c *Client) DeleteVariable(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/variables/"+url.PathEscape(key), nil, nil, nil)
}

// ListConnections returns a page of connections.
func (c *Client) ListConnections(ctx context.Context, limit, offset int) (*ConnectionCollection, error) {
	var out ConnectionCollection
	if err := c.do(ctx, http.MethodGet, "/connections", pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConnection returns a single connection.
func (c *Client) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var out Connection
	if err := c.do(ctx, http.MethodGet, "/connections/"+url.PathEscape(connectionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPools returns a page of pools.
func (c *Client) ListPools(ctx context.Context, limit, offset int) (*PoolCollection, error) {
	var out PoolCollection
	if err := c.do(ctx, http.MethodGet, "/pools", pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPool returns a single pool.
func (c *Client) GetPool(ctx context.Context, name string) (*Pool, error) {
	var out Pool
	if err := c.do(ctx, http.MethodGet, "/pools/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListImportErrors returns a page of DAG import errors.
func (c *Client) ListImportErrors(ctx context.Context, limit, offset int) (*ImportErrorCollection, error) {
	var out ImportErrorCollection
	if err := c.do(ctx, http.MethodGet, "/importErrors", pagination(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetImportError returns a single import error by ID.
func (c *Client) GetImportError(ctx context.Context, importErrorID int) (*ImportError, error) {
	var out ImportError
	if err := c.do(ctx, http.MethodGet, "/importErrors/"+strconv.Itoa(importErrorID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
