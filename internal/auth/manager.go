package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hllvc/airvane/internal/tokenstore"
)

// Default lifecycle timings, chosen for Google-issued tokens with a one hour
// lifetime: refresh at roughly 80% of the lifetime, and treat anything within
// five minutes of expiry as already stale.
const (
	DefaultRefreshInterval = 50 * time.Minute
	DefaultExpiryMargin    = 5 * time.Minute
)

// Refresher exchanges a credential's refresh token for a new credential
// without human interaction.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// InteractiveFlow runs the out-of-band consent handshake and blocks until the
// identity provider returns a result or the flow times out.
type InteractiveFlow interface {
	Authenticate(ctx context.Context) (*Credential, error)
}

// renewMode selects how far renew is allowed to go.
type renewMode int

const (
	// renewOnDemand re-checks the cache, refreshes, and falls back to the
	// interactive flow on a rejected refresh token.
	renewOnDemand renewMode = iota
	// renewScheduled always refreshes, and never goes interactive.
	renewScheduled
	// renewLogin skips refresh and forces the interactive flow.
	renewLogin
)

// Manager owns the process-wide credential. It is the only component that
// reads or mutates it; everything else goes through Token.
type Manager struct {
	store     tokenstore.Store
	refresher Refresher
	flow      InteractiveFlow
	audience  string
	margin    time.Duration

	// now is replaceable in tests.
	now func() time.Time

	mu   sync.Mutex
	cred *Credential

	renews singleflight.Group
}

// NewManager creates a Manager. refresher and flow may be nil for static
// token authentication, in which case renewal always fails with
// ErrInteractionRequired.
func NewManager(store tokenstore.Store, refresher Refresher, flow InteractiveFlow, audience string, margin time.Duration) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if audience == "" {
		return nil, fmt.Errorf("missing audience")
	}
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}

	return &Manager{
		store:     store,
		refresher: refresher,
		flow:      flow,
		audience:  audience,
		margin:    margin,
		now:       time.Now,
	}, nil
}

// Load pulls the persisted credential record into memory. Missing, corrupt,
// or audience-mismatched records are treated as absent: Load reports false
// and never returns an error to the caller.
func (m *Manager) Load(ctx context.Context) bool {
	data, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slog.WarnContext(ctx, "could not read persisted credential", "error", err)
		}
		return false
	}

	cred, err := UnmarshalRecord(data)
	if err != nil {
		slog.WarnContext(ctx, "discarding unreadable credential record", "error", err)
		return false
	}

	// A credential minted for another audience is never reused; fall back to
	// interactive authentication instead.
	if cred.Audience != m.audience {
		slog.WarnContext(ctx, "discarding persisted credential for different audience",
			"audience", m.audience, "record_audience", cred.Audience)
		return false
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	return true
}

// Set installs a credential directly, bypassing refresh and persistence.
// Used for static token authentication where the token arrives via the
// environment and has no refresh capability.
func (m *Manager) Set(cred *Credential) {
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
}

// Token returns a bearer token guaranteed valid for immediate use.
//
// The fast path returns the cached token with no I/O when its expiry is more
// than the safety margin away. Otherwise a single renewal runs regardless of
// how many callers arrive concurrently, and every caller receives that
// renewal's token or its error.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}

	v, err, _ := m.renews.Do("renew", func() (any, error) {
		return m.renew(ctx, renewOnDemand)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Login forces a fresh interactive authentication, replacing whatever
// credential is currently held.
func (m *Manager) Login(ctx context.Context) error {
	_, err, _ := m.renews.Do("renew", func() (any, error) {
		return m.renew(ctx, renewLogin)
	})
	return err
}

// Logout discards the in-memory credential and removes the persisted record.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credential store: %w", err)
	}
	return nil
}

// refreshNow performs one scheduled refresh, sharing the in-flight renewal
// with any concurrent Token callers.
func (m *Manager) refreshNow(ctx context.Context) error {
	_, err, _ := m.renews.Do("renew", func() (any, error) {
		return m.renew(ctx, renewScheduled)
	})
	return err
}

// renew is the single renewal path. It runs inside the singleflight group,
// so at most one invocation is in flight at any time.
func (m *Manager) renew(ctx context.Context, mode renewMode) (string, error) {
	// A renewal that queued behind another caller's may find the credential
	// already fresh again.
	if mode == renewOnDemand {
		if tok, ok := m.cachedToken(); ok {
			return tok, nil
		}
	}

	cur := m.current()
	if mode != renewLogin && cur.Refreshable() && m.refresher != nil {
		next, err := m.refresher.Refresh(ctx, cur)
		switch {
		case err == nil:
			m.commit(ctx, next)
			return next.AccessToken, nil
		case errors.Is(err, ErrRefreshRejected):
			// The refresh token is dead. Drop it so it is never presented
			// again, then re-authenticate if this caller is allowed to.
			slog.WarnContext(ctx, "refresh token rejected, discarding credential",
				"audience", m.audience)
			m.invalidate(ctx)
			if mode == renewScheduled {
				return "", err
			}
		default:
			return "", err
		}
	}

	if mode == renewScheduled {
		return "", ErrInteractionRequired
	}
	if m.flow == nil {
		return "", ErrInteractionRequired
	}

	next, err := m.flow.Authenticate(ctx)
	if err != nil {
		return "", fmt.Errorf("interactive authentication: %w", err)
	}
	next.Audience = m.audience

	// The consent exchange mints a token scoped to this tool's own client.
	// The proxy needs one minted for the configured audience, so the fresh
	// refresh token is exercised immediately.
	if m.refresher != nil && next.Refreshable() {
		minted, err := m.refresher.Refresh(ctx, next)
		if err != nil {
			return "", fmt.Errorf("minting audience token after consent: %w", err)
		}
		next = minted
	}

	m.commit(ctx, next)
	return next.AccessToken, nil
}

// cachedToken returns the in-memory token if it is still outside the safety
// margin.
func (m *Manager) cachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred.Valid(m.now(), m.margin) {
		return m.cred.AccessToken, true
	}
	return "", false
}

func (m *Manager) current() *Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// commit installs a freshly acquired credential and persists it. Persistence
// failure is logged but does not fail the acquisition: the in-memory token is
// valid either way, only a future process restart loses the refresh token.
func (m *Manager) commit(ctx context.Context, cred *Credential) {
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	record, err := cred.MarshalRecord()
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode credential record", "error", err)
		return
	}
	if err := m.store.Save(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to persist credential", "error", err, "audience", m.audience)
	}
}

// invalidate drops the credential in memory and on disk after a non-retryable
// refresh failure.
func (m *Manager) invalidate(ctx context.Context) {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "failed to clear persisted credential", "error", err)
	}
}

// Status is a snapshot of the managed credential for diagnostics. It never
// carries token values.
type Status struct {
	Authenticated bool
	Refreshable   bool
	ExpiresAt     time.Time
	Audience      string
}

// Status reports the current credential state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{Audience: m.audience}
	if m.cred == nil {
		return s
	}
	s.Authenticated = m.cred.Valid(m.now(), 0)
	s.Refreshable = m.cred.Refreshable()
	s.ExpiresAt = m.cred.ExpiresAt
	return s
}
