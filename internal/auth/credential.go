package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential holds a bearer token for the IAP-protected resource together
// with the material needed to obtain the next one.
type Credential struct {
	// AccessToken is the opaque bearer presented to the proxy. For IAP this
	// is an OIDC ID token minted for the configured audience.
	AccessToken string `json:"access_token"`

	// RefreshToken is exchangeable for a new access token. Empty for static
	// token authentication, in which case re-authentication replaces refresh.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the absolute expiry of AccessToken. The zero value means
	// the token does not expire (static tokens).
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Audience is the IAP client ID this credential was minted for. A
	// credential obtained for one audience is never reused for another.
	Audience string `json:"audience"`
}

// Valid reports whether the access token is usable at the given instant with
// the given safety margin before expiry. Comparison happens on time.Time
// values directly, so wall-clock zone differences cannot skew the result.
func (c *Credential) Valid(now time.Time, margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.After(now.Add(margin))
}

// Refreshable reports whether the credential carries a refresh token.
func (c *Credential) Refreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// MarshalRecord serializes the credential into its persisted on-disk form.
func (c *Credential) MarshalRecord() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding credential record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord reconstructs a credential from its persisted form. The
// record is trusted as-is; the trust boundary is the storage backend's
// access control, not the record's contents.
func UnmarshalRecord(data []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credential record: %w", err)
	}
	if c.AccessToken == "" && c.RefreshToken == "" {
		return nil, fmt.Errorf("credential record holds no token material")
	}
	return &c, nil
}
