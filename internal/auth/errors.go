package auth

import "errors"

// Error taxonomy for credential acquisition. Collaborators wrap these
// sentinels so callers can branch with errors.Is without depending on
// provider-specific failure details.
var (
	// ErrInteractionRequired means no usable credential exists and the
	// interactive consent flow must run to obtain one.
	ErrInteractionRequired = errors.New("interactive authentication required")

	// ErrRefreshRejected means the refresh token itself was rejected by the
	// identity provider (revoked or expired consent). Non-retryable; the
	// stored credential is invalidated and re-authentication is needed.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrTransient means the token endpoint could not be reached or answered
	// with a server-side failure. Retryable; the next scheduled refresh
	// serves as the retry.
	ErrTransient = errors.New("transient token endpoint failure")

	// ErrMalformed means the token endpoint answered success with a payload
	// that could not be interpreted. Non-retryable for this cycle, but the
	// stored credential stays intact.
	ErrMalformed = errors.New("malformed token endpoint response")
)
