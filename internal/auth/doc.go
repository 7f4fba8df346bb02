// Package auth manages the lifecycle of the IAP credential used to pass
// Google's Identity-Aware Proxy in front of an Airflow deployment.
//
// The Manager is the single synchronized entry point for obtaining a valid
// bearer token. It owns the in-memory credential, persists it through a
// tokenstore backend on every successful acquisition, refreshes it on demand
// when a caller finds it within the expiry margin, and runs a background
// loop that refreshes it on a fixed cadence independent of request traffic.
//
// Concurrent callers racing against a stale credential are collapsed into a
// single refresh via singleflight: exactly one exchange happens and every
// caller receives its outcome.
//
// # Components
//
// The Manager is wired with two collaborators it only knows by interface:
//
//   - Refresher exchanges a refresh token for a new credential without
//     human interaction (see internal/tokensource).
//   - InteractiveFlow runs the one-time browser consent handshake when no
//     refreshable credential exists (see internal/authflow).
//
// The background loop never runs the interactive flow; when a refresh token
// is rejected the loop logs and keeps its cadence, and the next Token call
// is responsible for re-authenticating.
package auth
