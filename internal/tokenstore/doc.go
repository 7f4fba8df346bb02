// Package tokenstore persists the credential record across process restarts.
//
// Three backends with different security and deployment tradeoffs:
//   - File: user-private JSON record with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, Linux Secret Service)
//   - Env: read-only environment variable access, for static tokens managed
//     by an external secret store
//
// OAuth authentication requires a writable backend (file or keyring) so that
// rotated refresh tokens survive restarts; static token authentication can
// use any backend including env.
package tokenstore
