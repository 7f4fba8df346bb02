// Package tokensource exchanges Google OAuth2 refresh tokens for IAP-scoped
// ID tokens.
//
// Google's Identity-Aware Proxy deviates from a plain OAuth2 refresh in one
// critical way: the refresh request must carry an `audience` parameter naming
// the IAP OAuth client, and the bearer consumed by the proxy is the `id_token`
// of the response, not the `access_token`.
//
// # Refresher
//
// Use NewRefresher with the desktop client identity and the IAP audience:
//
//	r := tokensource.NewRefresher(clientID, clientSecret, iapClientID)
//	cred, err := r.Refresh(ctx, cred)
//
// Failures are classified into the auth package's taxonomy: rejected refresh
// tokens (auth.ErrRefreshRejected), transient endpoint failures
// (auth.ErrTransient) and unparseable successes (auth.ErrMalformed).
//
// # Custom Base Transport
//
// Configure a custom base transport for token refresh requests (e.g., for
// proxies or custom timeouts):
//
//	r := tokensource.NewRefresher(
//		clientID, clientSecret, iapClientID,
//		tokensource.WithTransport(customTransport),
//	)
package tokensource
