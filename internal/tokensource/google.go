package tokensource

import (
	"golang.org/x/oauth2"
)

const (
	// DefaultClientID is the Google Cloud SDK's public desktop OAuth client.
	// Public clients of the "installed application" type carry no secret
	// worth protecting; the values are safe to ship. For full IAP
	// compatibility deployments should configure a desktop client from the
	// same GCP project as the IAP client.
	DefaultClientID = "764086051850-6qr4p6gpi6hn506pt8ejuq83di341hur.apps.googleusercontent.com"

	// DefaultClientSecret is the matching installed-app secret.
	DefaultClientSecret = "d-FL95Q19q7MQmFpd7hHD0Ty"
)

// Endpoint defines the Google OAuth2 endpoints used for both the interactive
// consent flow and refresh exchanges.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// Scopes are the OAuth scopes IAP needs to identify the signed-in user.
// Google may return them in a different order than requested.
var Scopes = []string{"openid", "https://www.googleapis.com/auth/userinfo.email"}
