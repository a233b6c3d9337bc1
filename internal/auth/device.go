package auth

import "github.com/soumadip-dev/VedaCLI/internal/credentials"

// DeviceCodeResponse holds the initial response from a device authorization request.
// It contains the code to show the user and the parameters needed for polling.
type DeviceCodeResponse struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string // optional, already carries the user code
	ExpiresIn               int    // seconds until the device code expires
	Interval                int    // minimum polling interval in seconds
}

// ExpiresInMinutes is the device code lifetime rounded down to whole minutes.
func (d DeviceCodeResponse) ExpiresInMinutes() int {
	return d.ExpiresIn / 60
}

// TokenResponse holds the tokens returned after successful OAuth authorization.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int // seconds, 0 when the server did not say
}

func (t TokenResponse) grant() credentials.Grant {
	return credentials.Grant{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Scope:        t.Scope,
		ExpiresIn:    t.ExpiresIn,
	}
}
