// Package credentials persists the token obtained by a device login and
// decides when it should no longer be used.
package credentials

import "time"

// ExpiryMargin is how far ahead of the real expiry a record is treated as expired.
const ExpiryMargin = 5 * time.Minute

const defaultTokenType = "Bearer"

// Grant is the raw token payload received from the token endpoint.
type Grant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int // seconds, relative to receipt
}

// Record is the persisted credential.
// ExpiresAt is absolute and is computed once, when the grant is received.
type Record struct {
	AccessToken  string    `toml:"access_token" json:"access_token"`
	RefreshToken string    `toml:"refresh_token" json:"refresh_token,omitempty"`
	TokenType    string    `toml:"token_type" json:"token_type"`
	Scope        string    `toml:"scope" json:"scope,omitempty"`
	ExpiresAt    time.Time `toml:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `toml:"created_at" json:"created_at"`
	ClientID     string    `toml:"client_id" json:"client_id,omitempty"` // client the token was issued to; refreshes reuse it
}

// NewRecord builds a Record from g as received at now.
// A grant without expires_in yields a zero ExpiresAt, which Expired treats as expired.
func NewRecord(g Grant, now time.Time) Record {
	rec := Record{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		TokenType:    g.TokenType,
		Scope:        g.Scope,
		CreatedAt:    now.UTC(),
	}
	if rec.TokenType == "" {
		rec.TokenType = defaultTokenType
	}
	if g.ExpiresIn > 0 {
		rec.ExpiresAt = now.Add(time.Duration(g.ExpiresIn) * time.Second).UTC()
	}
	return rec
}

// Expired reports whether the record should be considered unusable at now.
func (r Record) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return true
	}
	return r.ExpiresAt.Sub(now) < ExpiryMargin
}

// Remaining returns the time left before ExpiresAt, or zero if unknown or past.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.ExpiresAt.IsZero() || !r.ExpiresAt.After(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}
