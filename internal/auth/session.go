package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soumadip-dev/VedaCLI/internal/credentials"
)

// Refresher exchanges a refresh token for a new access token.
// *HTTPTransport implements it.
type Refresher interface {
	Refresh(ctx context.Context, clientID, refreshToken string) (TokenResponse, error)
}

// SaveError reports a credential that was refreshed but could not be persisted.
// The record is still usable for the current process.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("token refreshed but failed to save credentials: %v", e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Session hands out a usable credential, refreshing it silently when it is about to expire.
type Session struct {
	store     credentials.Store
	refresher Refresher
	clientID  string
	now       func() time.Time
	mu        sync.Mutex
}

// NewSession creates a Session. refresher may be nil, in which case expired credentials are not renewed.
func NewSession(store credentials.Store, refresher Refresher, clientID string, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		store:     store,
		refresher: refresher,
		clientID:  clientID,
		now:       now,
	}
}

// Require returns the stored credential if it is still valid, refreshing it when possible.
// It returns ErrNotAuthenticated when nothing is stored and ErrSessionExpired when the
// credential expired and could not be renewed. A *SaveError comes back together with a usable record.
func (s *Session) Require(ctx context.Context) (credentials.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.store.Load(ctx)
	if !ok {
		return credentials.Record{}, ErrNotAuthenticated
	}
	if !rec.Expired(s.now()) {
		return rec, nil
	}
	if rec.RefreshToken == "" || s.refresher == nil {
		return credentials.Record{}, ErrSessionExpired
	}
	return s.refreshLocked(ctx, rec)
}

// Refresh renews the stored credential unconditionally.
func (s *Session) Refresh(ctx context.Context) (credentials.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.store.Load(ctx)
	if !ok {
		return credentials.Record{}, ErrNotAuthenticated
	}
	if rec.RefreshToken == "" {
		return credentials.Record{}, errors.New("no refresh token available")
	}
	if s.refresher == nil {
		return credentials.Record{}, errors.New("this server does not support token refresh")
	}
	return s.refreshLocked(ctx, rec)
}

// refreshLocked renews old with the client it was issued to, falling back to the session's client.
func (s *Session) refreshLocked(ctx context.Context, old credentials.Record) (credentials.Record, error) {
	clientID := old.ClientID
	if clientID == "" {
		clientID = s.clientID
	}
	tok, err := s.refresher.Refresh(ctx, clientID, old.RefreshToken)
	if err != nil {
		return credentials.Record{}, fmt.Errorf("%w: refreshing token: %w", ErrSessionExpired, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}

	rec := credentials.NewRecord(tok.grant(), s.now())
	rec.ClientID = clientID
	if err := s.store.Save(ctx, rec); err != nil {
		return rec, &SaveError{Err: err}
	}
	return rec, nil
}
