package credentials

import (
	"context"
	"time"
)

// Store holds at most one Record per user profile.
type Store interface {
	// Load returns the stored record. Absence is reported with ok=false, never as an error.
	Load(ctx context.Context) (rec Record, ok bool)
	// Save replaces the stored record.
	Save(ctx context.Context, rec Record) error
	// IsExpired is true when no record exists or the record is within ExpiryMargin of expiry.
	IsExpired(ctx context.Context) bool
	// Clear removes the record. Clearing an absent record is not an error.
	Clear(ctx context.Context) error
}

// Clock returns the current time. Stores use it for expiry checks.
type Clock func() time.Time

func isExpired(ctx context.Context, s Store, now Clock) bool {
	rec, ok := s.Load(ctx)
	if !ok {
		return true
	}
	return rec.Expired(now())
}
