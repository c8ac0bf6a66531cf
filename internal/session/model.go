package session

import "time"

// Session is a single registry entry. Timestamps are unix seconds;
// RevokedAt is zero while the entry is live.
type Session struct {
	SessionID string
	UserID    string
	Role      string

	CreatedAt int64
	ExpiresAt int64
	RevokedAt int64
}

// Active reports whether the entry is neither revoked nor past expiry
// at the given instant.
func (s *Session) Active(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.RevokedAt == 0 && now.Unix() < s.ExpiresAt
}
