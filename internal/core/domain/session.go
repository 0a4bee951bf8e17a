package domain

import "time"

// Session is one issued refresh token. Only the token hash is persisted.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	IsRevoked        bool
	IPAddress        *string
	UserAgent        *string
	DeviceName       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsExpired reports whether the session has elapsed its validity window.
func (s Session) IsExpired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// IsValid reports whether the session can still be presented for rotation.
// Expiry is checked independently of the revocation flag.
func (s Session) IsValid(at time.Time) bool {
	if s.IsRevoked || s.RevokedAt != nil {
		return false
	}
	return !s.IsExpired(at)
}

// Revoke marks the session revoked, keeping IsRevoked and RevokedAt in step.
// Returns true when the session changed state.
func (s *Session) Revoke(at time.Time) bool {
	if s.IsRevoked && s.RevokedAt != nil {
		return false
	}
	revokedAt := at
	s.RevokedAt = &revokedAt
	s.IsRevoked = true
	s.UpdatedAt = at
	return true
}

// Rotate replaces the token hash and expiry in place and clears revocation state.
func (s *Session) Rotate(tokenHash string, expiresAt, at time.Time, ip, userAgent *string) {
	s.RefreshTokenHash = tokenHash
	s.ExpiresAt = expiresAt
	s.RevokedAt = nil
	s.IsRevoked = false
	s.UpdatedAt = at
	if ip != nil {
		ipCopy := *ip
		s.IPAddress = &ipCopy
	}
	if userAgent != nil {
		uaCopy := *userAgent
		s.UserAgent = &uaCopy
	}
}
