package models

import "time"

// NonceRecord marks a request object jti as consumed. Its existence is the
// replay guarantee; it is written once and left to expire.
type NonceRecord struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTL is the remaining lifetime relative to now, never negative.
func (n NonceRecord) TTL(now time.Time) time.Duration {
	return max(n.ExpiresAt.Sub(now), 0)
}

// Session is created by the journey outcome and keyed by an opaque ID carried in a cookie.
type Session struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Scope       Scope     `json:"scope"`
	RedirectURI string    `json:"redirect_uri"`
	State       string    `json:"state,omitempty"`
	Claims      Claims    `json:"claims"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthorizationCode is created by the code outcome and redeemed once at the token endpoint.
type AuthorizationCode struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       Scope     `json:"scope"`
	Claims      Claims    `json:"claims"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the code can no longer be redeemed.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CapExpiry returns now+ttl, pulled in to the earliest of bounds and capped at now+maxTTL.
// Zero bounds are ignored.
func CapExpiry(now time.Time, ttl, maxTTL time.Duration, bounds ...time.Time) time.Time {
	exp := now.Add(ttl)
	for _, b := range bounds {
		if !b.IsZero() && b.Before(exp) {
			exp = b
		}
	}
	if limit := now.Add(maxTTL); limit.Before(exp) {
		exp = limit
	}
	return exp.UTC()
}
