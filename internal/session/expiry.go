package session

import "time"

// ExpiringSoon reports whether a token with the given absolute expiry (unix
// seconds) is expired or will expire within buffer. A zero or negative expiry
// means the expiry is unknown and the token counts as already expired.
//
// This predicate is the single source of truth on token freshness; every
// component consults it rather than comparing timestamps itself.
func ExpiringSoon(expiresAt int64, buffer time.Duration, now time.Time) bool {
	if expiresAt <= 0 {
		return true
	}
	return !now.Add(buffer).Before(time.Unix(expiresAt, 0))
}
