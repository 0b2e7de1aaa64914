package models

// UserProfile is the authenticated user's profile as returned by the auth
// backend and cached inside the persisted session record.
type UserProfile struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
	Credits  int    `json:"credits"`
}

// SessionRecord is the single persisted session entity: the bearer credential,
// its absolute expiry (unix seconds) and the cached profile. It is written and
// read as one blob so sibling contexts can never observe partial state.
type SessionRecord struct {
	AccessToken            string      `json:"access_token"`
	TokenExpiry            int64       `json:"token_expiry"`
	RefreshIntervalSeconds int         `json:"refresh_interval_seconds"`
	User                   UserProfile `json:"user"`
}
