package models

import "time"

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginResult is returned by both login and refresh: a fresh credential plus
// the profile it belongs to. Registration deliberately never returns one.
type LoginResult struct {
	AccessToken      string      `json:"access_token"`
	ExpiresInSeconds int         `json:"expires_in_seconds"`
	User             UserProfile `json:"user"`
}

type RegisterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CreditsResult struct {
	Credits int `json:"credits"`
}

// HistoryEntry is one anonymous local record eligible for account migration.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

type MigrationRequest struct {
	Entries []HistoryEntry `json:"entries"`
}

type MigrationResult struct {
	Success       bool     `json:"success"`
	MigratedCount int      `json:"migrated_count"`
	Errors        []string `json:"errors,omitempty"`
}
