package session

import (
	"context"

	"github.com/rryowa/sessiond/internal/models"
)

// AuthAPI is the remote auth backend as the session layer consumes it. A
// RefreshToken rejection must be classifiable: api.IsCredentialRejected
// separates a dead credential (stop retrying) from a transient failure.
type AuthAPI interface {
	Login(ctx context.Context, email, password string, rememberMe bool) (*models.LoginResult, error)
	Register(ctx context.Context, email, password, fullName string) (*models.RegisterResult, error)
	RefreshToken(ctx context.Context) (*models.LoginResult, error)
	Logout(ctx context.Context) error
	UserCredits(ctx context.Context) (*models.CreditsResult, error)
	MigrateEntries(ctx context.Context, entries []models.HistoryEntry) (*models.MigrationResult, error)
}

// HistoryStore is the anonymous local data that migrates into the first
// authenticated account.
type HistoryStore interface {
	Entries(ctx context.Context) ([]models.HistoryEntry, error)
	Clear(ctx context.Context) error
}
