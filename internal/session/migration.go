package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Migrator moves anonymous local history into the authenticated account,
// at most once per device. The persisted flag is set on any outcome — success
// or failure — so a flaky backend can never cause duplicate submissions. On
// failure the local entries stay in place for a manual retry path.
type Migrator struct {
	authAPI AuthAPI
	creds   *CredentialStore
	history HistoryStore
	log     *zap.SugaredLogger
}

func NewMigrator(authAPI AuthAPI, creds *CredentialStore, history HistoryStore, log *zap.SugaredLogger) *Migrator {
	return &Migrator{authAPI: authAPI, creds: creds, history: history, log: log}
}

func (g *Migrator) MigrateIfNeeded(ctx context.Context) error {
	done, err := g.creds.MigrationDone(ctx)
	if err != nil {
		return fmt.Errorf("check migration flag: %w", err)
	}
	if done {
		return nil
	}

	if g.history == nil {
		return g.creds.SetMigrationDone(ctx)
	}

	entries, err := g.history.Entries(ctx)
	if err != nil {
		// Flag stays unset: nothing was submitted, a later process may retry.
		return fmt.Errorf("read local history: %w", err)
	}
	if len(entries) == 0 {
		return g.creds.SetMigrationDone(ctx)
	}

	result, err := g.authAPI.MigrateEntries(ctx, entries)

	if flagErr := g.creds.SetMigrationDone(ctx); flagErr != nil {
		g.log.Errorw("failed to persist migration flag", "error", flagErr)
	}

	if err != nil {
		return fmt.Errorf("migrate %d entries: %w", len(entries), err)
	}
	if !result.Success {
		g.log.Warnw("migration rejected by backend, keeping local entries",
			"entries", len(entries), "errors", result.Errors)
		return nil
	}

	if err := g.history.Clear(ctx); err != nil {
		g.log.Errorw("failed to clear migrated local history", "error", err)
	}
	g.log.Infow("local history migrated", "migrated", result.MigratedCount)
	return nil
}
