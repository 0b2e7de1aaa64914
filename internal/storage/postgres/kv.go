package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/storage"
)

const (
	// NotifyChannel is the LISTEN/NOTIFY channel carrying change events.
	NotifyChannel = "sessiond_changes"

	watchBuffer          = 32
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

// Store keeps keys in a single kv_store table and raises a NOTIFY for every
// mutation, so contexts in other processes observe changes via LISTEN.
type Store struct {
	db  *sql.DB
	dsn string
	log *zap.SugaredLogger
}

func NewStore(db *sql.DB, dsn string, log *zap.SugaredLogger) *Store {
	return &Store{db: db, dsn: dsn, log: log}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := `SELECT value FROM kv_store WHERE key = $1`
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storage.ErrKeyNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to upsert key %q: %w", key, err)
	}
	return s.notify(ctx, storage.Change{Key: key, Value: value})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return s.notify(ctx, storage.Change{Key: key, Deleted: true})
}

func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(_ pq.ListenerEventType, err error) {
			if err != nil {
				s.log.Warnw("kv listener event", "error", err)
			}
		})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %q: %w", NotifyChannel, err)
	}

	out := make(chan storage.Change, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := listener.Close(); err != nil {
				s.log.Debugw("closing kv listener", "error", err)
			}
		}()

		for {
			select {
			case notification := <-listener.Notify:
				if notification == nil {
					// Reconnect marker; the listener re-establishes itself.
					continue
				}
				var change storage.Change
				if err := json.Unmarshal([]byte(notification.Extra), &change); err != nil {
					s.log.Warnw("malformed change event, skipping", "error", err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the database handle is owned by the caller that built it.
func (s *Store) Close() error { return nil }

func (s *Store) notify(ctx context.Context, change storage.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify change for key %q: %w", change.Key, err)
	}
	return nil
}
