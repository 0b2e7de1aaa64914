package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/storage"
)

const storageKey = "sessiond:history"

// Store keeps the anonymous local history in the shared key-value layer as a
// single JSON list, so it lives and dies with the rest of the device state.
type Store struct {
	kv  storage.KeyValueStore
	log *zap.SugaredLogger
}

func NewStore(kv storage.KeyValueStore, log *zap.SugaredLogger) *Store {
	return &Store{kv: kv, log: log}
}

func (s *Store) Entries(ctx context.Context) ([]models.HistoryEntry, error) {
	raw, err := s.kv.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("load local history: %w", err)
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode local history: %w", err)
	}
	return entries, nil
}

func (s *Store) Append(ctx context.Context, entry models.HistoryEntry) error {
	entries, err := s.Entries(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode local history: %w", err)
	}
	if err := s.kv.Set(ctx, storageKey, raw); err != nil {
		return fmt.Errorf("save local history: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, storageKey); err != nil {
		return fmt.Errorf("clear local history: %w", err)
	}
	return nil
}
