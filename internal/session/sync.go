package session

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/storage"
)

// Synchronizer keeps this context's in-memory session consistent with the
// authoritative persisted record when sibling contexts mutate it, and repairs
// the refresh schedule after the process was suspended past its timer.
// Its handlers are defensive: malformed data is treated as a logout and no
// handler ever propagates an error.
type Synchronizer struct {
	mgr *Manager
	kv  storage.KeyValueStore
	log *zap.SugaredLogger

	lastRaw []byte
}

func NewSynchronizer(mgr *Manager, kv storage.KeyValueStore, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{mgr: mgr, kv: kv, log: log}
}

// Run consumes the store's change feed until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	changes, err := s.kv.Watch(ctx)
	if err != nil {
		return err
	}

	go func() {
		for change := range changes {
			s.handleChange(ctx, change)
		}
	}()
	return nil
}

func (s *Synchronizer) handleChange(ctx context.Context, change storage.Change) {
	if change.Key != SessionKey {
		return
	}

	if change.Deleted || len(change.Value) == 0 {
		// A sibling context logged out; mirror it without any network call.
		s.lastRaw = nil
		if s.mgr.Snapshot().Authenticated {
			s.log.Infow("session cleared elsewhere, dropping local state")
			s.mgr.dropLocal()
		}
		return
	}

	if bytes.Equal(change.Value, s.lastRaw) {
		return
	}
	s.lastRaw = append(s.lastRaw[:0], change.Value...)

	var record models.SessionRecord
	if err := json.Unmarshal(change.Value, &record); err != nil || record.AccessToken == "" {
		s.log.Warnw("malformed session record from sibling context, dropping local state", "error", err)
		s.mgr.dropLocal()
		return
	}

	// Our own write (login, refresh, credits patch) echoes back here; only a
	// credential minted elsewhere warrants re-initializing.
	if record.AccessToken == s.mgr.accessToken() {
		return
	}

	s.log.Infow("session record changed elsewhere, re-initializing")
	if err := s.mgr.Initialize(ctx); err != nil {
		s.log.Warnw("re-initialize after sibling change failed", "error", err)
	}
}

// HandleVisible is invoked when the host context returns to the foreground.
// Timers are unreliable while suspended, so if the persisted record went
// stale past its schedule the refresh runs immediately instead of waiting for
// a dead timer.
func (s *Synchronizer) HandleVisible(ctx context.Context) {
	if !s.mgr.Snapshot().Authenticated {
		return
	}

	record, err := s.mgr.creds.Load(ctx)
	if err != nil {
		s.log.Warnw("unreadable session record on resume, dropping local state", "error", err)
		s.mgr.dropLocal()
		return
	}
	if record == nil {
		s.mgr.dropLocal()
		return
	}

	if ExpiringSoon(record.TokenExpiry, s.mgr.cfg.ExpiryBuffer, s.mgr.now()) {
		s.log.Infow("credential went stale while suspended, refreshing now")
		if err := s.mgr.Refresh(ctx); err != nil {
			s.log.Warnw("resume refresh failed", "error", err)
		}
	}
}
