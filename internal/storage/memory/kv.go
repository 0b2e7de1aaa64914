package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/storage"
)

const watchBuffer = 32

// Store is a process-local KeyValueStore with change fan-out. It backs tests
// and single-context deployments where no external store is configured.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	subs   map[int]chan storage.Change
	nextID int
	closed bool
	log    *zap.SugaredLogger
}

func NewStore(log *zap.SugaredLogger) *Store {
	return &Store{
		data: make(map[string][]byte),
		subs: make(map[int]chan storage.Change),
		log:  log,
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored

	s.notifyLocked(storage.Change{Key: key, Value: stored})
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)

	s.notifyLocked(storage.Change{Key: key, Deleted: true})
	return nil
}

func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	id := s.nextID
	s.nextID++
	ch := make(chan storage.Change, watchBuffer)
	s.subs[id] = ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}()

	return ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
	return nil
}

// notifyLocked delivers without blocking: a stalled watcher drops events
// rather than wedging writers.
func (s *Store) notifyLocked(change storage.Change) {
	for _, sub := range s.subs {
		select {
		case sub <- change:
		default:
			s.log.Debugw("change event dropped, watcher is not draining", "key", change.Key)
		}
	}
}
