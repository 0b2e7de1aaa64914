package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/storage"
)

const (
	// DefaultChannel carries change events between contexts sharing the store.
	DefaultChannel = "sessiond:changes"

	watchBuffer = 32
)

// Store persists keys in Redis and publishes every mutation on a pub/sub
// channel, so contexts on other processes observe changes as they happen.
type Store struct {
	client  *redis.Client
	channel string
	log     *zap.SugaredLogger
}

func NewStore(client *redis.Client, log *zap.SugaredLogger) *Store {
	return &Store{client: client, channel: DefaultChannel, log: log}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	payload, err := json.Marshal(storage.Change{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, value, 0)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	payload, err := json.Marshal(storage.Change{Key: key, Deleted: true})
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redis subscribe %q: %w", s.channel, err)
	}

	out := make(chan storage.Change, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				s.log.Debugw("closing pub/sub subscription", "error", err)
			}
		}()

		messages := sub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change storage.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
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

// Close is a no-op: the redis client is owned by the caller that built it.
func (s *Store) Close() error { return nil }
