package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/storage"
)

const (
	// SessionKey holds the serialized session record. Sibling contexts watch
	// this key to mirror logins and logouts.
	SessionKey = "sessiond:session"

	deviceIDKey        = "sessiond:device_id"
	migrationKeyPrefix = "sessiond:migrated:"
)

// CredentialStore wraps the key-value layer with typed access to the session
// record, the per-device migration flag and the device identity.
type CredentialStore struct {
	kv  storage.KeyValueStore
	log *zap.SugaredLogger
}

func NewCredentialStore(kv storage.KeyValueStore, log *zap.SugaredLogger) *CredentialStore {
	return &CredentialStore{kv: kv, log: log}
}

// Load returns the persisted record, or (nil, nil) when none exists. A record
// persisted without an expiry gets one recovered from the access token's JWT
// exp claim; if that also fails the expiry stays zero and the token counts as
// already expired.
func (c *CredentialStore) Load(ctx context.Context) (*models.SessionRecord, error) {
	raw, err := c.kv.Get(ctx, SessionKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}

	var record models.SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	if record.AccessToken == "" {
		return nil, errors.New("session record has no access token")
	}

	if record.TokenExpiry == 0 {
		record.TokenExpiry = expiryFromToken(record.AccessToken)
		if record.TokenExpiry != 0 {
			c.log.Debugw("recovered token expiry from JWT claims", "expiry", record.TokenExpiry)
		}
	}

	return &record, nil
}

func (c *CredentialStore) Save(ctx context.Context, record *models.SessionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := c.kv.Set(ctx, SessionKey, raw); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (c *CredentialStore) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("clear session record: %w", err)
	}
	return nil
}

// UpdateCredits patches only the credits field of the persisted record. A
// missing record makes this a no-op.
func (c *CredentialStore) UpdateCredits(ctx context.Context, credits int) error {
	record, err := c.Load(ctx)
	if err != nil || record == nil {
		return err
	}
	record.User.Credits = credits
	return c.Save(ctx, record)
}

// DeviceID returns the stable identity of this device, generating and
// persisting one on first use.
func (c *CredentialStore) DeviceID(ctx context.Context) (string, error) {
	raw, err := c.kv.Get(ctx, deviceIDKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return "", fmt.Errorf("load device id: %w", err)
	}

	id := uuid.NewString()
	if err := c.kv.Set(ctx, deviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// MigrationDone reports whether this device has already attempted history
// migration. The flag is independent of the session record and survives
// logouts.
func (c *CredentialStore) MigrationDone(ctx context.Context) (bool, error) {
	key, err := c.migrationKey(ctx)
	if err != nil {
		return false, err
	}

	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("load migration flag: %w", err)
	}
	return string(raw) == "true", nil
}

func (c *CredentialStore) SetMigrationDone(ctx context.Context) error {
	key, err := c.migrationKey(ctx)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, key, []byte("true")); err != nil {
		return fmt.Errorf("persist migration flag: %w", err)
	}
	return nil
}

func (c *CredentialStore) migrationKey(ctx context.Context) (string, error) {
	deviceID, err := c.DeviceID(ctx)
	if err != nil {
		return "", err
	}
	return migrationKeyPrefix + deviceID, nil
}

// expiryFromToken pulls the exp claim out of a JWT without verifying the
// signature; verification is the backend's job, this side only schedules.
func expiryFromToken(token string) int64 {
	parsed, _, err := new(jwt.Parser).ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return 0
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}
