package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/api"
	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/session"
	"github.com/rryowa/sessiond/internal/storage"
	"github.com/rryowa/sessiond/internal/storage/memory"
)

type fixture struct {
	api     *fakeAPI
	store   *memory.Store
	history *fakeHistory
	mgr     *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zap.NewNop().Sugar()
	store := memory.NewStore(log)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		api:     newFakeAPI(),
		store:   store,
		history: &fakeHistory{},
	}
	f.mgr = session.NewManager(session.Config{
		API:     f.api,
		Store:   store,
		History: f.history,
		Session: testSessionConfig(),
		Logger:  log,
	})
	return f
}

func (f *fixture) seedRecord(t *testing.T, record models.SessionRecord) {
	t.Helper()

	raw, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), session.SessionKey, raw))
}

func (f *fixture) storedRecord(t *testing.T) *models.SessionRecord {
	t.Helper()

	raw, err := f.store.Get(context.Background(), session.SessionKey)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrKeyNotFound)
		return nil
	}
	var record models.SessionRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	return &record
}

func TestInitializeEmptyStore(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Initialize(context.Background()))

	snap := f.mgr.Snapshot()
	require.Equal(t, session.StateUnauthenticated, snap.State)
	require.False(t, snap.Authenticated)
	require.False(t, snap.Loading)
	require.Nil(t, snap.User)
	require.Equal(t, 0, f.api.refreshCallCount())
}

func TestInitializeAdoptsFreshRecord(t *testing.T) {
	f := newFixture(t)
	f.api.creditsFn = func() (*models.CreditsResult, error) {
		return &models.CreditsResult{Credits: 7}, nil
	}
	f.seedRecord(t, models.SessionRecord{
		AccessToken: "t1",
		TokenExpiry: time.Now().Add(time.Hour).Unix(),
		User:        models.UserProfile{ID: 1, Email: "a@b.c", Credits: 5},
	})

	require.NoError(t, f.mgr.Initialize(context.Background()))

	snap := f.mgr.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, 7, snap.User.Credits, "credits refreshed best-effort on adopt")
	require.Equal(t, 0, f.api.refreshCallCount(), "fresh record must not hit the refresh endpoint")

	require.Equal(t, 7, f.storedRecord(t).User.Credits, "credits patched into the persisted record")

	_, armed := f.mgr.NextRefreshIn()
	require.True(t, armed)
}

func TestInitializeRefreshesStaleRecord(t *testing.T) {
	f := newFixture(t)
	f.api.refreshFn = func() (*models.LoginResult, error) {
		return &models.LoginResult{
			AccessToken:      "t2",
			ExpiresInSeconds: 3600,
			User:             models.UserProfile{ID: 1, Credits: 5},
		}, nil
	}
	f.seedRecord(t, models.SessionRecord{
		AccessToken: "t1",
		TokenExpiry: time.Now().Add(-10 * time.Second).Unix(),
		User:        models.UserProfile{ID: 1, Credits: 5},
	})

	require.NoError(t, f.mgr.Initialize(context.Background()))

	snap := f.mgr.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, 1, f.api.refreshCallCount())
	require.Equal(t, "t2", f.storedRecord(t).AccessToken)

	delay, armed := f.mgr.NextRefreshIn()
	require.True(t, armed)
	require.InDelta(t, (3540 * time.Second).Seconds(), delay.Seconds(), 5)
}

func TestInitializeTerminalRefreshSettlesUnauthenticated(t *testing.T) {
	f := newFixture(t)
	f.api.refreshFn = func() (*models.LoginResult, error) {
		return nil, api.NewError(401, "invalid credential")
	}
	f.seedRecord(t, models.SessionRecord{
		AccessToken: "t1",
		TokenExpiry: time.Now().Add(-10 * time.Second).Unix(),
		User:        models.UserProfile{ID: 1},
	})

	require.NoError(t, f.mgr.Initialize(context.Background()))

	snap := f.mgr.Snapshot()
	require.Equal(t, session.StateUnauthenticated, snap.State)
	require.False(t, snap.Loading)
	require.Equal(t, 1, f.api.refreshCallCount())
	require.Nil(t, f.storedRecord(t), "terminal failure clears the persisted record")
	require.Equal(t, 1, f.api.logoutCallCount(), "teardown notifies the backend best-effort")
}

func TestInitializeMalformedRecordSettlesUnauthenticated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), session.SessionKey, []byte("{broken")))

	require.NoError(t, f.mgr.Initialize(context.Background()))

	require.Equal(t, session.StateUnauthenticated, f.mgr.Snapshot().State)
	require.Nil(t, f.storedRecord(t), "broken record is cleared")
}

func TestLoginAdoptsCredentialAndMigratesOnce(t *testing.T) {
	f := newFixture(t)
	f.api.loginFn = func(email, password string, _ bool) (*models.LoginResult, error) {
		return &models.LoginResult{
			AccessToken:      "t1",
			ExpiresInSeconds: 3600,
			User:             models.UserProfile{ID: 1, Email: email},
		}, nil
	}
	f.history.entries = []models.HistoryEntry{{ID: "h1", Prompt: "p"}}

	require.NoError(t, f.mgr.Login(context.Background(), "a@b.c", "pw", true))

	snap := f.mgr.Snapshot()
	require.True(t, snap.Authenticated)
	require.False(t, snap.Loading)
	require.Equal(t, "t1", f.storedRecord(t).AccessToken)
	require.Equal(t, 1, f.api.migrateCallCount())

	// Neither a repeated login nor a re-initialize migrates again.
	require.NoError(t, f.mgr.Login(context.Background(), "a@b.c", "pw", true))
	require.NoError(t, f.mgr.Initialize(context.Background()))
	require.Equal(t, 1, f.api.migrateCallCount())
}

func TestLoginFailureSurfacesError(t *testing.T) {
	f := newFixture(t)
	rejected := api.NewError(401, "invalid email or password")
	f.api.loginFn = func(string, string, bool) (*models.LoginResult, error) {
		return nil, rejected
	}

	err := f.mgr.Login(context.Background(), "a@b.c", "wrong", false)
	require.ErrorIs(t, err, rejected)

	snap := f.mgr.Snapshot()
	require.False(t, snap.Authenticated)
	require.False(t, snap.Loading)
	require.ErrorIs(t, snap.Err, rejected)
	require.Nil(t, f.storedRecord(t), "failed login persists nothing")
}

func TestRegisterNeverAuthenticates(t *testing.T) {
	f := newFixture(t)

	result := f.mgr.Register(context.Background(), "new@b.c", "pw", "New User")

	require.True(t, result.Success)
	require.NotEmpty(t, result.Message)

	snap := f.mgr.Snapshot()
	require.Equal(t, session.StateUninitialized, snap.State, "register does not move session state")
	require.False(t, snap.Authenticated)
	require.Nil(t, f.storedRecord(t), "register persists no credential")
}

func TestRegisterRejectionIsAResultNotAnError(t *testing.T) {
	f := newFixture(t)
	f.api.registerFn = func(string, string, string) (*models.RegisterResult, error) {
		return &models.RegisterResult{Success: false, Message: "email already registered"}, nil
	}

	result := f.mgr.Register(context.Background(), "dup@b.c", "pw", "Dup")

	require.False(t, result.Success)
	require.Equal(t, "email already registered", result.Message)
	require.Error(t, f.mgr.Snapshot().Err)
}

func TestLogoutTearsDownEverything(t *testing.T) {
	f := newFixture(t)
	f.api.loginFn = func(string, string, bool) (*models.LoginResult, error) {
		return &models.LoginResult{AccessToken: "t1", ExpiresInSeconds: 3600, User: models.UserProfile{ID: 1}}, nil
	}
	require.NoError(t, f.mgr.Login(context.Background(), "a@b.c", "pw", false))

	require.NoError(t, f.mgr.Logout(context.Background()))

	snap := f.mgr.Snapshot()
	require.Equal(t, session.StateUnauthenticated, snap.State)
	require.Nil(t, snap.User)
	require.Nil(t, f.storedRecord(t))
	require.Equal(t, 1, f.api.logoutCallCount())

	_, armed := f.mgr.NextRefreshIn()
	require.False(t, armed, "logout disarms the refresh timer")
}

func TestLogoutSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.api.loginFn = func(string, string, bool) (*models.LoginResult, error) {
		return &models.LoginResult{AccessToken: "t1", ExpiresInSeconds: 3600, User: models.UserProfile{ID: 1}}, nil
	}
	f.api.logoutFn = func() error { return api.NewError(500, "backend unavailable") }
	require.NoError(t, f.mgr.Login(context.Background(), "a@b.c", "pw", false))

	require.NoError(t, f.mgr.Logout(context.Background()))

	require.Equal(t, session.StateUnauthenticated, f.mgr.Snapshot().State)
	require.Nil(t, f.storedRecord(t))
}

func TestFetchCreditsIsANoopWhileUnauthenticated(t *testing.T) {
	f := newFixture(t)

	f.mgr.FetchCredits(context.Background())

	require.Equal(t, 0, f.api.creditsCallCount())
}

func TestBackgroundRefreshDoesNotSetLoading(t *testing.T) {
	f := newFixture(t)
	f.api.creditsFn = func() (*models.CreditsResult, error) {
		return &models.CreditsResult{Credits: 5}, nil
	}
	f.seedRecord(t, models.SessionRecord{
		AccessToken: "t1",
		TokenExpiry: time.Now().Add(time.Hour).Unix(),
		User:        models.UserProfile{ID: 1},
	})
	require.NoError(t, f.mgr.Initialize(context.Background()))

	loadingSeen := false
	f.api.refreshFn = func() (*models.LoginResult, error) {
		loadingSeen = f.mgr.Snapshot().Loading
		return &models.LoginResult{AccessToken: "t2", ExpiresInSeconds: 3600, User: models.UserProfile{ID: 1}}, nil
	}

	require.NoError(t, f.mgr.Refresh(context.Background()))

	require.False(t, loadingSeen, "background refresh must not block the UI")
	require.True(t, f.mgr.Snapshot().Authenticated)
	require.Equal(t, "t2", f.storedRecord(t).AccessToken)
}
