package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/api"
	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/storage"
	"github.com/rryowa/sessiond/internal/util"
)

const teardownTimeout = 5 * time.Second

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Snapshot is the externally observable session state. Loading is true only
// during Initialize and the explicit Login/Register/Logout operations;
// background refresh never sets it.
type Snapshot struct {
	State         State
	User          *models.UserProfile
	Loading       bool
	Err           error
	Authenticated bool
}

type Config struct {
	API     AuthAPI
	Store   storage.KeyValueStore
	History HistoryStore
	Tokens  *api.TokenCache
	Session *util.SessionConfig
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

// Manager drives the session lifecycle: it adopts credentials, keeps them
// fresh through the Refresher, exposes the state snapshot and is the single
// teardown path for both explicit logout and terminal refresh failures.
type Manager struct {
	authAPI   AuthAPI
	creds     *CredentialStore
	refresher *Refresher
	migrator  *Migrator
	tokens    *api.TokenCache
	cfg       *util.SessionConfig
	log       *zap.SugaredLogger
	now       func() time.Time

	// migrateOnce guards the per-process migration trigger; the persisted
	// per-device flag inside the Migrator guards across processes.
	migrateOnce sync.Once

	mu      sync.RWMutex
	state   State
	user    *models.UserProfile
	loading bool
	err     error
}

func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sessionCfg := cfg.Session
	if sessionCfg == nil {
		sessionCfg = util.NewSessionConfig()
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = api.NewTokenCache()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	creds := NewCredentialStore(cfg.Store, log)

	m := &Manager{
		authAPI: cfg.API,
		creds:   creds,
		tokens:  tokens,
		cfg:     sessionCfg,
		log:     log,
		now:     now,
		state:   StateUninitialized,
	}

	refresher := NewRefresher(cfg.API, creds, sessionCfg, log)
	refresher.now = now
	refresher.OnSuccess(m.adoptRefreshed)
	refresher.OnTerminal(m.handleTerminalFailure)
	m.refresher = refresher

	m.migrator = NewMigrator(cfg.API, creds, cfg.History, log)

	return m
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var user *models.UserProfile
	if m.user != nil {
		u := *m.user
		user = &u
	}
	return Snapshot{
		State:         m.state,
		User:          user,
		Loading:       m.loading,
		Err:           m.err,
		Authenticated: m.state == StateAuthenticated || m.state == StateRefreshing,
	}
}

// Initialize settles the session from whatever the store holds: nothing means
// unauthenticated, a fresh record is adopted directly, a stale one blocks on
// one refresh before settling. Failures never propagate to the caller; they
// settle into the unauthenticated state instead.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateInitializing
	m.loading = true
	m.err = nil
	m.mu.Unlock()

	record, err := m.creds.Load(ctx)
	if err != nil {
		m.log.Warnw("unreadable session record, clearing", "error", err)
		if clearErr := m.creds.Clear(ctx); clearErr != nil {
			m.log.Errorw("failed to clear broken session record", "error", clearErr)
		}
		m.settle(StateUnauthenticated)
		return nil
	}
	if record == nil {
		m.settle(StateUnauthenticated)
		return nil
	}

	if ExpiringSoon(record.TokenExpiry, m.cfg.ExpiryBuffer, m.now()) {
		// The stored credential authenticates its own refresh; a fresh
		// process has nothing in the token cache yet. This is also the one
		// place that blocks on the refresh outcome: startup.
		m.tokens.Set(record.AccessToken)
		if err := m.refresher.Refresh(ctx); err != nil {
			m.log.Warnw("startup refresh failed", "error", err)
			m.settle(StateUnauthenticated)
			return nil
		}
	} else {
		m.adopt(record)
	}

	m.FetchCredits(ctx)
	m.runMigration(ctx)
	m.settle(StateAuthenticated)
	return nil
}

func (m *Manager) Login(ctx context.Context, email, password string, rememberMe bool) error {
	m.beginOp()

	result, err := m.authAPI.Login(ctx, email, password, rememberMe)
	if err != nil {
		m.log.Infow("login rejected", "email", email, "error", err)
		m.failOp(err)
		return err
	}

	record := recordFromLogin(result, m.now())
	if saveErr := m.creds.Save(ctx, record); saveErr != nil {
		m.log.Errorw("failed to persist session after login", "error", saveErr)
	}
	m.adopt(record)
	m.FetchCredits(ctx)
	m.runMigration(ctx)
	m.endOp()
	return nil
}

// Register submits a new account. It never authenticates the caller and never
// returns an error: rejections come back as an unsuccessful result so the
// caller can render a confirmation state either way.
func (m *Manager) Register(ctx context.Context, email, password, fullName string) *models.RegisterResult {
	m.beginOp()
	defer m.endOp()

	result, err := m.authAPI.Register(ctx, email, password, fullName)
	if err != nil {
		m.log.Warnw("registration failed", "email", email, "error", err)
		m.setErr(err)
		return &models.RegisterResult{Success: false, Message: "registration failed, please try again"}
	}
	if !result.Success {
		m.setErr(errors.New(result.Message))
	}
	return result
}

func (m *Manager) Logout(ctx context.Context) error {
	m.beginOp()
	m.teardown(ctx)
	m.endOp()
	return nil
}

// Refresh refreshes the credential in the background. It never toggles
// Loading; a terminal failure inside lands the session in the unauthenticated
// state via the shared teardown path.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.state = StateRefreshing
	}
	m.mu.Unlock()

	err := m.refresher.Refresh(ctx)

	m.mu.Lock()
	if m.state == StateRefreshing {
		if m.user != nil {
			m.state = StateAuthenticated
		} else {
			m.state = StateUnauthenticated
		}
	}
	m.mu.Unlock()
	return err
}

// FetchCredits patches only the credits field, in memory and in the persisted
// record. It never fails the caller: while unauthenticated it is a no-op and
// backend errors are logged and swallowed.
func (m *Manager) FetchCredits(ctx context.Context) {
	if !m.Snapshot().Authenticated {
		return
	}

	result, err := m.authAPI.UserCredits(ctx)
	if err != nil {
		m.log.Debugw("credits refresh failed", "error", err)
		return
	}

	m.mu.Lock()
	if m.user != nil {
		m.user.Credits = result.Credits
	}
	m.mu.Unlock()

	if err := m.creds.UpdateCredits(ctx, result.Credits); err != nil {
		m.log.Debugw("failed to persist refreshed credits", "error", err)
	}
}

// adopt takes a persisted record as the authenticated session and arms the
// refresh timer for it.
func (m *Manager) adopt(record *models.SessionRecord) {
	m.tokens.Set(record.AccessToken)

	m.mu.Lock()
	user := record.User
	m.user = &user
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.refresher.Schedule(record.TokenExpiry)
}

// adoptRefreshed mirrors a successful refresh into memory; the Refresher has
// already persisted the record and re-armed the timer.
func (m *Manager) adoptRefreshed(record *models.SessionRecord) {
	m.tokens.Set(record.AccessToken)

	m.mu.Lock()
	user := record.User
	m.user = &user
	m.state = StateAuthenticated
	m.mu.Unlock()
}

// teardown is the canonical logout: timer and in-flight refresh state die
// synchronously first, then the persisted record and in-memory state are
// cleared, then the backend is notified best-effort with the still-cached
// token.
func (m *Manager) teardown(ctx context.Context) {
	m.refresher.Stop()

	if err := m.creds.Clear(ctx); err != nil {
		m.log.Errorw("failed to clear persisted session", "error", err)
	}

	m.mu.Lock()
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if err := m.authAPI.Logout(ctx); err != nil {
		m.log.Debugw("server logout notification failed", "error", err)
	}
	m.tokens.Clear()
}

// dropLocal forces this context into the unauthenticated state without
// touching the store or the network; used when another context already
// performed the logout.
func (m *Manager) dropLocal() {
	m.refresher.Stop()
	m.tokens.Clear()

	m.mu.Lock()
	m.user = nil
	m.state = StateUnauthenticated
	m.err = nil
	m.mu.Unlock()
}

func (m *Manager) handleTerminalFailure(cause error) {
	m.log.Warnw("terminal refresh failure, forcing logout", "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	m.teardown(ctx)
}

func (m *Manager) runMigration(ctx context.Context) {
	m.migrateOnce.Do(func() {
		if err := m.migrator.MigrateIfNeeded(ctx); err != nil {
			m.log.Warnw("history migration failed", "error", err)
		}
	})
}

// NextRefreshIn reports the delay the automatic refresh timer is armed with,
// if one is armed.
func (m *Manager) NextRefreshIn() (time.Duration, bool) {
	return m.refresher.ScheduledIn()
}

func (m *Manager) accessToken() string {
	return m.tokens.Get()
}

// settle closes out Initialize: final state, loading cleared.
func (m *Manager) settle(state State) {
	m.mu.Lock()
	m.state = state
	m.loading = false
	m.mu.Unlock()
}

func (m *Manager) beginOp() {
	m.mu.Lock()
	m.loading = true
	m.err = nil
	m.mu.Unlock()
}

func (m *Manager) endOp() {
	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
}

func (m *Manager) failOp(err error) {
	m.mu.Lock()
	m.loading = false
	m.err = err
	m.mu.Unlock()
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
