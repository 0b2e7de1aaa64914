package session_test

import (
	"context"
	"errors"
	"sync"

	"github.com/rryowa/sessiond/internal/models"
)

// fakeAPI is a hand-rolled auth backend double: behavior per call via
// function fields, call counts tracked for assertions.
type fakeAPI struct {
	mu sync.Mutex

	loginFn    func(email, password string, rememberMe bool) (*models.LoginResult, error)
	registerFn func(email, password, fullName string) (*models.RegisterResult, error)
	refreshFn  func() (*models.LoginResult, error)
	logoutFn   func() error
	creditsFn  func() (*models.CreditsResult, error)
	migrateFn  func(entries []models.HistoryEntry) (*models.MigrationResult, error)

	loginCalls    int
	registerCalls int
	refreshCalls  int
	logoutCalls   int
	creditsCalls  int
	migrateCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{}
}

func (f *fakeAPI) Login(_ context.Context, email, password string, rememberMe bool) (*models.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	fn := f.loginFn
	f.mu.Unlock()

	if fn == nil {
		return nil, errors.New("fakeAPI: login not configured")
	}
	return fn(email, password, rememberMe)
}

func (f *fakeAPI) Register(_ context.Context, email, password, fullName string) (*models.RegisterResult, error) {
	f.mu.Lock()
	f.registerCalls++
	fn := f.registerFn
	f.mu.Unlock()

	if fn == nil {
		return &models.RegisterResult{Success: true, Message: "account created"}, nil
	}
	return fn(email, password, fullName)
}

func (f *fakeAPI) RefreshToken(_ context.Context) (*models.LoginResult, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()

	if fn == nil {
		return nil, errors.New("fakeAPI: refresh not configured")
	}
	return fn()
}

func (f *fakeAPI) Logout(_ context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	fn := f.logoutFn
	f.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn()
}

func (f *fakeAPI) UserCredits(_ context.Context) (*models.CreditsResult, error) {
	f.mu.Lock()
	f.creditsCalls++
	fn := f.creditsFn
	f.mu.Unlock()

	if fn == nil {
		return &models.CreditsResult{}, nil
	}
	return fn()
}

func (f *fakeAPI) MigrateEntries(_ context.Context, entries []models.HistoryEntry) (*models.MigrationResult, error) {
	f.mu.Lock()
	f.migrateCalls++
	fn := f.migrateFn
	f.mu.Unlock()

	if fn == nil {
		return &models.MigrationResult{Success: true, MigratedCount: len(entries)}, nil
	}
	return fn(entries)
}

func (f *fakeAPI) refreshCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAPI) logoutCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func (f *fakeAPI) migrateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.migrateCalls
}

func (f *fakeAPI) creditsCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creditsCalls
}

// fakeHistory is an in-memory HistoryStore double.
type fakeHistory struct {
	mu         sync.Mutex
	entries    []models.HistoryEntry
	entriesErr error
	clears     int
}

func (f *fakeHistory) Entries(_ context.Context) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	out := make([]models.HistoryEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeHistory) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	f.clears++
	return nil
}

func (f *fakeHistory) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeHistory) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
