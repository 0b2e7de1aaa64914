package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rryowa/sessiond/internal/api"
	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/util"
)

const refreshKey = "refresh"

var ErrRefreshAttemptsExhausted = errors.New("refresh attempts exhausted")

// Refresher owns the single in-flight refresh sequence, its retry policy and
// the recurring refresh timer. Concurrent Refresh calls share one backend
// call and one outcome; a terminal failure (credential rejected, or attempts
// exhausted) fires the teardown callback exactly once per sequence.
type Refresher struct {
	authAPI AuthAPI
	creds   *CredentialStore
	cfg     *util.SessionConfig
	log     *zap.SugaredLogger
	now     func() time.Time

	onSuccess  func(record *models.SessionRecord)
	onTerminal func(cause error)

	group singleflight.Group

	mu          sync.Mutex
	timer       *time.Timer
	scheduledIn time.Duration
	cancelSeq   context.CancelFunc
	attempts    int
}

func NewRefresher(authAPI AuthAPI, creds *CredentialStore, cfg *util.SessionConfig, log *zap.SugaredLogger) *Refresher {
	return &Refresher{
		authAPI: authAPI,
		creds:   creds,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// OnSuccess registers the callback invoked with every freshly persisted
// record. Must be set before the first Refresh.
func (r *Refresher) OnSuccess(fn func(record *models.SessionRecord)) { r.onSuccess = fn }

// OnTerminal registers the teardown callback for unrecoverable failures.
func (r *Refresher) OnTerminal(fn func(cause error)) { r.onTerminal = fn }

// Refresh runs (or joins) the refresh sequence. Callers arriving while a
// sequence is in flight share its outcome without a second backend call. The
// caller's ctx only bounds the wait; the sequence itself runs detached so one
// impatient caller cannot abort it for everyone else.
func (r *Refresher) Refresh(ctx context.Context) error {
	ch := r.group.DoChan(refreshKey, func() (interface{}, error) {
		seqCtx, cancel := context.WithCancel(context.Background())
		r.mu.Lock()
		r.cancelSeq = cancel
		r.mu.Unlock()
		defer cancel()
		return nil, r.runSequence(seqCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) runSequence(ctx context.Context) error {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()

	for {
		r.mu.Lock()
		r.attempts++
		attempt := r.attempts
		r.mu.Unlock()

		result, err := r.authAPI.RefreshToken(ctx)
		if err == nil {
			record := recordFromLogin(result, r.now())
			if saveErr := r.creds.Save(ctx, record); saveErr != nil {
				r.log.Errorw("failed to persist refreshed session", "error", saveErr)
			}

			r.mu.Lock()
			r.attempts = 0
			r.mu.Unlock()

			r.Schedule(record.TokenExpiry)
			if r.onSuccess != nil {
				r.onSuccess(record)
			}
			return nil
		}

		if api.IsCredentialRejected(err) {
			r.log.Warnw("credential rejected by backend, tearing down session", "attempt", attempt, "error", err)
			r.terminal(err)
			return fmt.Errorf("refresh: %w", err)
		}
		if attempt >= r.cfg.MaxRefreshAttempts {
			r.log.Warnw("refresh attempts exhausted, tearing down session", "attempts", attempt, "error", err)
			r.terminal(err)
			return fmt.Errorf("%w: %v", ErrRefreshAttemptsExhausted, err)
		}

		delay := r.cfg.BackoffBase << attempt
		r.log.Infow("transient refresh failure, backing off", "attempt", attempt, "delay", delay, "error", err)

		backoff := time.NewTimer(delay)
		select {
		case <-backoff.C:
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		}
	}
}

// Schedule arms the one-shot timer that refreshes the credential one buffer
// ahead of its expiry. The previous timer, if any, is always cancelled first,
// and the delay never drops below the configured minimum.
func (r *Refresher) Schedule(expiresAt int64) {
	delay := time.Unix(expiresAt, 0).Sub(r.now()) - r.cfg.ExpiryBuffer
	if delay < r.cfg.MinRefreshDelay {
		delay = r.cfg.MinRefreshDelay
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.scheduledIn = delay
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		// A fired timer no longer counts as armed; a successful refresh
		// arms a new one.
		r.mu.Lock()
		if r.timer == timer {
			r.timer = nil
		}
		r.mu.Unlock()

		if err := r.Refresh(context.Background()); err != nil {
			r.log.Debugw("scheduled refresh failed", "error", err)
		}
	})
	r.timer = timer
	r.log.Debugw("next refresh scheduled", "in", delay)
}

// ScheduledIn reports the delay the current timer was armed with.
func (r *Refresher) ScheduledIn() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer == nil {
		return 0, false
	}
	return r.scheduledIn, true
}

// Stop synchronously disarms the timer, aborts any in-flight sequence and
// zeroes the attempt counter. It is the only cancellation path and is safe to
// call from inside the teardown the sequence itself triggered.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	cancel := r.cancelSeq
	r.cancelSeq = nil
	r.attempts = 0
	r.mu.Unlock()

	r.group.Forget(refreshKey)
	if cancel != nil {
		cancel()
	}
}

func (r *Refresher) terminal(cause error) {
	if r.onTerminal != nil {
		r.onTerminal(cause)
	}
}

func recordFromLogin(result *models.LoginResult, now time.Time) *models.SessionRecord {
	return &models.SessionRecord{
		AccessToken:            result.AccessToken,
		TokenExpiry:            now.Add(time.Duration(result.ExpiresInSeconds) * time.Second).Unix(),
		RefreshIntervalSeconds: result.ExpiresInSeconds,
		User:                   result.User,
	}
}
