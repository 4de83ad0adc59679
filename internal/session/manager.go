package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"subtrack/internal/infra/metrics"
	"subtrack/internal/models"
	"subtrack/internal/remote"
)

const (
	// DefaultRefreshInterval is how often the session is proactively
	// revalidated against the auth backend.
	DefaultRefreshInterval = 5 * time.Minute
	// DefaultFlagTTL is how long the transient "just signed in" flag stays
	// raised.
	DefaultFlagTTL = 5 * time.Second
	// DefaultSignOutDelay is the grace period between a failed revalidation
	// and the forced sign-out notification.
	DefaultSignOutDelay = 5 * time.Second

	// ErrSessionExpired is the error slot value after a failed revalidation.
	ErrSessionExpired = "session expired, please sign in again"
)

// Manager owns the authenticated identity: it establishes the session on
// start, follows pushed auth state changes, revalidates on an interval, and
// handles sign-out. Remote failures are captured into an error slot and
// never propagate to the caller.
type Manager struct {
	remote remote.Client
	log    *slog.Logger

	refreshInterval time.Duration
	flagTTL         time.Duration
	signOutDelay    time.Duration

	// onSignedOut is invoked when the consumer should navigate away: no
	// session at start, explicit sign-out, remote invalidation.
	onSignedOut func(reason string)

	mu           sync.Mutex
	user         *models.User
	errMsg       string
	justSignedIn bool
	disposed     bool
	unsubscribe  func()
	flagTimer    *time.Timer
	signOutTimer *time.Timer

	ticker     *time.Ticker
	tickerDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithIntervals overrides the revalidation interval and timer delays.
func WithIntervals(refresh, flagTTL, signOutDelay time.Duration) Option {
	return func(m *Manager) {
		m.refreshInterval = refresh
		m.flagTTL = flagTTL
		m.signOutDelay = signOutDelay
	}
}

// New creates a manager. onSignedOut is called whenever the consumer should
// treat the session as gone; it may be called from a timer goroutine.
func New(rc remote.Client, log *slog.Logger, onSignedOut func(reason string), opts ...Option) *Manager {
	m := &Manager{
		remote:          rc,
		log:             log,
		refreshInterval: DefaultRefreshInterval,
		flagTTL:         DefaultFlagTTL,
		signOutDelay:    DefaultSignOutDelay,
		onSignedOut:     onSignedOut,
		tickerDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// User returns the authenticated identity, or nil when unauthenticated.
func (m *Manager) User() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Err returns the current error slot.
func (m *Manager) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// JustSignedIn reports whether the transient sign-in success flag is raised.
func (m *Manager) JustSignedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.justSignedIn
}

// Start establishes the session, subscribes to pushed auth state changes,
// and begins periodic revalidation. It returns the established user, or nil
// when unauthenticated (the sign-out callback fires in that case).
func (m *Manager) Start(ctx context.Context) *models.User {
	sess, err := m.remote.GetSession(ctx)
	switch {
	case err != nil:
		m.log.Error("session check failed", "err", err)
		m.setError(err.Error())
		m.notifySignedOut("session_error")
	case sess == nil:
		m.notifySignedOut("unauthenticated")
	default:
		m.setUser(&sess.User)
		m.raiseFlag()
	}

	unsub, err := m.remote.AuthEvents(ctx, m.handleAuthEvent)
	if err != nil {
		// The manager still works without the push feed; periodic
		// revalidation covers session loss.
		m.log.Warn("auth event feed unavailable", "err", err)
	} else {
		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			unsub()
		} else {
			m.unsubscribe = unsub
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	if !m.disposed {
		m.ticker = time.NewTicker(m.refreshInterval)
		go m.revalidateLoop()
	}
	m.mu.Unlock()

	return m.User()
}

func (m *Manager) handleAuthEvent(ev remote.AuthEvent) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch {
	case ev.Type == remote.EventSignedOut || ev.Session == nil:
		m.setUser(nil)
		m.notifySignedOut("signed_out")
	case ev.Type == remote.EventSignedIn:
		m.setUser(&ev.Session.User)
		m.raiseFlag()
	case ev.Type == remote.EventTokenRefreshed:
		m.setUser(&ev.Session.User)
	case ev.Type == remote.EventUserUpdated:
		m.setUser(&ev.Session.User)
	}
}

func (m *Manager) revalidateLoop() {
	for {
		select {
		case <-m.tickerDone:
			return
		case <-m.ticker.C:
			m.revalidate()
		}
	}
}

func (m *Manager) revalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := m.remote.RefreshSession(ctx)
	if err != nil || sess == nil {
		metrics.SessionRefreshes.WithLabelValues("error").Inc()
		m.log.Warn("session refresh failed", "err", err)
		m.setError(ErrSessionExpired)

		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			return
		}
		if m.signOutTimer != nil {
			m.signOutTimer.Stop()
		}
		m.signOutTimer = time.AfterFunc(m.signOutDelay, func() {
			m.notifySignedOut("session_expired")
		})
		m.mu.Unlock()
		return
	}

	metrics.SessionRefreshes.WithLabelValues("ok").Inc()
	m.setUser(&sess.User)
	m.setError("")
}

// SignOut invokes the remote sign-out. On success the identity is cleared
// and the sign-out callback fires; on failure the error is surfaced and the
// identity kept so the caller can retry.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.remote.SignOut(ctx); err != nil {
		m.log.Error("sign out failed", "err", err)
		m.setError("sign out failed: " + err.Error())
		return err
	}
	m.setUser(nil)
	m.notifySignedOut("signed_out")
	return nil
}

// Close tears the manager down: the auth subscription is released and every
// timer cancelled, so no callback runs against a disposed manager.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	unsub := m.unsubscribe
	m.unsubscribe = nil
	if m.flagTimer != nil {
		m.flagTimer.Stop()
	}
	if m.signOutTimer != nil {
		m.signOutTimer.Stop()
	}
	ticker := m.ticker
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if ticker != nil {
		ticker.Stop()
		close(m.tickerDone)
	}
}

func (m *Manager) setUser(u *models.User) {
	m.mu.Lock()
	m.user = u
	m.mu.Unlock()
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.mu.Unlock()
}

// raiseFlag raises the transient sign-in success flag and schedules its
// auto-clear.
func (m *Manager) raiseFlag() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.justSignedIn = true
	if m.flagTimer != nil {
		m.flagTimer.Stop()
	}
	m.flagTimer = time.AfterFunc(m.flagTTL, func() {
		m.mu.Lock()
		m.justSignedIn = false
		m.mu.Unlock()
	})
}

func (m *Manager) notifySignedOut(reason string) {
	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed || m.onSignedOut == nil {
		return
	}
	m.onSignedOut(reason)
}
