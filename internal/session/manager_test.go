package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"subtrack/internal/models"
	"subtrack/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAuth implements remote.Client for session manager tests. The data
// plane methods are never reached.
type fakeAuth struct {
	mu          sync.Mutex
	session     *models.Session
	getErr      error
	refreshErr  error
	signOutErr  error
	eventFn     func(remote.AuthEvent)
	unsubCalled bool
}

func (f *fakeAuth) setSession(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeAuth) setRefreshErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = err
}

func (f *fakeAuth) GetSession(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeAuth) RefreshSession(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeAuth) AuthEvents(ctx context.Context, fn func(remote.AuthEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubCalled = true
	}, nil
}

func (f *fakeAuth) push(ev remote.AuthEvent) {
	f.mu.Lock()
	fn := f.eventFn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakeAuth) Select(ctx context.Context, table string, filter remote.Filter, order *remote.Order) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeAuth) Insert(ctx context.Context, table string, record any) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeAuth) Update(ctx context.Context, table string, filter remote.Filter, patch any) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeAuth) Delete(ctx context.Context, table string, filter remote.Filter) error {
	return nil
}

// signOutRecorder records sign-out notifications.
type signOutRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *signOutRecorder) record(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *signOutRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reasons))
	copy(out, r.reasons)
	return out
}

func testSession(userID string) *models.Session {
	return &models.Session{
		AccessToken:  "token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         models.User{ID: userID, Email: userID + "@example.com"},
	}
}

func newTestManager(auth *fakeAuth, rec *signOutRecorder) *Manager {
	return New(auth, discardLogger(), rec.record,
		WithIntervals(25*time.Millisecond, 30*time.Millisecond, 10*time.Millisecond))
}

func TestStartEstablishesSession(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	user := m.Start(context.Background())

	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, m.JustSignedIn(), "success flag raised on sign-in")
	assert.Empty(t, rec.all())

	// The flag auto-clears after its TTL.
	require.Eventually(t, func() bool { return !m.JustSignedIn() },
		500*time.Millisecond, 5*time.Millisecond)
}

func TestStartUnauthenticated(t *testing.T) {
	auth := &fakeAuth{}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	user := m.Start(context.Background())

	assert.Nil(t, user)
	reasons := rec.all()
	require.NotEmpty(t, reasons)
	assert.Equal(t, "unauthenticated", reasons[0])
}

func TestRevalidationFailureSchedulesSignOut(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	m.Start(context.Background())
	auth.setRefreshErr(&remote.Error{Kind: remote.KindPermissionDenied, Message: "token revoked"})

	require.Eventually(t, func() bool { return m.Err() == ErrSessionExpired },
		time.Second, 5*time.Millisecond)

	// After the grace delay the consumer is told to navigate away.
	require.Eventually(t, func() bool {
		for _, r := range rec.all() {
			if r == "session_expired" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRevalidationSuccessClearsError(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := New(auth, discardLogger(), rec.record,
		WithIntervals(25*time.Millisecond, 30*time.Millisecond, time.Hour))
	defer m.Close()

	m.Start(context.Background())
	auth.setRefreshErr(&remote.Error{Kind: remote.KindNetwork, Message: "blip"})
	require.Eventually(t, func() bool { return m.Err() == ErrSessionExpired },
		time.Second, 5*time.Millisecond)

	auth.setRefreshErr(nil)
	auth.setSession(testSession("u1-renewed"))

	require.Eventually(t, func() bool { return m.Err() == "" },
		time.Second, 5*time.Millisecond)
	require.NotNil(t, m.User())
	assert.Equal(t, "u1-renewed", m.User().ID)
}

func TestAuthEventsUpdateIdentity(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	m.Start(context.Background())

	auth.push(remote.AuthEvent{Type: remote.EventUserUpdated, Session: testSession("u1-updated")})
	require.NotNil(t, m.User())
	assert.Equal(t, "u1-updated", m.User().ID)

	auth.push(remote.AuthEvent{Type: remote.EventTokenRefreshed, Session: testSession("u1-refreshed")})
	assert.Equal(t, "u1-refreshed", m.User().ID)

	auth.push(remote.AuthEvent{Type: remote.EventSignedOut})
	assert.Nil(t, m.User())
	assert.Contains(t, rec.all(), "signed_out")
}

func TestSignedInEventRaisesFlag(t *testing.T) {
	auth := &fakeAuth{}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	m.Start(context.Background())
	assert.False(t, m.JustSignedIn())

	auth.push(remote.AuthEvent{Type: remote.EventSignedIn, Session: testSession("u1")})
	require.NotNil(t, m.User())
	assert.True(t, m.JustSignedIn())
}

func TestSignOutClearsIdentity(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	m.Start(context.Background())
	require.NoError(t, m.SignOut(context.Background()))

	assert.Nil(t, m.User())
	assert.Contains(t, rec.all(), "signed_out")
}

func TestSignOutFailureKeepsIdentity(t *testing.T) {
	auth := &fakeAuth{
		session:    testSession("u1"),
		signOutErr: &remote.Error{Kind: remote.KindNetwork, Message: "unreachable"},
	}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)
	defer m.Close()

	m.Start(context.Background())
	err := m.SignOut(context.Background())

	require.Error(t, err)
	require.NotNil(t, m.User(), "identity kept so the caller can retry")
	assert.Contains(t, m.Err(), "sign out failed")
}

func TestStartAfterCloseDoesNotRevalidate(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)

	m.Close()
	auth.setRefreshErr(&remote.Error{Kind: remote.KindNetwork, Message: "unreachable"})
	m.Start(context.Background())

	// With the 25ms refresh interval a leaked revalidation loop would set
	// the expiry error almost immediately.
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, m.Err(), "no revalidation after disposal")
	assert.Empty(t, rec.all())
}

func TestCloseReleasesSubscriptionAndSilencesCallbacks(t *testing.T) {
	auth := &fakeAuth{session: testSession("u1")}
	rec := &signOutRecorder{}
	m := newTestManager(auth, rec)

	m.Start(context.Background())
	m.Close()

	auth.mu.Lock()
	released := auth.unsubCalled
	auth.mu.Unlock()
	assert.True(t, released, "auth subscription released exactly once")

	// Events delivered after disposal must not reach the consumer.
	before := len(rec.all())
	auth.push(remote.AuthEvent{Type: remote.EventSignedOut})
	assert.Len(t, rec.all(), before)

	// Close is idempotent.
	m.Close()
}
