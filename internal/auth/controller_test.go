package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/logging"
)

// gatedBackend blocks each call until the test releases it with a result.
type gatedBackend struct {
	mu        sync.Mutex
	started   chan struct{}
	release   chan result
	logoutErr error
	logouts   []string
}

type result struct {
	creds identity.Credentials
	err   error
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{started: make(chan struct{}, 4), release: make(chan result, 4)}
}

func (b *gatedBackend) Login(ctx context.Context, email, password string) (identity.Credentials, error) {
	b.started <- struct{}{}
	r := <-b.release
	return r.creds, r.err
}

func (b *gatedBackend) Register(ctx context.Context, p identity.Profile) (identity.Credentials, error) {
	b.started <- struct{}{}
	r := <-b.release
	return r.creds, r.err
}

func (b *gatedBackend) Logout(ctx context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts = append(b.logouts, token)
	return b.logoutErr
}

var asha = identity.Credentials{
	Identity: identity.Identity{ID: "u1", Name: "Asha", Email: "asha@example.com"},
	Token:    "tok-1",
}

func recordStatuses(c *Controller) (func() []Status, func()) {
	var mu sync.Mutex
	var seen []Status
	unsub := c.Subscribe(func(ch Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ch.Status)
	})
	return func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), seen...)
	}, unsub
}

func TestLoginSuccess(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())
	statuses, unsub := recordStatuses(c)
	defer unsub()

	b.release <- result{creds: asha}
	id, err := c.Login(context.Background(), "asha@example.com", "secret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id != asha.Identity {
		t.Errorf("identity: got %+v, want %+v", id, asha.Identity)
	}
	snap := c.Snapshot()
	if snap.Status != StatusAuthenticated || snap.Identity == nil || snap.Identity.ID != "u1" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	want := []Status{StatusAuthenticating, StatusAuthenticated}
	if got := statuses(); !equalStatuses(got, want) {
		t.Errorf("status sequence: got %v, want %v", got, want)
	}
	if c.Token() != "tok-1" {
		t.Errorf("Token: got %q", c.Token())
	}
}

func TestLoginFailureRevertsToAnonymousWithMessage(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())
	statuses, unsub := recordStatuses(c)
	defer unsub()

	b.release <- result{err: &Error{Kind: Invalid}}
	_, err := c.Login(context.Background(), "asha@example.com", "wrong")
	if !errors.Is(err, &Error{Kind: Invalid}) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusAnonymous {
		t.Errorf("status: got %v, want anonymous", snap.Status)
	}
	if snap.Message != "Invalid email or password." {
		t.Errorf("message: got %q", snap.Message)
	}
	want := []Status{StatusAuthenticating, StatusError, StatusAnonymous}
	if got := statuses(); !equalStatuses(got, want) {
		t.Errorf("status sequence: got %v, want %v", got, want)
	}
}

func TestLoginTransportErrorIsNetworkFailure(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	b.release <- result{err: context.DeadlineExceeded}
	_, err := c.Login(context.Background(), "asha@example.com", "pw")
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Kind != NetworkFailure {
		t.Fatalf("expected NetworkFailure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
}

func TestLoginEmptyFieldsInvalidWithoutBackend(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	_, err := c.Login(context.Background(), "  ", "")
	if !errors.Is(err, &Error{Kind: Invalid}) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	select {
	case <-b.started:
		t.Fatal("backend must not be called for empty credentials")
	default:
	}
}

func TestConcurrentLoginRejected(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "asha@example.com", "pw")
		done <- err
	}()
	<-b.started

	if _, err := c.Login(context.Background(), "asha@example.com", "pw"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if _, err := c.Register(context.Background(), identity.Profile{}); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight from Register, got %v", err)
	}

	b.release <- result{creds: asha}
	if err := <-done; err != nil {
		t.Fatalf("first Login: %v", err)
	}
}

// Logout while login is pending: the late success must not authenticate.
func TestLogoutDuringPendingLoginDiscardsResult(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "asha@example.com", "pw")
		done <- err
	}()
	<-b.started
	if got := c.Snapshot().Status; got != StatusAuthenticating {
		t.Fatalf("status while pending: got %v", got)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	b.release <- result{creds: asha}

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusAnonymous || snap.Identity != nil {
		t.Errorf("expected anonymous without identity, got %+v", snap)
	}
}

func TestCancelDiscardsLateFailure(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "asha@example.com", "pw")
		done <- err
	}()
	<-b.started

	if !c.Cancel() {
		t.Fatal("Cancel reported nothing pending")
	}
	b.release <- result{err: &Error{Kind: Invalid}}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if msg := c.Snapshot().Message; msg != "" {
		t.Errorf("stale failure leaked a message: %q", msg)
	}
	if c.Cancel() {
		t.Error("second Cancel should report nothing pending")
	}
}

func TestLogoutReportsRemoteFailureButClearsLocally(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	b := newGatedBackend()
	b.logoutErr = errors.New("connection refused")
	c := NewController(b, store, logging.Discard())

	b.release <- result{creds: asha}
	if _, err := c.Login(context.Background(), "asha@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := store.Load(); err != nil {
		t.Fatalf("credentials not persisted: %v", err)
	}

	err = c.Logout(context.Background())
	if !errors.Is(err, ErrRemoteLogout) {
		t.Fatalf("expected ErrRemoteLogout, got %v", err)
	}
	if c.Snapshot().Status != StatusAnonymous || c.Token() != "" {
		t.Errorf("local state not cleared: %+v", c.Snapshot())
	}
	if _, err := store.Load(); !errors.Is(err, identity.ErrNoCredentials) {
		t.Errorf("stored credentials not deleted: %v", err)
	}
	if len(b.logouts) != 1 || b.logouts[0] != "tok-1" {
		t.Errorf("backend logout calls: %v", b.logouts)
	}
}

func TestResumeSupersedesPendingLogin(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "other@example.com", "pw")
		done <- err
	}()
	<-b.started

	c.Resume(asha)
	b.release <- result{err: &Error{Kind: Invalid}}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Status != StatusAuthenticated || snap.Identity.ID != "u1" {
		t.Errorf("expected resumed identity, got %+v", snap)
	}

	c.Clear()
	if c.Snapshot().Status != StatusAnonymous {
		t.Errorf("Clear: expected anonymous, got %v", c.Snapshot().Status)
	}
}

func TestResumeDifferentUserEndsPreviousIdentity(t *testing.T) {
	c := NewController(newGatedBackend(), nil, logging.Discard())
	c.Resume(asha)
	statuses, unsub := recordStatuses(c)
	defer unsub()

	ravi := identity.Credentials{Identity: identity.Identity{ID: "u9", Name: "Ravi"}, Token: "tok-9"}
	c.Resume(ravi)

	want := []Status{StatusAnonymous, StatusAuthenticated}
	if got := statuses(); !equalStatuses(got, want) {
		t.Errorf("status sequence: got %v, want %v", got, want)
	}
	snap := c.Snapshot()
	if snap.Identity == nil || snap.Identity.ID != "u9" || c.Token() != "tok-9" {
		t.Errorf("expected u9, got %+v", snap)
	}
}

func TestResumeRefreshedTokenKeepsIdentity(t *testing.T) {
	c := NewController(newGatedBackend(), nil, logging.Discard())
	c.Resume(asha)
	statuses, unsub := recordStatuses(c)
	defer unsub()

	refreshed := asha
	refreshed.Token = "tok-1b"
	c.Resume(refreshed)

	if got := statuses(); len(got) != 0 {
		t.Errorf("token refresh changed status: %v", got)
	}
	if c.Token() != "tok-1b" {
		t.Errorf("Token: got %q", c.Token())
	}
}

func TestCancelledAttemptNeverReachesBackend(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	at, err := c.StartLogin("asha@example.com", "pw")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if c.Snapshot().Status != StatusAuthenticating {
		t.Fatalf("expected authenticating after StartLogin, got %v", c.Snapshot().Status)
	}
	if !c.Cancel() {
		t.Fatal("Cancel should report the claimed attempt")
	}
	if _, err := at.Wait(context.Background()); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	select {
	case <-b.started:
		t.Fatal("backend called for a cancelled attempt")
	default:
	}
	if c.Snapshot().Status != StatusAnonymous {
		t.Errorf("expected anonymous, got %v", c.Snapshot().Status)
	}
}

func TestLoginWhileAuthenticatedRejected(t *testing.T) {
	c := NewController(newGatedBackend(), nil, logging.Discard())
	c.Resume(asha)
	if _, err := c.Login(context.Background(), "asha@example.com", "pw"); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name    string
		profile identity.Profile
		ok      bool
	}{
		{"valid", identity.Profile{Name: "Asha", Email: "asha@example.com", Phone: "+91 98765 43210", Password: "long-enough"}, true},
		{"no phone", identity.Profile{Name: "Asha", Email: "asha@example.com", Password: "long-enough"}, true},
		{"missing name", identity.Profile{Email: "asha@example.com", Password: "long-enough"}, false},
		{"bad email", identity.Profile{Name: "Asha", Email: "asha", Password: "long-enough"}, false},
		{"display-name email", identity.Profile{Name: "Asha", Email: "Asha <asha@example.com>", Password: "long-enough"}, false},
		{"bad phone", identity.Profile{Name: "Asha", Email: "asha@example.com", Phone: "call me", Password: "long-enough"}, false},
		{"short password", identity.Profile{Name: "Asha", Email: "asha@example.com", Password: "short"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateProfile(tc.profile)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, &Error{Kind: ValidationFailed}) {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
		})
	}
}

func TestRegisterValidationFailureSkipsBackend(t *testing.T) {
	b := newGatedBackend()
	c := NewController(b, nil, logging.Discard())

	_, err := c.Register(context.Background(), identity.Profile{Name: "Asha", Email: "nope"})
	if !errors.Is(err, &Error{Kind: ValidationFailed}) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if c.Snapshot().Message != "Enter a valid email address." {
		t.Errorf("message: got %q", c.Snapshot().Message)
	}
	select {
	case <-b.started:
		t.Fatal("backend must not be called for an invalid profile")
	case <-time.After(10 * time.Millisecond):
	}
}

func equalStatuses(a, b []Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
