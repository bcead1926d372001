// Package auth owns the authenticated-identity lifecycle: login, register,
// logout and silent resume of a stored credential.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"unicode"

	"github.com/fakeyudi/lokseva/internal/identity"
)

// Status is the authentication state. Exactly one value holds at any time.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Backend is the remote authentication service.
type Backend interface {
	Login(ctx context.Context, email, password string) (identity.Credentials, error)
	Register(ctx context.Context, p identity.Profile) (identity.Credentials, error)
	Logout(ctx context.Context, token string) error
}

// Change describes the controller state after a status transition.
type Change struct {
	Status   Status
	Identity *identity.Identity // nil unless authenticated
	Message  string             // last user-displayable error, if any
}

// Controller is the single owner of Identity and Status. It is safe for
// concurrent use; only one login/register may be pending at a time.
type Controller struct {
	backend Backend
	store   identity.Store // optional
	logger  *slog.Logger

	mu        sync.Mutex
	status    Status
	creds     *identity.Credentials
	message   string
	gen       uint64
	pending   bool
	listeners map[int]func(Change)
	nextID    int
}

// NewController returns a Controller in the anonymous state. store may be
// nil, in which case credentials are kept in memory only.
func NewController(backend Backend, store identity.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		backend:   backend,
		store:     store,
		logger:    logger,
		listeners: make(map[int]func(Change)),
	}
}

// Subscribe registers fn to be called on every status change. fn runs while
// the controller lock is held, so it must not block or call back into the
// controller; the Change it receives carries the full state. The returned
// func removes the subscription.
func (c *Controller) Subscribe(fn func(Change)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changeLocked()
}

// Token returns the bearer token of the current identity, or "".
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return ""
	}
	return c.creds.Token
}

// Pending reports whether a login or register call is awaiting the backend.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Attempt is a login or register request that holds the pending slot but
// has not contacted the backend yet. Claiming the slot and waiting for the
// answer are separate steps so a caller can claim it under its own lock.
type Attempt struct {
	c     *Controller
	gen   uint64
	early error
	call  func(ctx context.Context) (identity.Credentials, error)
}

// Wait contacts the backend and applies the result. An attempt cancelled
// before Wait never reaches the backend.
func (a *Attempt) Wait(ctx context.Context) (identity.Identity, error) {
	if a.early != nil {
		return a.c.finish(a.gen, identity.Credentials{}, a.early)
	}
	if !a.c.current(a.gen) {
		return identity.Identity{}, ErrSuperseded
	}
	creds, err := a.call(ctx)
	return a.c.finish(a.gen, creds, err)
}

// StartLogin claims the pending slot for a login. The status becomes
// authenticating before it returns.
func (c *Controller) StartLogin(email, password string) (*Attempt, error) {
	email = strings.TrimSpace(email)
	g, err := c.begin()
	if err != nil {
		return nil, err
	}
	at := &Attempt{c: c, gen: g}
	if email == "" || password == "" {
		at.early = newError(Invalid, "Email and password are required.", nil)
		return at, nil
	}
	at.call = func(ctx context.Context) (identity.Credentials, error) {
		return c.backend.Login(ctx, email, password)
	}
	return at, nil
}

// StartRegister claims the pending slot for a registration. The profile is
// validated locally before the backend is contacted.
func (c *Controller) StartRegister(p identity.Profile) (*Attempt, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	g, err := c.begin()
	if err != nil {
		return nil, err
	}
	at := &Attempt{c: c, gen: g}
	if verr := ValidateProfile(p); verr != nil {
		at.early = verr
		return at, nil
	}
	at.call = func(ctx context.Context) (identity.Credentials, error) {
		return c.backend.Register(ctx, p)
	}
	return at, nil
}

// Login authenticates with email and password. While the backend call is
// outstanding the status is authenticating. A result that arrives after
// Logout, Cancel, Resume or Clear is discarded and ErrSuperseded returned.
func (c *Controller) Login(ctx context.Context, email, password string) (identity.Identity, error) {
	at, err := c.StartLogin(email, password)
	if err != nil {
		return identity.Identity{}, err
	}
	return at.Wait(ctx)
}

// Register creates an account and signs it in.
func (c *Controller) Register(ctx context.Context, p identity.Profile) (identity.Identity, error) {
	at, err := c.StartRegister(p)
	if err != nil {
		return identity.Identity{}, err
	}
	return at.Wait(ctx)
}

// Logout clears the local identity unconditionally, then asks the backend
// to invalidate the token. A remote failure is returned for reporting only;
// local state is already anonymous by then.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	creds := c.creds
	wasPending := c.pending
	c.gen++
	c.pending = false
	c.creds = nil
	c.message = ""
	if c.status != StatusAnonymous {
		c.setStatusLocked(StatusAnonymous)
	}
	c.mu.Unlock()

	if wasPending {
		c.logger.Info("pending authentication abandoned by logout")
	}
	c.deleteStored()

	if creds == nil {
		return nil
	}
	if err := c.backend.Logout(ctx, creds.Token); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteLogout, err)
	}
	return nil
}

// Cancel abandons a pending login/register, e.g. when the user navigates
// away from the form. It reports whether anything was cancelled.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return false
	}
	c.gen++
	c.pending = false
	c.setStatusLocked(StatusAnonymous)
	return true
}

// Resume installs an already-issued credential without contacting the
// backend (IdentityEstablished). Any pending request becomes stale. A fresh
// token for the same user is swapped in quietly; a different user first
// passes through anonymous so listeners see the old identity end before
// the new one begins.
func (c *Controller) Resume(creds identity.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := creds
	if c.status == StatusAuthenticated && c.creds != nil {
		if c.creds.Token == creds.Token {
			return
		}
		if c.creds.Identity.ID == creds.Identity.ID {
			c.creds = &cp
			return
		}
		c.logger.Info("stored identity replaced", "from", c.creds.Identity.ID, "to", creds.Identity.ID)
		c.creds = nil
		c.setStatusLocked(StatusAnonymous)
	}
	c.gen++
	c.pending = false
	c.message = ""
	c.creds = &cp
	c.setStatusLocked(StatusAuthenticated)
}

// Clear drops the identity because it was revoked elsewhere
// (IdentityCleared). The backend is not contacted.
func (c *Controller) Clear() {
	c.mu.Lock()
	changed := c.creds != nil || c.pending
	if changed {
		c.gen++
		c.pending = false
		c.creds = nil
		c.setStatusLocked(StatusAnonymous)
	}
	c.mu.Unlock()
	if changed {
		c.deleteStored()
	}
}

func (c *Controller) begin() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return 0, ErrInFlight
	}
	if c.creds != nil {
		return 0, ErrAlreadyAuthenticated
	}
	c.gen++
	c.pending = true
	c.message = ""
	c.setStatusLocked(StatusAuthenticating)
	return c.gen, nil
}

func (c *Controller) current(g uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return g == c.gen
}

func (c *Controller) finish(g uint64, creds identity.Credentials, err error) (identity.Identity, error) {
	c.mu.Lock()
	if g != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale authentication result", "request", g)
		return identity.Identity{}, ErrSuperseded
	}
	c.pending = false

	if err != nil {
		authErr := classify(err)
		c.message = authErr.Message
		c.setStatusLocked(StatusError)
		c.setStatusLocked(StatusAnonymous)
		c.mu.Unlock()
		c.logger.Info("authentication failed", "kind", authErr.Kind.String(), "error", err)
		return identity.Identity{}, authErr
	}

	cp := creds
	c.creds = &cp
	c.message = ""
	c.setStatusLocked(StatusAuthenticated)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(&cp); err != nil {
			c.logger.Warn("could not persist credentials", "error", err)
		}
	}
	return cp.Identity, nil
}

func (c *Controller) deleteStored() {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(); err != nil {
		c.logger.Warn("could not delete stored credentials", "error", err)
	}
}

func (c *Controller) setStatusLocked(s Status) {
	c.status = s
	ch := c.changeLocked()
	for _, fn := range c.listeners {
		fn(ch)
	}
}

func (c *Controller) changeLocked() Change {
	ch := Change{Status: c.status, Message: c.message}
	if c.status == StatusAuthenticated && c.creds != nil {
		id := c.creds.Identity
		ch.Identity = &id
	}
	return ch
}

// ValidateProfile checks a registration profile locally. It returns a
// ValidationFailed *Error describing the first problem found.
func ValidateProfile(p identity.Profile) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return newError(ValidationFailed, "Name is required.", nil)
	case !validEmail(p.Email):
		return newError(ValidationFailed, "Enter a valid email address.", nil)
	case p.Phone != "" && !validPhone(p.Phone):
		return newError(ValidationFailed, "Enter a valid phone number.", nil)
	case len(p.Password) < 8:
		return newError(ValidationFailed, "Password must be at least 8 characters.", nil)
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validPhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
