// Package app wires the auth controller, navigation, timeline and transport
// together behind one serialized event loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/lokseva/internal/agentstate"
	"github.com/fakeyudi/lokseva/internal/appstate"
	"github.com/fakeyudi/lokseva/internal/auth"
	"github.com/fakeyudi/lokseva/internal/bridge"
	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/timeline"
	"github.com/fakeyudi/lokseva/internal/transport"
)

var (
	// ErrWrongScreen rejects an intent the current screen does not offer.
	ErrWrongScreen = errors.New("not available on this screen")
	// ErrChatDisabled rejects sends when chat input is turned off.
	ErrChatDisabled = errors.New("chat input is disabled")
	// ErrStopped is returned by intents after Run has returned.
	ErrStopped = errors.New("app stopped")
)

const maxNotifications = 20

// Options configures an App.
type Options struct {
	Title             string
	Room              string
	AgentSender       string
	SupportsChatInput bool
	Logger            *slog.Logger
	Clock             func() time.Time
}

// View is an immutable snapshot of everything the presentation layer shows.
type View struct {
	Title         string
	Screen        appstate.Screen
	Status        auth.Status
	Pending       bool
	Identity      *identity.Identity
	AuthError     string
	Agent         agentstate.DisplayState
	Timeline      []timeline.Entry
	Notifications []bridge.Notification
	Connected     bool
	ConnError     string
	ChatInput     bool
	Version       uint64
}

// App owns the serialized loop. All fields below the mailbox are touched
// only on the loop goroutine.
type App struct {
	ctrl   *auth.Controller
	store  identity.Store
	dialer transport.Dialer
	opts   Options
	logger *slog.Logger

	machine   *appstate.Machine
	agg       *timeline.Aggregator
	presenter *agentstate.Presenter
	bridge    *bridge.Bridge

	box     *mailbox
	done    chan struct{}
	ctx     context.Context

	authState auth.Change
	conn      transport.Conn
	dialGen   uint64
	connErr   string
	notices   []bridge.Notification
	version   uint64

	viewMu sync.RWMutex
	view   View

	subMu sync.Mutex
	subs  map[int]chan struct{}
	subID int

	unsubscribe func()
}

// New builds an App. store and dialer may be nil: without a store nothing
// is resumed or watched, without a dialer the session runs unconnected.
func New(ctrl *auth.Controller, store identity.Store, dialer transport.Dialer, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	a := &App{
		ctrl:      ctrl,
		store:     store,
		dialer:    dialer,
		opts:      opts,
		logger:    opts.Logger.With("component", "app"),
		machine:   appstate.New(),
		agg:       timeline.New(timeline.WithLogger(opts.Logger), timeline.WithClock(opts.Clock)),
		presenter: &agentstate.Presenter{},
		box:       newMailbox(),
		done:      make(chan struct{}),
		subs:      make(map[int]chan struct{}),
	}
	a.bridge = bridge.New(a.agg, a.presenter, bridge.Options{
		Post:   a.post,
		Notify: a.addNotice,
		Logger: opts.Logger,
		Clock:  opts.Clock,
	})
	a.authState = ctrl.Snapshot()
	// A controller handed over already signed in starts on the session
	// screen; Run connects it.
	a.machine.OnStatus(a.authState.Status)
	a.view = a.buildView()
	a.unsubscribe = ctrl.Subscribe(func(ch auth.Change) {
		a.post(func() { a.onAuthChange(ch) })
	})
	return a
}

// Run resumes a stored identity, watches for external credential changes
// and processes events until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.ctx = ctx
	defer close(a.done)
	defer a.unsubscribe()

	if a.machine.Screen() == appstate.Session && a.conn == nil {
		a.startSession()
		a.publish()
	}

	if a.store != nil {
		if creds, err := a.store.Load(); err == nil {
			a.logger.Info("resuming stored identity", "user", creds.Identity.ID)
			a.ctrl.Resume(*creds)
		} else if !errors.Is(err, identity.ErrNoCredentials) {
			a.logger.Warn("could not read stored credentials", "error", err)
		}
		go func() {
			if err := identity.Watch(ctx, a.store, a.logger, a.onCredentialChange); err != nil {
				a.logger.Warn("credential watcher stopped", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return nil
		case <-a.box.signal:
			for _, fn := range a.box.drain() {
				fn()
			}
			a.publish()
		}
	}
}

// State returns the latest view.
func (a *App) State() View {
	a.viewMu.RLock()
	defer a.viewMu.RUnlock()
	return a.view
}

// Updates returns a channel that receives a value whenever the view
// changes. Signals coalesce; read State for the content.
func (a *App) Updates() (<-chan struct{}, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.subID
	a.subID++
	ch := make(chan struct{}, 1)
	a.subs[id] = ch
	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subs, id)
	}
}

// Done is closed when Run has returned.
func (a *App) Done() <-chan struct{} { return a.done }

func (a *App) post(fn func()) { a.box.post(fn) }

// call runs fn on the loop and waits for its result.
func (a *App) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	a.post(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
}

// ── Intents ──────────────────────────────────────────────────────────────────

// GetStarted leaves the landing screen.
func (a *App) GetStarted(ctx context.Context) error {
	return a.call(ctx, func() error { return a.fire(appstate.GetStarted) })
}

// ShowLogin switches from the register form to the login form.
func (a *App) ShowLogin(ctx context.Context) error {
	return a.call(ctx, func() error { return a.navigateAway(appstate.SwitchToLogin) })
}

// ShowRegister switches from the login form to the register form.
func (a *App) ShowRegister(ctx context.Context) error {
	return a.call(ctx, func() error { return a.navigateAway(appstate.SwitchToRegister) })
}

// Back returns from a form to the landing screen.
func (a *App) Back(ctx context.Context) error {
	return a.call(ctx, func() error { return a.navigateAway(appstate.Back) })
}

// Login submits the login form. It blocks until the backend answers; the
// view shows the pending state meanwhile.
func (a *App) Login(ctx context.Context, email, password string) error {
	var at *auth.Attempt
	// The claim must not be abandoned halfway or the pending slot leaks;
	// cancellation is honoured by the backend wait instead.
	if err := a.call(context.WithoutCancel(ctx), func() error {
		if err := a.requireScreen(appstate.Login); err != nil {
			return err
		}
		var err error
		at, err = a.ctrl.StartLogin(email, password)
		return err
	}); err != nil {
		return err
	}
	_, err := at.Wait(ctx)
	return a.afterSubmit(ctx, err)
}

// Register submits the register form.
func (a *App) Register(ctx context.Context, p identity.Profile) error {
	var at *auth.Attempt
	// The claim must not be abandoned halfway or the pending slot leaks;
	// cancellation is honoured by the backend wait instead.
	if err := a.call(context.WithoutCancel(ctx), func() error {
		if err := a.requireScreen(appstate.Register); err != nil {
			return err
		}
		var err error
		at, err = a.ctrl.StartRegister(p)
		return err
	}); err != nil {
		return err
	}
	_, err := at.Wait(ctx)
	return a.afterSubmit(ctx, err)
}

// Logout ends the session. Local state is cleared even when the backend
// cannot be reached; that failure is returned for reporting.
func (a *App) Logout(ctx context.Context) error {
	if err := a.call(ctx, func() error {
		if a.machine.Screen() == appstate.Session {
			return a.fire(appstate.Logout)
		}
		return nil
	}); err != nil {
		return err
	}
	return a.ctrl.Logout(ctx)
}

// Send posts a chat message: echoed locally at once, then delivered. A
// delivery failure is returned as *bridge.TransportError and also shows up
// as a notification; the local entry stays.
func (a *App) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var (
		out  transport.Outgoing
		conn transport.Conn
	)
	if err := a.call(ctx, func() error {
		if a.machine.Screen() != appstate.Session {
			return ErrWrongScreen
		}
		if !a.opts.SupportsChatInput {
			return ErrChatDisabled
		}
		var err error
		_, out, conn, err = a.bridge.Echo(text)
		return err
	}); err != nil {
		return err
	}
	return a.bridge.Deliver(ctx, conn, out)
}

// Reconnect dials again after the connection was lost.
func (a *App) Reconnect(ctx context.Context) error {
	return a.call(ctx, func() error {
		if a.machine.Screen() != appstate.Session {
			return ErrWrongScreen
		}
		if a.conn != nil {
			return nil
		}
		a.connect()
		return nil
	})
}

// Dismiss removes a notification.
func (a *App) Dismiss(ctx context.Context, id string) error {
	return a.call(ctx, func() error {
		for i, n := range a.notices {
			if n.ID == id {
				a.notices = append(a.notices[:i:i], a.notices[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

// ── Loop internals ───────────────────────────────────────────────────────────

func (a *App) afterSubmit(ctx context.Context, err error) error {
	if err != nil {
		if errors.Is(err, auth.ErrSuperseded) {
			a.logger.Debug("submission superseded")
		}
		return err
	}
	return a.call(ctx, func() error {
		if a.machine.Screen() == appstate.Session {
			return nil
		}
		return a.fire(appstate.SubmitSuccess)
	})
}

func (a *App) requireScreen(s appstate.Screen) error {
	if a.machine.Screen() != s {
		return fmt.Errorf("%w: on %s", ErrWrongScreen, a.machine.Screen())
	}
	return nil
}

// navigateAway fires ev and abandons a pending submission when the form
// it came from is left.
func (a *App) navigateAway(ev appstate.Event) error {
	from := a.machine.Screen()
	if err := a.fire(ev); err != nil {
		return err
	}
	if from != a.machine.Screen() && a.ctrl.Cancel() {
		a.logger.Info("pending submission cancelled by navigation", "from", from.String())
	}
	return nil
}

func (a *App) fire(ev appstate.Event) error {
	tr, err := a.machine.Fire(ev)
	if err != nil {
		return err
	}
	a.onTransition(tr)
	return nil
}

func (a *App) onAuthChange(ch auth.Change) {
	a.authState = ch
	if tr, changed := a.machine.OnStatus(ch.Status); changed {
		a.onTransition(tr)
	}
}

func (a *App) onCredentialChange(c identity.Change) {
	switch c.Kind {
	case identity.Established:
		a.ctrl.Resume(*c.Credentials)
	case identity.Cleared:
		// Our own logout deletes the file too; only react when an identity
		// is still held.
		if a.ctrl.Snapshot().Status == auth.StatusAuthenticated {
			a.logger.Info("stored credential removed externally")
			a.ctrl.Clear()
		}
	}
}

func (a *App) onTransition(tr appstate.Transition) {
	a.logger.Debug("screen change", "from", tr.From.String(), "to", tr.To.String(), "cause", tr.Cause)
	switch {
	case tr.To == appstate.Session && tr.From != appstate.Session:
		a.startSession()
	case tr.From == appstate.Session && tr.To != appstate.Session:
		a.endSession()
	}
}

func (a *App) startSession() {
	a.agg.Reset()
	a.presenter.Reset()
	a.notices = nil
	a.connErr = ""
	a.connect()
}

func (a *App) connect() {
	if a.dialer == nil || a.authState.Identity == nil {
		return
	}
	a.dialGen++
	gen := a.dialGen
	sess := transport.Session{
		Room:        a.opts.Room,
		Identity:    *a.authState.Identity,
		Token:       a.ctrl.Token(),
		AgentSender: a.opts.AgentSender,
	}
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		conn, err := a.dialer.Dial(ctx, sess)
		a.post(func() { a.onDialed(gen, sess.Identity, conn, err) })
	}()
}

func (a *App) onDialed(gen uint64, self identity.Identity, conn transport.Conn, err error) {
	if gen != a.dialGen || a.machine.Screen() != appstate.Session {
		if conn != nil {
			go conn.Close()
		}
		return
	}
	if err != nil {
		a.logger.Warn("session connect failed", "error", err)
		a.connErr = "Could not connect to the assistant."
		a.addNotice(bridge.Notification{Kind: bridge.ConnectFailed, Title: "Connection failed", Body: a.connErr})
		return
	}
	a.conn = conn
	a.connErr = ""
	a.bridge.Attach(conn, self)
	go func() {
		<-conn.Done()
		a.post(func() { a.onConnClosed(conn) })
	}()
}

func (a *App) onConnClosed(conn transport.Conn) {
	if a.conn == nil || a.conn.ID() != conn.ID() {
		return
	}
	a.bridge.Detach()
	a.conn = nil
	a.presenter.Reset()
	a.connErr = "Connection to the assistant was lost."
	if err := conn.Err(); err != nil {
		a.logger.Warn("session connection closed", "error", err)
	}
	a.addNotice(bridge.Notification{Kind: bridge.ConnectionLost, Title: "Disconnected", Body: a.connErr})
}

func (a *App) endSession() {
	a.dialGen++
	a.bridge.Detach()
	if a.conn != nil {
		conn := a.conn
		a.conn = nil
		go conn.Close()
	}
	a.agg.Reset()
	a.presenter.Reset()
	a.notices = nil
	a.connErr = ""
}

func (a *App) teardown() {
	a.dialGen++
	a.bridge.Detach()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

func (a *App) addNotice(n bridge.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = a.opts.Clock()
	}
	a.notices = append(a.notices, n)
	if len(a.notices) > maxNotifications {
		a.notices = a.notices[len(a.notices)-maxNotifications:]
	}
}

func (a *App) buildView() View {
	v := View{
		Title:     a.opts.Title,
		Screen:    a.machine.Screen(),
		Status:    a.authState.Status,
		Pending:   a.authState.Status == auth.StatusAuthenticating,
		AuthError: a.authState.Message,
		Agent:     a.presenter.Current(),
		Connected: a.conn != nil,
		ConnError: a.connErr,
		ChatInput: a.opts.SupportsChatInput,
		Version:   a.version,
	}
	if a.authState.Identity != nil {
		id := *a.authState.Identity
		v.Identity = &id
	}
	if v.Screen == appstate.Session {
		v.Timeline = a.agg.Snapshot()
	}
	if len(a.notices) > 0 {
		v.Notifications = append([]bridge.Notification(nil), a.notices...)
	}
	return v
}

func (a *App) publish() {
	a.version++
	v := a.buildView()
	a.viewMu.Lock()
	a.view = v
	a.viewMu.Unlock()

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// mailbox is an unbounded FIFO of closures. post never blocks, which lets
// the auth controller notify from under its lock.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
