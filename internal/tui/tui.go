// Package tui provides the Bubble Tea front end for the LokSeva client:
// landing, login, register and the live session view.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/lokseva/internal/app"
	"github.com/fakeyudi/lokseva/internal/appstate"
	"github.com/fakeyudi/lokseva/internal/auth"
	"github.com/fakeyudi/lokseva/internal/bridge"
	"github.com/fakeyudi/lokseva/internal/identity"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	headlineStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("33")).
				Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 3)

	menuStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// Driver is the presentation boundary the TUI drives. *app.App satisfies it.
type Driver interface {
	State() app.View
	Updates() (<-chan struct{}, func())
	GetStarted(ctx context.Context) error
	ShowLogin(ctx context.Context) error
	ShowRegister(ctx context.Context) error
	Back(ctx context.Context) error
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, p identity.Profile) error
	Logout(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	Dismiss(ctx context.Context, id string) error
}

// ── Messages ─────────────────────

type stateMsg struct{}

type intentDoneMsg struct {
	intent string
	err    error
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return stateMsg{}
	}
}

// ── Model ────────────────────

// Model is the root Bubble Tea model.
type Model struct {
	ctx     context.Context
	driver  Driver
	updates <-chan struct{}
	stop    func()

	view   app.View
	width  int
	height int
	ready  bool

	login    form
	register form
	chat     textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	chatOpen bool
	menuOpen bool
	flash    string
}

// New creates a model bound to d. Call Close when the program exits.
func New(ctx context.Context, d Driver) Model {
	chat := textinput.New()
	chat.Prompt = "❯ "
	chat.Placeholder = "Type a message"
	chat.CharLimit = 2000
	chat.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))

	updates, stop := d.Updates()
	return Model{
		ctx:      ctx,
		driver:   d,
		updates:  updates,
		stop:     stop,
		view:     d.State(),
		login:    loginForm(),
		register: registerForm(),
		chat:     chat,
		spinner:  sp,
		chatOpen: true,
	}
}

// Close releases the update subscription.
func (m Model) Close() {
	if m.stop != nil {
		m.stop()
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case stateMsg:
		m.applyView(m.driver.State())
		return m, waitForUpdate(m.updates)

	case intentDoneMsg:
		m.applyView(m.driver.State())
		m.flash = flashFor(msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.view.Screen {
		case appstate.Landing:
			return m.updateLanding(msg)
		case appstate.Login:
			return m.updateLogin(msg)
		case appstate.Register:
			return m.updateRegister(msg)
		case appstate.Session:
			return m.updateSession(msg)
		}
	}
	return m, nil
}

func (m Model) updateLanding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "enter", " ":
		return m, m.do("get_started", m.driver.GetStarted)
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, m.do("back", m.driver.Back)
	case "ctrl+r":
		return m, m.do("show_register", m.driver.ShowRegister)
	case "tab", "down":
		m.login.next()
		return m, nil
	case "shift+tab", "up":
		m.login.prev()
		return m, nil
	case "enter":
		if !m.login.last() {
			m.login.next()
			return m, nil
		}
		if m.view.Pending {
			return m, nil
		}
		v := m.login.values()
		email, password := v[0], v[1]
		return m, m.do("login", func(ctx context.Context) error {
			return m.driver.Login(ctx, email, password)
		})
	}
	return m, m.login.update(msg)
}

func (m Model) updateRegister(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, m.do("back", m.driver.Back)
	case "ctrl+l":
		return m, m.do("show_login", m.driver.ShowLogin)
	case "tab", "down":
		m.register.next()
		return m, nil
	case "shift+tab", "up":
		m.register.prev()
		return m, nil
	case "enter":
		if !m.register.last() {
			m.register.next()
			return m, nil
		}
		if m.view.Pending {
			return m, nil
		}
		v := m.register.values()
		p := identity.Profile{Name: v[0], Email: v[1], Phone: v[2], Password: v[3]}
		return m, m.do("register", func(ctx context.Context) error {
			return m.driver.Register(ctx, p)
		})
	}
	return m, m.register.update(msg)
}

func (m Model) updateSession(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		m.chatOpen = !m.chatOpen
		m.resize()
		return m, nil
	case "ctrl+u":
		m.menuOpen = !m.menuOpen
		return m, nil
	case "ctrl+o":
		m.menuOpen = false
		return m, m.do("logout", m.driver.Logout)
	case "ctrl+r":
		return m, m.do("reconnect", m.driver.Reconnect)
	case "ctrl+x":
		if n := len(m.view.Notifications); n > 0 {
			id := m.view.Notifications[n-1].ID
			return m, m.do("dismiss", func(ctx context.Context) error {
				return m.driver.Dismiss(ctx, id)
			})
		}
		return m, nil
	case "esc":
		if m.menuOpen {
			m.menuOpen = false
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		return m, cmd
	case "enter":
		if !m.chatOpen || !m.view.ChatInput {
			return m, nil
		}
		text := strings.TrimSpace(m.chat.Value())
		if text == "" {
			return m, nil
		}
		m.chat.Reset()
		return m, m.do("send", func(ctx context.Context) error {
			return m.driver.Send(ctx, text)
		})
	}
	if m.chatOpen && m.view.ChatInput {
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}
	return m, nil
}

// do runs an intent off the update loop.
func (m Model) do(intent string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return intentDoneMsg{intent: intent, err: fn(ctx)}
	}
}

// flashFor returns the status-bar message for an intent failure. Failures
// already reflected in the view (auth errors, send notices) return "".
func flashFor(err error) string {
	var authErr *auth.Error
	var sendErr *bridge.TransportError
	switch {
	case err == nil,
		errors.As(err, &authErr),
		errors.As(err, &sendErr),
		errors.Is(err, auth.ErrSuperseded),
		errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, auth.ErrRemoteLogout):
		return "Signed out. The server could not be notified."
	case errors.Is(err, app.ErrChatDisabled):
		return "Typed chat is not available in this session."
	case errors.Is(err, bridge.ErrNotAttached):
		return "Not connected. Press ctrl+r to reconnect."
	default:
		return err.Error()
	}
}

// applyView swaps in a fresh snapshot and resets per-screen state when the
// screen changes.
func (m *Model) applyView(v app.View) {
	prev := m.view.Screen
	m.view = v
	if v.Screen != prev {
		m.flash = ""
		m.menuOpen = false
		switch prev {
		case appstate.Login:
			m.login.reset()
		case appstate.Register:
			m.register.reset()
		case appstate.Session:
			m.chat.Reset()
		}
	}
	if m.ready && v.Screen == appstate.Session {
		atBottom := m.timeline.AtBottom()
		m.timeline.SetContent(m.renderTimeline())
		if atBottom {
			m.timeline.GotoBottom()
		}
	}
}

func (m *Model) resize() {
	// title(1) + agent panel(3) + input(2) + notices(up to 3) + status bar(1)
	vpHeight := m.height - 10
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.timeline = viewport.New(m.width, vpHeight)
	m.chat.Width = max(10, m.width-6)
	if r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(20, m.width-8)),
	); err == nil {
		m.renderer = r
	}
	m.timeline.SetContent(m.renderTimeline())
	m.timeline.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := m.renderTitle()
	var body string
	switch m.view.Screen {
	case appstate.Landing:
		body = m.renderLanding()
	case appstate.Login:
		body = m.renderForm("Sign in", &m.login)
	case appstate.Register:
		body = m.renderForm("Create your account", &m.register)
	case appstate.Session:
		body = m.renderSession()
	}

	parts := []string{title, body}
	if notes := m.renderNotifications(); notes != "" {
		parts = append(parts, notes)
	}
	parts = append(parts, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderTitle() string {
	left := "  " + m.view.Title
	right := ""
	if m.view.Identity != nil {
		right = m.view.Identity.Name + "  "
	}
	pad := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if pad < 1 {
		pad = 1
	}
	return titleStyle.Width(m.width).Render(left + strings.Repeat(" ", pad) + right)
}

func (m Model) renderLanding() string {
	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(headlineStyle.Render("  Government services, one conversation away.") + "\n\n")
	sb.WriteString(dimStyle.Render("  Talk to the LokSeva assistant about certificates, schemes and") + "\n")
	sb.WriteString(dimStyle.Render("  applications. Sign in or create an account to begin.") + "\n\n")
	sb.WriteString("  " + buttonStyle.Render("Get started") + "\n")
	return sb.String()
}

func (m Model) renderForm(heading string, f *form) string {
	var sb strings.Builder
	sb.WriteString("\n" + headlineStyle.Render("  "+heading) + "\n\n")
	sb.WriteString(f.view(m.width))
	switch {
	case m.view.Pending:
		sb.WriteString("  " + m.spinner.View() + " Please wait…\n")
	case m.view.AuthError != "":
		sb.WriteString(errorStyle.Render("  "+m.view.AuthError) + "\n")
	}
	return sb.String()
}

func (m Model) renderSession() string {
	agent := m.renderAgent()
	if m.menuOpen && m.view.Identity != nil {
		menu := menuStyle.Render(fmt.Sprintf("%s\n%s\n\n%s",
			headlineStyle.Render(m.view.Identity.Name),
			dimStyle.Render(m.view.Identity.Email),
			hintStyle.Render("ctrl+o log out"),
		))
		agent = lipgloss.JoinHorizontal(lipgloss.Top, agent, "  ", menu)
	}
	if !m.chatOpen {
		return agent
	}
	parts := []string{agent, m.timeline.View()}
	if m.view.ChatInput {
		parts = append(parts, m.chat.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderStatusBar() string {
	var hint string
	switch m.view.Screen {
	case appstate.Landing:
		hint = "  enter get started  q quit"
	case appstate.Login:
		hint = "  tab next field  enter sign in  ctrl+r create account  esc back"
	case appstate.Register:
		hint = "  tab next field  enter create account  ctrl+l sign in  esc back"
	case appstate.Session:
		hint = "  tab chat panel  ctrl+u account  ctrl+r reconnect  ctrl+x dismiss  ctrl+c quit"
	}
	if m.flash != "" {
		hint = "  " + m.flash
	}
	conn := ""
	if m.view.Screen == appstate.Session {
		conn = "offline"
		if m.view.Connected {
			conn = "connected"
		}
	}
	pad := m.width - lipgloss.Width(hint) - len(conn) - 2
	if pad < 1 {
		pad = 1
	}
	return statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + conn)
}

// Run starts the TUI on d and blocks until the user quits.
func Run(ctx context.Context, d Driver) error {
	m := New(ctx, d)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
