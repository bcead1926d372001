// Package appstate implements the top-level navigation state machine.
package appstate

import (
	"errors"
	"fmt"

	"github.com/fakeyudi/lokseva/internal/auth"
)

// Screen is the top-level navigation state.
type Screen int

const (
	Landing Screen = iota
	Login
	Register
	Session
)

func (s Screen) String() string {
	switch s {
	case Landing:
		return "landing"
	case Login:
		return "login"
	case Register:
		return "register"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("Screen(%d)", int(s))
	}
}

// ParseScreen is the inverse of Screen.String.
func ParseScreen(s string) (Screen, bool) {
	for _, sc := range []Screen{Landing, Login, Register, Session} {
		if sc.String() == s {
			return sc, true
		}
	}
	return Landing, false
}

// Event is a user intent that drives navigation.
type Event int

const (
	GetStarted Event = iota
	SubmitSuccess
	SwitchToRegister
	SwitchToLogin
	Back
	Logout
)

func (e Event) String() string {
	switch e {
	case GetStarted:
		return "get_started"
	case SubmitSuccess:
		return "submit_success"
	case SwitchToRegister:
		return "switch_to_register"
	case SwitchToLogin:
		return "switch_to_login"
	case Back:
		return "back"
	case Logout:
		return "logout"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrNoTransition is returned when an event is not valid on the current
// screen. The screen is left unchanged.
var ErrNoTransition = errors.New("no transition")

// Transition records one screen change.
type Transition struct {
	From, To Screen
	Cause    string
}

// Machine tracks the current screen. It is not safe for concurrent use; the
// app loop is its only caller.
type Machine struct {
	screen        Screen
	authenticated bool
}

// New returns a machine on the landing screen with no identity.
func New() *Machine {
	return &Machine{screen: Landing}
}

// Screen returns the current screen.
func (m *Machine) Screen() Screen { return m.screen }

// Authenticated reports whether the last observed status carried an identity.
func (m *Machine) Authenticated() bool { return m.authenticated }

// Fire applies a navigation event.
func (m *Machine) Fire(ev Event) (Transition, error) {
	to, ok := m.next(ev)
	if !ok {
		return Transition{From: m.screen, To: m.screen, Cause: ev.String()},
			fmt.Errorf("%s on %s: %w", ev, m.screen, ErrNoTransition)
	}
	return m.move(to, ev.String()), nil
}

func (m *Machine) next(ev Event) (Screen, bool) {
	switch m.screen {
	case Landing:
		if ev == GetStarted {
			if m.authenticated {
				return Session, true
			}
			return Login, true
		}
	case Login:
		switch ev {
		case SubmitSuccess:
			return Session, m.authenticated
		case SwitchToRegister:
			return Register, true
		case Back:
			return Landing, true
		}
	case Register:
		switch ev {
		case SubmitSuccess:
			return Session, m.authenticated
		case SwitchToLogin:
			return Login, true
		case Back:
			return Landing, true
		}
	case Session:
		if ev == Logout {
			return Landing, true
		}
	}
	return m.screen, false
}

// OnStatus re-evaluates the screen after an auth status change. Becoming
// authenticated off the session screen resumes the session; leaving
// authenticated while on it returns to landing. The returned bool reports
// whether the screen changed.
func (m *Machine) OnStatus(s auth.Status) (Transition, bool) {
	m.authenticated = s == auth.StatusAuthenticated
	switch {
	case m.authenticated && m.screen != Session:
		return m.move(Session, "identity_appeared"), true
	case !m.authenticated && m.screen == Session:
		return m.move(Landing, "identity_lost"), true
	}
	return Transition{From: m.screen, To: m.screen}, false
}

func (m *Machine) move(to Screen, cause string) Transition {
	t := Transition{From: m.screen, To: to, Cause: cause}
	m.screen = to
	return t
}
