// Package agentstate maps the remote agent's conversational state onto
// what the session screen shows.
package agentstate

import (
	"strings"
	"sync"
)

// State is the agent's conversational state.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// Parse normalises a transport state name. Anything unrecognised,
// including "initializing", "connecting" and "disconnected", is Idle.
func Parse(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "listening":
		return Listening
	case "thinking":
		return Thinking
	case "speaking":
		return Speaking
	default:
		return Idle
	}
}

// Available reports whether the agent is taking part in the conversation.
func (s State) Available() bool {
	return s == Listening || s == Thinking || s == Speaking
}

// Tone is a colour hint for the state indicator.
type Tone string

const (
	ToneMuted Tone = "muted"
	ToneGreen Tone = "green"
	ToneAmber Tone = "amber"
	ToneBlue  Tone = "blue"
)

// DisplayState is everything the UI needs to render the agent indicator.
type DisplayState struct {
	State     State  `json:"-"`
	Name      string `json:"state"`
	Label     string `json:"label"`
	Hint      string `json:"hint"`
	Available bool   `json:"available"`
	Tone      Tone   `json:"tone"`
}

const (
	hintAvailable   = "I'm here to help you with government services"
	hintUnavailable = "Start talking once the assistant has joined"
)

// Present maps a state to its display form.
func Present(s State) DisplayState {
	d := DisplayState{State: s, Name: s.String(), Available: s.Available()}
	switch s {
	case Listening:
		d.Label, d.Tone = "Listening...", ToneGreen
	case Thinking:
		d.Label, d.Tone = "Thinking...", ToneAmber
	case Speaking:
		d.Label, d.Tone = "Speaking...", ToneBlue
	default:
		d.Label, d.Tone = "Ready", ToneMuted
	}
	if d.Available {
		d.Hint = hintAvailable
	} else {
		d.Hint = hintUnavailable
	}
	return d
}

// Presenter holds the last received state. Out-of-order delivery is
// tolerated by taking whatever arrived last.
type Presenter struct {
	mu   sync.RWMutex
	last State
}

// Apply records s and returns its display form.
func (p *Presenter) Apply(s State) DisplayState {
	p.mu.Lock()
	p.last = s
	p.mu.Unlock()
	return Present(s)
}

// Current returns the display form of the last received state.
func (p *Presenter) Current() DisplayState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Present(p.last)
}

// Reset returns the presenter to Idle, e.g. when the session ends.
func (p *Presenter) Reset() {
	p.mu.Lock()
	p.last = Idle
	p.mu.Unlock()
}
