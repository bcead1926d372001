package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type field struct {
	label       string
	placeholder string
	secret      bool
}

// form is a vertical stack of text inputs with one focused at a time.
type form struct {
	fields []field
	inputs []textinput.Model
	focus  int
}

func newForm(fields ...field) form {
	f := form{fields: fields}
	for _, fd := range fields {
		in := textinput.New()
		in.Placeholder = fd.placeholder
		in.Prompt = "  "
		in.CharLimit = 256
		in.Width = 40
		if fd.secret {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		f.inputs = append(f.inputs, in)
	}
	f.inputs[0].Focus()
	return f
}

func loginForm() form {
	return newForm(
		field{label: "Email", placeholder: "you@example.com"},
		field{label: "Password", secret: true},
	)
}

func registerForm() form {
	return newForm(
		field{label: "Name", placeholder: "Full name"},
		field{label: "Email", placeholder: "you@example.com"},
		field{label: "Phone", placeholder: "+91 98765 43210"},
		field{label: "Password", placeholder: "at least 8 characters", secret: true},
	)
}

func (f *form) setFocus(i int) {
	n := len(f.inputs)
	f.focus = (i%n + n) % n
	for j := range f.inputs {
		if j == f.focus {
			f.inputs[j].Focus()
		} else {
			f.inputs[j].Blur()
		}
	}
}

func (f *form) next() { f.setFocus(f.focus + 1) }
func (f *form) prev() { f.setFocus(f.focus - 1) }

func (f *form) last() bool { return f.focus == len(f.inputs)-1 }

func (f *form) values() []string {
	out := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		out[i] = in.Value()
	}
	return out
}

func (f *form) reset() {
	for i := range f.inputs {
		f.inputs[i].Reset()
	}
	f.setFocus(0)
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) view(width int) string {
	var sb strings.Builder
	for i, in := range f.inputs {
		label := labelStyle.Render("  " + f.fields[i].label)
		if i == f.focus {
			label = focusedLabelStyle.Render("▸ " + f.fields[i].label)
		}
		in.Width = max(10, min(48, width-8))
		sb.WriteString(label + "\n" + in.View() + "\n\n")
	}
	return sb.String()
}
