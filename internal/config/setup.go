package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// RunSetup runs the interactive setup wizard on in/out and returns the
// resulting config. If existing is non-nil, it is used as the default for
// each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Config) (*Config, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	askBool := func(prompt string, defaultVal bool) (bool, error) {
		def := "n"
		if defaultVal {
			def = "y"
		}
		ans, err := ask(prompt+" (y/n)", def)
		if err != nil {
			return false, err
		}
		return strings.ToLower(ans) == "y" || strings.ToLower(ans) == "yes", nil
	}

	cfg := Defaults()
	if existing != nil {
		cfg = Merge(existing, nil)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │   lokseva: first-time setup     │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	cfg.AuthURL, err = ask("  Auth service URL", cfg.AuthURL)
	if err != nil {
		return nil, err
	}

	transport, err := ask("  Transport (websocket/nats)", cfg.Transport)
	if err != nil {
		return nil, err
	}
	if transport == TransportNATS {
		cfg.Transport = TransportNATS
		cfg.NatsURL, err = ask("  NATS URL", cfg.NatsURL)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Transport = TransportWebSocket
		cfg.GatewayURL, err = ask("  Gateway websocket URL", cfg.GatewayURL)
		if err != nil {
			return nil, err
		}
	}

	cfg.Room, err = ask("  Room", cfg.Room)
	if err != nil {
		return nil, err
	}

	chat, err := askBool("  Enable typed chat input", cfg.ChatInputEnabled())
	if err != nil {
		return nil, err
	}
	cfg.SupportsChatInput = &chat

	fmt.Fprintln(out)
	return &cfg, nil
}
