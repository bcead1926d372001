package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

// Transport names accepted in Config.Transport.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Config holds all configurable LokSeva client settings.
type Config struct {
	AuthURL           string `json:"auth_url"`
	Transport         string `json:"transport"` // "websocket" | "nats"
	GatewayURL        string `json:"gateway_url"`
	NatsURL           string `json:"nats_url"`
	NatsToken         string `json:"nats_token"`
	SubjectPrefix     string `json:"subject_prefix"`
	Room              string `json:"room"`
	AgentIdentity     string `json:"agent_identity"` // participant identity of the remote agent
	LogLevel          string `json:"log_level"`
	LogFile           string `json:"log_file"` // empty: XDG state dir in TUI mode, stderr otherwise
	APIAddr           string `json:"api_addr"`
	PageTitle         string `json:"page_title"`
	SupportsChatInput *bool  `json:"supports_chat_input,omitempty"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	chat := true
	return Config{
		AuthURL:           "http://localhost:8080",
		Transport:         TransportWebSocket,
		GatewayURL:        "ws://localhost:7880/v1/session",
		NatsURL:           "nats://localhost:4222",
		SubjectPrefix:     "lokseva",
		Room:              "lokseva",
		AgentIdentity:     "agent",
		LogLevel:          "info",
		APIAddr:           "127.0.0.1:8790",
		PageTitle:         "LokSeva AI",
		SupportsChatInput: &chat,
	}
}

// ChatInputEnabled reports whether the session view accepts typed messages.
func (c Config) ChatInputEnabled() bool {
	return c.SupportsChatInput == nil || *c.SupportsChatInput
}

// GlobalPath returns ~/.config/lokseva/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lokseva", "config.json"), nil
}

// LoadGlobal reads ~/.config/lokseva/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .loksevaconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".loksevaconfig", false)
}

// SaveGlobal writes cfg to the global config path, creating the directory
// if needed.
func SaveGlobal(cfg *Config) error {
	path, err := GlobalPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	apply(&result, global)
	apply(&result, project)
	return result
}

func apply(dst, src *Config) {
	if src == nil {
		return
	}
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.AuthURL, src.AuthURL)
	set(&dst.Transport, src.Transport)
	set(&dst.GatewayURL, src.GatewayURL)
	set(&dst.NatsURL, src.NatsURL)
	set(&dst.NatsToken, src.NatsToken)
	set(&dst.SubjectPrefix, src.SubjectPrefix)
	set(&dst.Room, src.Room)
	set(&dst.AgentIdentity, src.AgentIdentity)
	set(&dst.LogLevel, src.LogLevel)
	set(&dst.LogFile, src.LogFile)
	set(&dst.APIAddr, src.APIAddr)
	set(&dst.PageTitle, src.PageTitle)
	if src.SupportsChatInput != nil {
		v := *src.SupportsChatInput
		dst.SupportsChatInput = &v
	}
}

// ApplyEnv overlays LOKSEVA_* environment variables on cfg. Environment
// wins over both config files.
func ApplyEnv(cfg Config) Config {
	cfg.AuthURL = envStr("LOKSEVA_AUTH_URL", cfg.AuthURL)
	cfg.Transport = envStr("LOKSEVA_TRANSPORT", cfg.Transport)
	cfg.GatewayURL = envStr("LOKSEVA_GATEWAY_URL", cfg.GatewayURL)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.Room = envStr("LOKSEVA_ROOM", cfg.Room)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envStr("LOKSEVA_LOG_FILE", cfg.LogFile)
	cfg.APIAddr = envStr("LOKSEVA_API_ADDR", cfg.APIAddr)
	if v := os.Getenv("LOKSEVA_CHAT_INPUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SupportsChatInput = &b
		}
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
