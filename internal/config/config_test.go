package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Feature: lokseva, Property 1: Config merge precedence
func TestConfigMergePrecedence(t *testing.T) {
	// Generator for a non-empty string field value.
	nonEmptyString := rapid.StringMatching(`[a-zA-Z0-9/_.:-]{1,20}`)

	// Generator for a Config with all string fields either empty or non-empty.
	configGen := rapid.Custom(func(t *rapid.T) *Config {
		cfg := &Config{}
		if rapid.Bool().Draw(t, "hasAuthURL") {
			cfg.AuthURL = nonEmptyString.Draw(t, "authURL")
		}
		if rapid.Bool().Draw(t, "hasRoom") {
			cfg.Room = nonEmptyString.Draw(t, "room")
		}
		if rapid.Bool().Draw(t, "hasGatewayURL") {
			cfg.GatewayURL = nonEmptyString.Draw(t, "gatewayURL")
		}
		if rapid.Bool().Draw(t, "hasChatInput") {
			v := rapid.Bool().Draw(t, "chatInput")
			cfg.SupportsChatInput = &v
		}
		return cfg
	})

	rapid.Check(t, func(t *rapid.T) {
		global := configGen.Draw(t, "global")
		project := configGen.Draw(t, "project")

		merged := Merge(global, project)
		defaults := Defaults()

		checkStringField(t, "AuthURL",
			global.AuthURL, project.AuthURL, defaults.AuthURL,
			merged.AuthURL)
		checkStringField(t, "Room",
			global.Room, project.Room, defaults.Room,
			merged.Room)
		checkStringField(t, "GatewayURL",
			global.GatewayURL, project.GatewayURL, defaults.GatewayURL,
			merged.GatewayURL)

		want := true
		switch {
		case project.SupportsChatInput != nil:
			want = *project.SupportsChatInput
		case global.SupportsChatInput != nil:
			want = *global.SupportsChatInput
		}
		if merged.ChatInputEnabled() != want {
			t.Fatalf("ChatInputEnabled: want %v, got %v", want, merged.ChatInputEnabled())
		}
	})
}

// checkStringField asserts the merge precedence rule for a single string field:
//   - project non-empty  → merged == project
//   - project empty, global non-empty → merged == global
//   - both empty → merged == defaultVal
func checkStringField(t *rapid.T, name, globalVal, projectVal, defaultVal, mergedVal string) {
	t.Helper()
	switch {
	case projectVal != "":
		if mergedVal != projectVal {
			t.Fatalf("%s: both set: expected project value %q, got %q", name, projectVal, mergedVal)
		}
	case globalVal != "":
		if mergedVal != globalVal {
			t.Fatalf("%s: only global set: expected global value %q, got %q", name, globalVal, mergedVal)
		}
	default:
		if mergedVal != defaultVal {
			t.Fatalf("%s: neither set: expected default %q, got %q", name, defaultVal, mergedVal)
		}
	}
}

func TestDefaultsValues(t *testing.T) {
	d := Defaults()
	if d.Transport != TransportWebSocket {
		t.Errorf("Transport: want %q, got %q", TransportWebSocket, d.Transport)
	}
	if d.AgentIdentity != "agent" {
		t.Errorf("AgentIdentity: want %q, got %q", "agent", d.AgentIdentity)
	}
	if !d.ChatInputEnabled() {
		t.Error("ChatInputEnabled: want true by default")
	}
}

func TestLoadGlobalMissingFileReturnsDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config, got nil")
	}
	if cfg.AuthURL != Defaults().AuthURL {
		t.Errorf("AuthURL: want %q, got %q", Defaults().AuthURL, cfg.AuthURL)
	}
}

func TestLoadProjectMissingFileReturnsNil(t *testing.T) {
	tmp := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })

	cfg, err := LoadProject()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestLoadGlobalParseError(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfgDir := filepath.Join(tmp, ".config", "lokseva")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{invalid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadGlobal()
	if err == nil {
		t.Fatal("expected an error for invalid JSON, got nil")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected *ParseError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "config.json") {
		t.Errorf("expected error to mention the file, got %q", err.Error())
	}
}

func TestSaveGlobalRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Defaults()
	cfg.Room = "desk-7"
	cfg.Transport = TransportNATS
	if err := SaveGlobal(&cfg); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	loaded, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if loaded.Room != "desk-7" || loaded.Transport != TransportNATS {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOKSEVA_ROOM", "from-env")
	t.Setenv("LOKSEVA_CHAT_INPUT", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := ApplyEnv(Defaults())
	if cfg.Room != "from-env" {
		t.Errorf("Room: want %q, got %q", "from-env", cfg.Room)
	}
	if cfg.ChatInputEnabled() {
		t.Error("ChatInputEnabled: want false from env")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: want debug, got %q", cfg.LogLevel)
	}
}

func TestRunSetupUsesAnswersAndDefaults(t *testing.T) {
	// auth url, transport, nats url (default), room, chat input
	in := strings.NewReader("https://auth.example\nnats\n\nkiosk\nn\n")
	var out bytes.Buffer

	cfg, err := RunSetup(in, &out, nil)
	if err != nil {
		t.Fatalf("RunSetup: %v", err)
	}
	if cfg.AuthURL != "https://auth.example" {
		t.Errorf("AuthURL: got %q", cfg.AuthURL)
	}
	if cfg.Transport != TransportNATS {
		t.Errorf("Transport: got %q", cfg.Transport)
	}
	if cfg.NatsURL != Defaults().NatsURL {
		t.Errorf("NatsURL: want default, got %q", cfg.NatsURL)
	}
	if cfg.Room != "kiosk" {
		t.Errorf("Room: got %q", cfg.Room)
	}
	if cfg.ChatInputEnabled() {
		t.Error("ChatInputEnabled: want false")
	}
	if !strings.Contains(out.String(), "first-time setup") {
		t.Errorf("expected wizard banner, got %q", out.String())
	}
}
