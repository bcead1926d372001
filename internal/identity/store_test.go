package identity_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/logging"
)

// generateCredentials produces an arbitrary valid Credentials value.
func generateCredentials(t *rapid.T) *identity.Credentials {
	return &identity.Credentials{
		Identity: identity.Identity{
			ID:    rapid.StringN(1, 36, -1).Draw(t, "id"),
			Name:  rapid.StringN(0, 60, -1).Draw(t, "name"),
			Email: rapid.StringN(0, 60, -1).Draw(t, "email"),
		},
		Token: rapid.StringN(1, 120, -1).Draw(t, "token"),
	}
}

// Feature: lokseva, Property 2: Credential persistence round-trip
func TestCredentialsPersistenceRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rapid.Check(t, func(t *rapid.T) {
		original := generateCredentials(t)

		if err := store.Save(original); err != nil {
			t.Fatalf("Save: %v", err)
		}
		loaded, err := store.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if *loaded != *original {
			t.Fatalf("round trip mismatch: got %+v, want %+v", *loaded, *original)
		}
	})
}

// TestLoadReturnsErrNoCredentials verifies that Load returns ErrNoCredentials
// when no credential file exists on disk.
func TestLoadReturnsErrNoCredentials(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.Load()
	if !errors.Is(err, identity.ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(&identity.Credentials{Identity: identity.Identity{ID: "u1"}, Token: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, identity.ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials after delete, got %v", err)
	}
}

func TestCredentialsFileIsPrivate(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(&identity.Credentials{Identity: identity.Identity{ID: "u1"}, Token: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestSaveRejectsIncompleteCredentials(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tests := []struct {
		name  string
		creds *identity.Credentials
	}{
		{"nil", nil},
		{"no token", &identity.Credentials{Identity: identity.Identity{ID: "u1"}}},
		{"no user id", &identity.Credentials{Identity: identity.Identity{Name: "Asha"}, Token: "tok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Save(tt.creds); !errors.Is(err, identity.ErrIncompleteCredentials) {
				t.Fatalf("expected ErrIncompleteCredentials, got %v", err)
			}
			if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("incomplete credentials reached disk: %v", err)
			}
		})
	}
}

func TestLoadNarrowsPermissiveFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(&identity.Credentials{Identity: identity.Identity{ID: "u1"}, Token: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Chmod(store.Path(), 0o644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if _, err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 after Load, got %o", perm)
	}
}

func TestWatchReportsEstablishedAndCleared(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := identity.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan identity.Change, 8)
	done := make(chan error, 1)
	go func() {
		done <- identity.Watch(ctx, store, logging.Discard(), func(c identity.Change) { changes <- c })
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	want := &identity.Credentials{Identity: identity.Identity{ID: "u1", Name: "Asha"}, Token: "tok-1"}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case c := <-changes:
		if c.Kind != identity.Established || c.Credentials == nil || c.Credentials.Identity.ID != "u1" {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Established")
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	select {
	case c := <-changes:
		if c.Kind != identity.Cleared {
			t.Fatalf("expected Cleared, got %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Cleared")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}
