package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNoCredentials is returned by Load when no usable credential is on disk.
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrIncompleteCredentials rejects a Save without a token or user id.
	// Such a file would read back as ErrNoCredentials and look like a logout.
	ErrIncompleteCredentials = errors.New("credentials need a token and a user id")
)

// Store persists Credentials to disk.
type Store interface {
	Save(c *Credentials) error
	Load() (*Credentials, error) // returns ErrNoCredentials if none exists
	Delete() error
	Path() string
}

// diskStore is the concrete Store that writes to the XDG data directory.
type diskStore struct {
	path string // full path to credentials.json
}

// NewStore returns a Store backed by the XDG data directory.
// Path: $XDG_DATA_HOME/lokseva/credentials.json or ~/.local/share/lokseva/credentials.json
func NewStore() (Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "credentials.json")}, nil
}

// dataDir returns the lokseva-specific XDG data directory.
func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "lokseva"), nil
}

func (d *diskStore) Path() string { return d.path }

// Save writes c so that readers, including a Watch in another process,
// only ever see the old file or the complete new one.
func (d *diskStore) Save(c *Credentials) error {
	if c == nil || c.Token == "" || c.Identity.ID == "" {
		return ErrIncompleteCredentials
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := replaceFile(d.path, data); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	return nil
}

// replaceFile writes data next to path and renames it into place. The temp
// file is created owner-only and synced before the rename.
func replaceFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the credential file. A file without a token or user id counts
// as no credential. A file readable by others is narrowed to owner-only.
func (d *diskStore) Load() (*Credentials, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		_ = os.Chmod(d.path, 0o600)
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if c.Token == "" || c.Identity.ID == "" {
		return nil, ErrNoCredentials
	}
	return &c, nil
}

// Delete removes the credential file from disk.
func (d *diskStore) Delete() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
