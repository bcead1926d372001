package identity

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind distinguishes credential file changes seen by Watch.
type ChangeKind int

const (
	// Established means a valid credential appeared (e.g. a login in another
	// terminal) and the identity can be resumed silently.
	Established ChangeKind = iota + 1
	// Cleared means the credential disappeared (remote or external logout).
	Cleared
)

// Change is reported by Watch whenever the effective stored credential
// changes.
type Change struct {
	Kind        ChangeKind
	Credentials *Credentials // nil for Cleared
}

// Watch observes the directory holding the store's credential file and
// calls onChange when the stored identity appears, changes or disappears.
// The initial state is taken from Load and not reported. Watch blocks until
// ctx is cancelled.
func Watch(ctx context.Context, store Store, logger *slog.Logger, onChange func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(store.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	current := tokenOf(store)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			creds, err := store.Load()
			switch {
			case errors.Is(err, ErrNoCredentials):
				if current != "" {
					current = ""
					onChange(Change{Kind: Cleared})
				}
			case err != nil:
				// Partially written or unreadable; the rename that follows
				// will trigger another event.
				logger.Debug("credential reload failed", "error", err)
			case creds.Token != current:
				current = creds.Token
				onChange(Change{Kind: Established, Credentials: creds})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credential watcher error", "error", err)
		}
	}
}

func tokenOf(store Store) string {
	creds, err := store.Load()
	if err != nil {
		return ""
	}
	return creds.Token
}
