// Package paths maps user/session/queue identities to canonical filesystem
// locations under the daemon's per-user base directory.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every path the daemon and CLI touch. It holds no state
// besides the base directory, so values are cheap to copy.
type Layout struct {
	Base string
}

// DefaultBase returns the per-user runtime directory, preferring
// XDG_RUNTIME_DIR and falling back to /tmp/portty/<uid>.
func DefaultBase() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "portty")
	}
	return filepath.Join("/tmp", "portty", fmt.Sprintf("%d", os.Getuid()))
}

func NewLayout(base string) Layout {
	if base == "" {
		base = DefaultBase()
	}
	return Layout{Base: base}
}

func (l Layout) SocketPath() string  { return filepath.Join(l.Base, "daemon.sock") }
func (l Layout) CtlPath() string     { return filepath.Join(l.Base, "daemon.ctl") }
func (l Layout) RequestPath() string { return filepath.Join(l.Base, "daemon.req") }
func (l Layout) LockPath() string    { return filepath.Join(l.Base, "daemon.lock") }

func (l Layout) PendingDir() string  { return filepath.Join(l.Base, "pending") }
func (l Layout) PendingFile() string { return filepath.Join(l.PendingDir(), "submission") }

func (l Layout) SubmissionsDir() string { return filepath.Join(l.Base, "submissions") }

// QueueEntryDir is the directory holding one queued submission, keyed by the
// enqueue timestamp in unix milliseconds and the target portal name.
func (l Layout) QueueEntryDir(unixMilli int64, portal string) string {
	return filepath.Join(l.SubmissionsDir(), fmt.Sprintf("%d-%s", unixMilli, portal))
}

func (l Layout) SessionDir(id string) string { return filepath.Join(l.Base, id) }

func (l Layout) PortalFile(id string) string { return filepath.Join(l.SessionDir(id), "portal") }
func (l Layout) OptionsFile(id string) string {
	return filepath.Join(l.SessionDir(id), "options.json")
}
func (l Layout) SubmissionFile(id string) string {
	return filepath.Join(l.SessionDir(id), "submission")
}
func (l Layout) BinDir(id string) string { return filepath.Join(l.SessionDir(id), "bin") }

// Ensure creates the base directory tree with owner-only permissions and
// refuses to proceed when the base is owned by another user.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(filepath.Dir(l.Base), 0o755); err != nil {
		return fmt.Errorf("create base parent: %w", err)
	}
	if err := os.Mkdir(l.Base, 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create base dir: %w", err)
	}
	st, err := os.Stat(l.Base)
	if err != nil {
		return fmt.Errorf("stat base dir: %w", err)
	}
	if err := checkOwner(st); err != nil {
		return err
	}
	if st.Mode().Perm() != 0o700 {
		if err := os.Chmod(l.Base, 0o700); err != nil {
			return fmt.Errorf("chmod base dir: %w", err)
		}
	}
	for _, dir := range []string{l.PendingDir(), l.SubmissionsDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Base(dir), err)
		}
	}
	return nil
}
