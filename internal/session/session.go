// Package session holds the live state of one in-flight portal request: its
// on-disk working area, the optionally spawned external process, and the
// one-shot completion signal raced between process exit and control
// commands.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/paths"
)

// Session is one in-flight portal request. Identity fields are immutable
// after New; state, result, and the process handle are guarded by mu.
type Session struct {
	ID        string
	Portal    string
	Operation string
	Title     string
	Created   time.Time
	Dir       string
	Options   json.RawMessage

	layout  paths.Layout
	initial []string

	mu     sync.Mutex
	state  model.SessionState
	cmd    *exec.Cmd
	result []string

	signalOnce sync.Once
	done       chan model.Trigger
}

// New creates a session and materializes its working area: the portal file,
// the options snapshot, the submission seeded with initial entries, and the
// bin directory. On any failure the directory is removed and no session
// exists.
func New(layout paths.Layout, portalName, operation string, options json.RawMessage, initial []string, title string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Portal:    portalName,
		Operation: operation,
		Title:     title,
		Created:   time.Now(),
		Options:   options,
		layout:    layout,
		initial:   append([]string(nil), initial...),
		state:     model.StateCreated,
		done:      make(chan model.Trigger, 1),
	}
	s.Dir = layout.SessionDir(s.ID)

	if err := os.Mkdir(s.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := s.materialize(); err != nil {
		os.RemoveAll(s.Dir)
		return nil, err
	}
	return s, nil
}

func (s *Session) materialize() error {
	// Two lines, no trailing newline: "<portal>\n<operation>".
	content := s.Portal + "\n" + s.Operation
	if err := os.WriteFile(s.layout.PortalFile(s.ID), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write portal file: %w", err)
	}
	opts := s.Options
	if len(opts) == 0 {
		opts = json.RawMessage("{}")
	}
	if err := os.WriteFile(s.layout.OptionsFile(s.ID), opts, 0o600); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	if err := fsutil.WriteLines(s.SubmissionPath(), s.initial); err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	if err := os.Mkdir(s.layout.BinDir(s.ID), 0o700); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}
	return nil
}

func (s *Session) SubmissionPath() string { return s.layout.SubmissionFile(s.ID) }

// Entries re-reads the submission file. External processes may write it at
// any time, so no value is ever cached.
func (s *Session) Entries() []string {
	return fsutil.ReadLines(s.SubmissionPath())
}

// Reset rewrites the submission back to the entries supplied at creation.
func (s *Session) Reset() error {
	return fsutil.WriteLines(s.SubmissionPath(), s.initial)
}

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st model.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// MarkAwaiting moves the session into its interactive waiting state, either
// right after spawn or immediately in headless mode.
func (s *Session) MarkAwaiting() { s.setState(model.StateAwaitingCompletion) }

// SetResult stashes validated entries ahead of a submit signal so the waiter
// does not re-validate.
func (s *Session) SetResult(entries []string) {
	s.mu.Lock()
	s.result = entries
	s.mu.Unlock()
}

func (s *Session) Result() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Signal delivers the completion trigger exactly once; later calls are
// no-ops so the process-exit watcher and control commands can race safely.
func (s *Session) Signal(t model.Trigger) {
	s.signalOnce.Do(func() {
		s.setState(model.StateSubmitting)
		s.done <- t
	})
}

// Wait blocks until the session is signalled or ctx ends.
func (s *Session) Wait(ctx context.Context) (model.Trigger, error) {
	select {
	case t := <-s.done:
		return t, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Spawn starts command under sh -c with the session environment set and the
// session bin directory prepended to PATH. A watcher goroutine signals
// process exit.
func (s *Session) Spawn(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Dir
	cmd.Env = s.environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %q: %w", command, err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	go func() {
		_ = cmd.Wait()
		s.Signal(model.TriggerProcessExit)
	}()
	return nil
}

func (s *Session) environ() []string {
	env := os.Environ()
	path := os.Getenv("PATH")
	env = append(env,
		"PORTTY_SESSION="+s.ID,
		"PORTTY_DIR="+s.Dir,
		"PORTTY_PORTAL="+s.Portal,
		"PORTTY_OPERATION="+s.Operation,
		"PATH="+s.layout.BinDir(s.ID)+string(os.PathListSeparator)+path,
	)
	return env
}

// Terminate sends a best-effort kill to the spawned process, if any.
func (s *Session) Terminate() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Finish records the terminal state and removes the working area. Directory
// removal is last so no command observes a half-removed session.
func (s *Session) Finish(st model.SessionState) error {
	s.setState(st)
	s.Terminate()
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// Info returns the list/history summary for this session.
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		ID:        s.ID,
		Portal:    s.Portal,
		Operation: s.Operation,
		Title:     s.Title,
		Created:   s.Created,
		Dir:       s.Dir,
	}
}
