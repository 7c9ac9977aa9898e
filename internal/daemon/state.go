package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/portty/portty/internal/config"
	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/paths"
	"github.com/portty/portty/internal/portal"
	"github.com/portty/portty/internal/queue"
	"github.com/portty/portty/internal/session"
)

// ErrNoSession is returned when a control command targets a session that
// does not exist, or omits a target while no session is active.
var ErrNoSession = errors.New("no active session")

// State is the process-wide registry of active sessions plus the submission
// queue. It owns all session lifecycle mutation; everything else goes
// through it.
type State struct {
	layout   paths.Layout
	cfgFile  *config.File
	registry *portal.Registry
	queue    *queue.Queue
	log      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func NewState(layout paths.Layout, cfgFile *config.File, registry *portal.Registry, log *zap.Logger) *State {
	if registry == nil {
		registry = portal.DefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &State{
		layout:   layout,
		cfgFile:  cfgFile,
		registry: registry,
		queue:    queue.New(layout),
		log:      log,
		sessions: map[string]*session.Session{},
	}
}

func (st *State) Queue() *queue.Queue       { return st.queue }
func (st *State) Layout() paths.Layout      { return st.layout }
func (st *State) Portals() *portal.Registry { return st.registry }

// CreateSession materializes a session directory, seeds it with initial and
// drained pending entries, and registers it. A failed create leaves no
// registry entry and no directory.
func (st *State) CreateSession(portalName, operation string, options json.RawMessage, initial []string, title string) (*session.Session, error) {
	s, err := session.New(st.layout, portalName, operation, options, initial, title)
	if err != nil {
		return nil, err
	}
	if err := s.WriteShims(st.cfgFile.ResolveBin(portalName), st.registry.For(portalName).DefaultShims()); err != nil {
		s.Finish(model.StateCancelled) //nolint:errcheck
		return nil, err
	}
	if err := st.drainPending(s); err != nil {
		st.log.Warn("drain pending entries", zap.String("session", s.ID), zap.Error(err))
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.log.Info("session created",
		zap.String("session", s.ID),
		zap.String("portal", portalName),
		zap.String("operation", operation))
	return s, nil
}

// drainPending merges entries edited before any session existed into the new
// session through the portal's add semantics, then clears the pending store.
func (st *State) drainPending(s *session.Session) error {
	pending := fsutil.ReadLines(st.layout.PendingFile())
	if len(pending) == 0 {
		return nil
	}
	v := st.registry.For(s.Portal)
	if _, err := v.AddEntries(s.SubmissionPath(), pending, s.Options); err != nil {
		return err
	}
	return fsutil.WriteLines(st.layout.PendingFile(), nil)
}

func (st *State) Get(id string) (*session.Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Earliest returns the active session with the oldest creation time, ties
// broken by id ordering. Used when a control command omits its target.
func (st *State) Earliest() (*session.Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var best *session.Session
	for _, s := range st.sessions {
		if best == nil ||
			s.Created.Before(best.Created) ||
			(s.Created.Equal(best.Created) && s.ID < best.ID) {
			best = s
		}
	}
	return best, best != nil
}

// Resolve finds the command's target: an explicit id, else the earliest
// session.
func (st *State) Resolve(id string) (*session.Session, error) {
	if id != "" {
		s, ok := st.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
		}
		return s, nil
	}
	s, ok := st.Earliest()
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Remove unregisters a session. Directory cleanup belongs to the session's
// Finish; Remove only drops the registry entry.
func (st *State) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// List returns session summaries ordered oldest first.
func (st *State) List() []model.SessionInfo {
	st.mu.RLock()
	out := make([]model.SessionInfo, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.Info())
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Shutdown finalizes every remaining session as cancelled, best effort.
func (st *State) Shutdown() {
	st.mu.Lock()
	remaining := make([]*session.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		remaining = append(remaining, s)
	}
	st.sessions = map[string]*session.Session{}
	st.mu.Unlock()
	for _, s := range remaining {
		s.Signal(model.TriggerCancel)
		if err := s.Finish(model.StateCancelled); err != nil {
			st.log.Warn("cleanup session", zap.String("session", s.ID), zap.Error(err))
		}
	}
}
