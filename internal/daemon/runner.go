package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/portty/portty/internal/history"
	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/session"
)

// ErrCancelled is the cancellation result a portal request finalizes with
// when the user cancels or the backing process exits without a valid
// submission.
var ErrCancelled = errors.New("request cancelled")

// TerminalDetector supplies the spawn command when config resolves nothing.
// Returning "" means headless.
type TerminalDetector func() string

// Runner drives one portal request end to end: queue check, session
// creation, spawn, wait, finalize.
type Runner struct {
	state   *State
	history *history.Store
	detect  TerminalDetector
	log     *zap.Logger
}

func NewRunner(state *State, hist *history.Store, detect TerminalDetector) *Runner {
	if detect == nil {
		detect = func() string { return "" }
	}
	return &Runner{state: state, history: hist, detect: detect, log: state.log}
}

// RunSession is the single surface the bus adapter calls. It returns the
// validated entries, or ErrCancelled when the request ends without a valid
// submission.
func (r *Runner) RunSession(ctx context.Context, portalName, operation string, options json.RawMessage, initial []string, title string) ([]string, error) {
	if entries, ok, err := r.tryQueued(ctx, portalName, operation, options); err != nil {
		return nil, err
	} else if ok {
		return entries, nil
	}

	s, err := r.state.CreateSession(portalName, operation, options, initial, title)
	if err != nil {
		return nil, err
	}

	cmd, set := r.state.cfgFile.ResolveExec(portalName, operation)
	if !set {
		cmd = r.detect()
	}
	if cmd != "" {
		if err := s.Spawn(ctx, cmd); err != nil {
			r.state.Remove(s.ID)
			s.Finish(model.StateCancelled) //nolint:errcheck
			return nil, err
		}
	}
	s.MarkAwaiting()

	trigger, err := s.Wait(ctx)
	if err != nil {
		r.finalize(ctx, s, model.StateCancelled, model.TriggerCancel, nil)
		return nil, err
	}
	return r.finalizeTrigger(ctx, s, trigger)
}

// tryQueued consumes at most one queued submission. Validation failure still
// consumes the entry and falls through to interactive session creation.
func (r *Runner) tryQueued(ctx context.Context, portalName, operation string, options json.RawMessage) ([]string, bool, error) {
	queued, ok, err := r.state.queue.TryConsume(portalName)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	validated, verr := r.state.registry.For(portalName).Validate(operation, queued, options)
	if verr != nil {
		// TODO: revisit whether a rejected queue entry should be
		// requeued instead of dropped.
		r.log.Warn("queued submission rejected",
			zap.String("portal", portalName),
			zap.String("operation", operation),
			zap.Error(verr))
		return nil, false, nil
	}
	r.log.Info("request answered from queue",
		zap.String("portal", portalName),
		zap.String("operation", operation),
		zap.Int("entries", len(validated)))
	r.record(ctx, history.Record{
		Portal:    portalName,
		Operation: operation,
		Outcome:   model.StateCompleted,
		Trigger:   model.TriggerSubmit,
		Entries:   validated,
	})
	return validated, true, nil
}

func (r *Runner) finalizeTrigger(ctx context.Context, s *session.Session, trigger model.Trigger) ([]string, error) {
	switch trigger {
	case model.TriggerSubmit:
		entries := s.Result()
		r.finalize(ctx, s, model.StateCompleted, trigger, entries)
		return entries, nil
	case model.TriggerCancel:
		r.finalize(ctx, s, model.StateCancelled, trigger, nil)
		return nil, ErrCancelled
	default: // process exit: whatever is in the file now is the answer
		entries := s.Entries()
		validated, verr := r.state.registry.For(s.Portal).Validate(s.Operation, entries, s.Options)
		if verr != nil {
			r.log.Info("session finalized as cancelled on process exit",
				zap.String("session", s.ID), zap.Error(verr))
			r.finalize(ctx, s, model.StateCancelled, trigger, nil)
			return nil, ErrCancelled
		}
		r.finalize(ctx, s, model.StateCompleted, trigger, validated)
		return validated, nil
	}
}

// finalize unregisters the session, removes its directory, and records the
// outcome. Unregistering first guarantees no control command can reference
// the id during teardown.
func (r *Runner) finalize(ctx context.Context, s *session.Session, outcome model.SessionState, trigger model.Trigger, entries []string) {
	r.state.Remove(s.ID)
	if err := s.Finish(outcome); err != nil {
		r.log.Warn("session teardown", zap.String("session", s.ID), zap.Error(err))
	}
	r.record(ctx, history.Record{
		SessionID: s.ID,
		Portal:    s.Portal,
		Operation: s.Operation,
		Title:     s.Title,
		Outcome:   outcome,
		Trigger:   trigger,
		Entries:   entries,
		CreatedAt: s.Created,
	})
	r.log.Info("session finalized",
		zap.String("session", s.ID),
		zap.String("outcome", string(outcome)),
		zap.String("trigger", string(trigger)))
}

func (r *Runner) record(ctx context.Context, rec history.Record) {
	if err := r.history.Record(ctx, rec); err != nil {
		r.log.Warn("record history", zap.Error(err))
	}
}
