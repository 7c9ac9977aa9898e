package daemon

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
)

// Origin identifies which transport a control line arrived on. The handler
// computes identical responses for both; the pipe transport discards them.
type Origin int

const (
	OriginSocket Origin = iota
	OriginPipe
)

const respOK = "ok"

// ErrUnknownVerb marks a control line whose verb is not part of the
// protocol. Socket callers see it as an error response; the pipe drops it.
var ErrUnknownVerb = errors.New("unknown command")

// HandleLine dispatches one control command and returns the response text,
// newline-terminated. Grammar: "<verb> [session_id]".
func (st *State) HandleLine(raw string, origin Origin) string {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return errorLine("empty command")
	}
	verb := fields[0]
	var target string
	if len(fields) > 1 {
		target = fields[1]
	}
	if len(fields) > 2 {
		return errorLine("too many arguments")
	}

	var resp string
	var err error
	switch verb {
	case "submit":
		resp, err = st.handleSubmit(target)
	case "cancel":
		resp, err = st.handleCancel(target)
	case "verify":
		resp, err = st.handleVerify(target)
	case "reset":
		resp, err = st.handleReset(target)
	case "list":
		resp, err = st.handleList()
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
	if err != nil {
		if origin == OriginSocket {
			st.log.Debug("control command failed", zap.String("verb", verb), zap.Error(err))
		}
		return errorLine(err.Error())
	}
	return resp
}

// handleSubmit validates the target session's current entries and, on
// success, delivers the completion signal. With no session active it
// promotes the pending entry set into the queue instead.
func (st *State) handleSubmit(target string) (string, error) {
	s, err := st.Resolve(target)
	if errors.Is(err, ErrNoSession) && target == "" {
		return st.promotePending()
	}
	if err != nil {
		return "", err
	}
	entries := s.Entries()
	validated, verr := st.registry.For(s.Portal).Validate(s.Operation, entries, s.Options)
	if verr != nil {
		return "", verr
	}
	s.SetResult(validated)
	s.Signal(model.TriggerSubmit)
	return respLine(respOK), nil
}

// promotePending turns the pending entry set into a queued submission for
// any portal. The adopt rename moves the file whole, so an entry appended
// concurrently still lands in the queue entry instead of being truncated
// away. Empty pending is still the no-session error.
func (st *State) promotePending() (string, error) {
	if len(fsutil.ReadLines(st.layout.PendingFile())) == 0 {
		return "", ErrNoSession
	}
	if err := st.queue.Adopt(st.layout.PendingFile(), model.PortalAny); err != nil {
		return "", err
	}
	return respLine(respOK), nil
}

func (st *State) handleCancel(target string) (string, error) {
	s, err := st.Resolve(target)
	if errors.Is(err, ErrNoSession) && target == "" {
		pending := fsutil.ReadLines(st.layout.PendingFile())
		if len(pending) == 0 {
			return "", ErrNoSession
		}
		if err := fsutil.WriteLines(st.layout.PendingFile(), nil); err != nil {
			return "", err
		}
		return respLine(respOK), nil
	}
	if err != nil {
		return "", err
	}
	s.Signal(model.TriggerCancel)
	return respLine(respOK), nil
}

// handleVerify runs validation against the current submission without
// changing any state.
func (st *State) handleVerify(target string) (string, error) {
	s, err := st.Resolve(target)
	if err != nil {
		return "", err
	}
	if _, verr := st.registry.For(s.Portal).Validate(s.Operation, s.Entries(), s.Options); verr != nil {
		return "", verr
	}
	return respLine(respOK), nil
}

func (st *State) handleReset(target string) (string, error) {
	s, err := st.Resolve(target)
	if err != nil {
		return "", err
	}
	if err := s.Reset(); err != nil {
		return "", err
	}
	return respLine(respOK), nil
}

func (st *State) handleList() (string, error) {
	var b strings.Builder
	for _, info := range st.List() {
		b.WriteString(listRecord(info))
		b.WriteString("\n")
	}
	b.WriteString(respOK)
	b.WriteString("\n")
	return b.String(), nil
}

func listRecord(info model.SessionInfo) string {
	fields := []string{
		sanitizeField(info.ID),
		sanitizeField(info.Portal),
		sanitizeField(info.Operation),
		strconv.FormatInt(info.Created.Unix(), 10),
		sanitizeField(info.Dir),
		sanitizeField(info.Title),
	}
	return strings.Join(fields, "\t")
}

// sanitizeField keeps TSV records parseable when a title or path carries
// separator bytes.
func sanitizeField(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

func respLine(s string) string { return s + "\n" }

func errorLine(msg string) string {
	return "error: " + strings.ReplaceAll(msg, "\n", " ") + "\n"
}
