// Package cli implements the portty operator commands: control verbs over
// the daemon socket, and direct file edits against a session's submission or
// the pending store.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/portty/portty/internal/bus"
	"github.com/portty/portty/internal/client"
	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/paths"
	"github.com/portty/portty/internal/portal"
	"github.com/portty/portty/internal/queue"
)

type Runner struct {
	layout  paths.Layout
	client  *client.Client
	portals *portal.Registry
	out     io.Writer
	errOut  io.Writer
}

func NewRunner(layout paths.Layout, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		layout:  layout,
		client:  client.New(layout.SocketPath(), layout.CtlPath()),
		portals: portal.DefaultRegistry(),
		out:     out,
		errOut:  errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	dir, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if dir != "" {
		*r = *NewRunner(paths.NewLayout(dir), r.out, r.errOut)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "list":
		return r.runList(ctx)
	case "queue":
		return r.runQueue(rest[1:])
	case "submit", "cancel", "verify", "reset":
		return r.runVerb(ctx, rest[0], rest[1:])
	case "sel":
		return r.runSel(rest[1:])
	case "desel":
		return r.runDesel(rest[1:])
	case "clear":
		return r.runClear(rest[1:])
	case "info":
		return r.runInfo(rest[1:])
	case "request":
		return r.runRequest(rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

// parseGlobalArgs strips a leading -dir flag before subcommand dispatch.
func parseGlobalArgs(args []string) (dir string, rest []string, err error) {
	rest = args
	for len(rest) > 0 {
		switch {
		case rest[0] == "-dir" || rest[0] == "--dir":
			if len(rest) < 2 {
				return "", nil, fmt.Errorf("-dir requires a value")
			}
			dir = rest[1]
			rest = rest[2:]
		case strings.HasPrefix(rest[0], "-dir="):
			dir = strings.TrimPrefix(rest[0], "-dir=")
			rest = rest[1:]
		case strings.HasPrefix(rest[0], "--dir="):
			dir = strings.TrimPrefix(rest[0], "--dir=")
			rest = rest[1:]
		default:
			return dir, rest, nil
		}
	}
	return dir, rest, nil
}

func (r *Runner) runList(ctx context.Context) int {
	infos, err := r.client.List(ctx)
	if err != nil {
		return r.fail(err)
	}
	for _, info := range infos {
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%d\t%s\t%s\n",
			info.ID, info.Portal, info.Operation, info.Created.Unix(), info.Dir, info.Title)
	}
	return 0
}

func (r *Runner) runQueue(args []string) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	drop := fs.Bool("clear", false, "drop every queued submission")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	q := queue.New(r.layout)
	if *drop {
		if err := q.Clear(); err != nil {
			return r.fail(err)
		}
		return 0
	}
	entries, err := q.Peek()
	if err != nil {
		return r.fail(err)
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(r.out, "%d\t%s\t%s\n",
			e.Enqueued.UnixMilli(), e.Portal, strings.Join(e.Entries, " "))
	}
	return 0
}

func (r *Runner) runVerb(ctx context.Context, verb string, args []string) int {
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sessionID := fs.String("session", os.Getenv("PORTTY_SESSION"), "target session id")
	notify := fs.Bool("notify", false, "send via the fire-and-forget pipe")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if *notify {
		if err := r.client.Notify(verb, *sessionID); err != nil {
			return r.fail(err)
		}
		return 0
	}
	records, err := r.client.Command(ctx, verb, *sessionID)
	if err != nil {
		return r.fail(err)
	}
	for _, rec := range records {
		_, _ = fmt.Fprintln(r.out, rec)
	}
	return 0
}

// editContext resolves which submission file and portal a file-edit command
// works on: an explicit session, the session environment, or the pending
// store when no session is bound.
type editContext struct {
	submissionPath string
	portalName     string
	options        json.RawMessage
}

func (r *Runner) resolveEdit(sessionID string) editContext {
	dir := ""
	if sessionID != "" {
		dir = r.layout.SessionDir(sessionID)
	} else if env := os.Getenv("PORTTY_DIR"); env != "" {
		dir = env
	}
	if dir == "" {
		return editContext{submissionPath: r.layout.PendingFile()}
	}
	ec := editContext{submissionPath: filepath.Join(dir, "submission")}
	if lines := fsutil.ReadLines(filepath.Join(dir, "portal")); len(lines) > 0 {
		ec.portalName = lines[0]
	}
	if data, err := os.ReadFile(filepath.Join(dir, "options.json")); err == nil {
		ec.options = data
	}
	return ec
}

func (r *Runner) runSel(args []string) int {
	fs := flag.NewFlagSet("sel", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sessionID := fs.String("session", "", "target session id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	entries := fs.Args()
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: portty sel [-session id] <entry>...")
		return 2
	}
	ec := r.resolveEdit(*sessionID)
	if ec.portalName == "" {
		// No session bound: entries accumulate in the pending store.
		if err := fsutil.AppendLines(ec.submissionPath, entries); err != nil {
			return r.fail(err)
		}
		return 0
	}
	res, err := r.portals.For(ec.portalName).AddEntries(ec.submissionPath, entries, ec.options)
	if err != nil {
		return r.fail(err)
	}
	if res.Replaced {
		_, _ = fmt.Fprintln(r.out, "replaced")
	} else {
		_, _ = fmt.Fprintf(r.out, "appended %d\n", res.Appended)
	}
	return 0
}

func (r *Runner) runDesel(args []string) int {
	fs := flag.NewFlagSet("desel", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sessionID := fs.String("session", "", "target session id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: portty desel [-session id] <entry>...")
		return 2
	}
	ec := r.resolveEdit(*sessionID)
	if err := fsutil.RemoveLines(ec.submissionPath, fs.Args()); err != nil {
		return r.fail(err)
	}
	return 0
}

func (r *Runner) runClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sessionID := fs.String("session", "", "target session id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	ec := r.resolveEdit(*sessionID)
	if err := fsutil.WriteLines(ec.submissionPath, nil); err != nil {
		return r.fail(err)
	}
	return 0
}

func (r *Runner) runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sessionID := fs.String("session", "", "target session id")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	ec := r.resolveEdit(*sessionID)
	for _, line := range fsutil.ReadLines(ec.submissionPath) {
		_, _ = fmt.Fprintln(r.out, line)
	}
	return 0
}

// runRequest drives one portal request end to end through the daemon's
// request socket, the way a bus adapter would.
func (r *Runner) runRequest(args []string) int {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	portalName := fs.String("portal", "", "portal name")
	operation := fs.String("operation", "", "operation name")
	options := fs.String("options", "", "options JSON")
	title := fs.String("title", "", "request title")
	if err := fs.Parse(args); err != nil {
		return r.usageErr(err)
	}
	if *portalName == "" || *operation == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: portty request -portal <name> -operation <name> [-options json] [-title t] [entry]...")
		return 2
	}
	req := bus.Request{
		Portal:    *portalName,
		Operation: *operation,
		Entries:   fs.Args(),
		Title:     *title,
	}
	if *options != "" {
		req.Options = json.RawMessage(*options)
	}
	conn, err := net.Dial("unix", r.layout.RequestPath())
	if err != nil {
		return r.fail(err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return r.fail(err)
	}
	var resp bus.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return r.fail(err)
	}
	if resp.Error != "" {
		_, _ = fmt.Fprintf(r.errOut, "error: %s\n", resp.Error)
		return 1
	}
	if resp.Cancelled {
		_, _ = fmt.Fprintln(r.out, "cancelled")
		return 1
	}
	for _, e := range resp.Entries {
		_, _ = fmt.Fprintln(r.out, e)
	}
	return 0
}

func (r *Runner) fail(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) usageErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 2
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, strings.TrimSpace(`
usage: portty [-dir path] <command>

commands:
  list                         active sessions
  queue [-clear]               queued submissions
  submit|cancel|verify|reset   control verbs [-session id] [-notify]
  sel|desel|clear|info         edit the bound submission [-session id]
  request                      run one portal request through the daemon
`))
}
