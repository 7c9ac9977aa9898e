package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portty/portty/internal/bus"
	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/queue"
	"github.com/portty/portty/internal/testutil"
)

type cliFixture struct {
	runner *Runner
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newFixture(t *testing.T) (*cliFixture, func(args ...string) int) {
	t.Helper()
	// Keep a caller's portal session environment out of the tests.
	t.Setenv("PORTTY_DIR", "")
	t.Setenv("PORTTY_SESSION", "")
	layout := testutil.NewLayout(t)
	fx := &cliFixture{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	fx.runner = NewRunner(layout, fx.out, fx.errOut)
	run := func(args ...string) int {
		fx.out.Reset()
		fx.errOut.Reset()
		return fx.runner.Run(context.Background(), args)
	}
	return fx, run
}

func TestPendingEditRoundTrip(t *testing.T) {
	fx, run := newFixture(t)

	require.Equal(t, 0, run("sel", "/home/u/a.txt", "/home/u/b.txt"))
	require.Equal(t, 0, run("info"))
	require.Equal(t, "/home/u/a.txt\n/home/u/b.txt\n", fx.out.String())

	require.Equal(t, 0, run("desel", "/home/u/a.txt"))
	require.Equal(t, 0, run("info"))
	require.Equal(t, "/home/u/b.txt\n", fx.out.String())

	require.Equal(t, 0, run("clear"))
	require.Equal(t, 0, run("info"))
	require.Empty(t, fx.out.String())
}

func TestSelAgainstSessionUsesPortalSemantics(t *testing.T) {
	fx, run := newFixture(t)
	dir := fx.runner.layout.SessionDir("sess-1")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portal"), []byte("file-chooser\nopen-file"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "options.json"), []byte(`{"multiple":true}`), 0o600))
	require.NoError(t, fsutil.WriteLines(filepath.Join(dir, "submission"), nil))

	require.Equal(t, 0, run("sel", "-session", "sess-1", "/a", "/b"))
	require.Equal(t, "appended 2\n", fx.out.String())
	require.Equal(t, []string{"/a", "/b"}, fsutil.ReadLines(filepath.Join(dir, "submission")))

	require.Equal(t, 0, run("info", "-session", "sess-1"))
	require.Equal(t, "/a\n/b\n", fx.out.String())

	require.Equal(t, 0, run("desel", "-session", "sess-1", "/a"))
	require.Equal(t, []string{"/b"}, fsutil.ReadLines(filepath.Join(dir, "submission")))

	require.Equal(t, 0, run("clear", "-session", "sess-1"))
	require.Empty(t, fsutil.ReadLines(filepath.Join(dir, "submission")))
}

func TestSelSingleModeReplaces(t *testing.T) {
	fx, run := newFixture(t)
	dir := fx.runner.layout.SessionDir("sess-2")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portal"), []byte("file-chooser\nopen-file"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "options.json"), []byte(`{"multiple":false}`), 0o600))
	require.NoError(t, fsutil.WriteLines(filepath.Join(dir, "submission"), []string{"/old"}))

	require.Equal(t, 0, run("sel", "-session", "sess-2", "/new"))
	require.Equal(t, "replaced\n", fx.out.String())
	require.Equal(t, []string{"/new"}, fsutil.ReadLines(filepath.Join(dir, "submission")))
}

func TestSelHonorsSessionEnvironment(t *testing.T) {
	fx, run := newFixture(t)
	dir := fx.runner.layout.SessionDir("sess-env")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portal"), []byte("file-chooser\nopen-file"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "options.json"), []byte(`{"multiple":true}`), 0o600))
	t.Setenv("PORTTY_DIR", dir)

	require.Equal(t, 0, run("sel", "/env-pick"))
	require.Equal(t, []string{"/env-pick"}, fsutil.ReadLines(filepath.Join(dir, "submission")))
	require.Empty(t, fsutil.ReadLines(fx.runner.layout.PendingFile()))
}

func TestQueueListAndClear(t *testing.T) {
	fx, run := newFixture(t)
	q := queue.New(fx.runner.layout)
	require.NoError(t, q.Enqueue("file-chooser", []string{"/q1", "/q2"}))

	require.Equal(t, 0, run("queue"))
	require.Contains(t, fx.out.String(), "file-chooser\t/q1 /q2")

	require.Equal(t, 0, run("queue", "-clear"))
	require.Equal(t, 0, run("queue"))
	require.Empty(t, fx.out.String())
}

func TestUsageErrors(t *testing.T) {
	fx, run := newFixture(t)

	require.Equal(t, 2, run())
	require.Equal(t, 2, run("frobnicate"))
	require.Contains(t, fx.errOut.String(), "unknown command")
	require.Equal(t, 2, run("sel"))
	require.Equal(t, 2, run("-dir"))
}

type stubRequestHandler struct {
	entries []string
	err     error
}

func (h stubRequestHandler) RunSession(context.Context, string, string, json.RawMessage, []string, string) ([]string, error) {
	return h.entries, h.err
}

var errRequestCancelled = errors.New("request cancelled")

func startRequestServer(t *testing.T, fx *cliFixture, h bus.Handler) {
	t.Helper()
	srv := bus.NewServer(fx.runner.layout.RequestPath(), h, func(err error) bool {
		return errors.Is(err, errRequestCancelled)
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("request server did not stop")
		}
	})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(fx.runner.layout.RequestPath()); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("request socket never appeared")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRequestCommand(t *testing.T) {
	fx, run := newFixture(t)
	startRequestServer(t, fx, stubRequestHandler{entries: []string{"file:///home/u/picked.txt"}})

	code := run("request", "-portal", "file-chooser", "-operation", "open-file", "/seed")
	require.Equal(t, 0, code)
	require.Equal(t, "file:///home/u/picked.txt\n", fx.out.String())

	require.Equal(t, 2, run("request", "-portal", "file-chooser"))
}

func TestRequestCommandCancelled(t *testing.T) {
	fx, run := newFixture(t)
	startRequestServer(t, fx, stubRequestHandler{err: errRequestCancelled})

	require.Equal(t, 1, run("request", "-portal", "screenshot", "-operation", "screenshot"))
	require.Equal(t, "cancelled\n", fx.out.String())
	require.Empty(t, fx.errOut.String())
}

func TestParseGlobalArgs(t *testing.T) {
	dir, rest, err := parseGlobalArgs([]string{"-dir", "/run/p", "list"})
	require.NoError(t, err)
	require.Equal(t, "/run/p", dir)
	require.Equal(t, []string{"list"}, rest)

	dir, rest, err = parseGlobalArgs([]string{"--dir=/run/q", "info"})
	require.NoError(t, err)
	require.Equal(t, "/run/q", dir)
	require.Equal(t, []string{"info"}, rest)

	dir, rest, err = parseGlobalArgs([]string{"sel", "-dir", "x"})
	require.NoError(t, err)
	require.Empty(t, dir)
	require.Equal(t, []string{"sel", "-dir", "x"}, rest)
}
