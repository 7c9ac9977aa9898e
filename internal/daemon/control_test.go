package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portty/portty/internal/client"
	"github.com/portty/portty/internal/config"
	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/testutil"
)

type testDaemon struct {
	state  *State
	srv    *Server
	cli    *client.Client
	cancel context.CancelFunc
	done   chan error
}

func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	layout := testutil.NewLayout(t)
	f, err := config.Parse([]byte(""))
	require.NoError(t, err)
	state := NewState(layout, f, nil, zap.NewNop())
	cfg := config.Config{
		SocketPath: layout.SocketPath(),
		CtlPath:    layout.CtlPath(),
	}
	srv := NewServer(cfg, state)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	// The socket appears once Start has bound both surfaces.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(cfg.SocketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never appeared")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return &testDaemon{
		state:  state,
		srv:    srv,
		cli:    client.New(cfg.SocketPath, cfg.CtlPath).WithTimeout(5 * time.Second),
		cancel: cancel,
		done:   done,
	}
}

func TestServerListRoundTrip(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	infos, err := d.cli.List(ctx)
	require.NoError(t, err)
	require.Empty(t, infos)

	s, err := d.state.CreateSession("file-chooser", "open-file", nil, nil, "picker")
	require.NoError(t, err)

	infos, err = d.cli.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, s.ID, infos[0].ID)
	require.Equal(t, "file-chooser", infos[0].Portal)
	require.Equal(t, "open-file", infos[0].Operation)
	require.Equal(t, "picker", infos[0].Title)
	require.Equal(t, s.Dir, infos[0].Dir)
}

func TestServerErrorReachesClient(t *testing.T) {
	d := startTestDaemon(t)

	_, err := d.cli.Command(context.Background(), "bogus", "")
	var reqErr *client.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Contains(t, reqErr.Message, "unknown command")
}

func TestServerCancelOverSocket(t *testing.T) {
	d := startTestDaemon(t)
	s, err := d.state.CreateSession("screenshot", "screenshot", nil, nil, "")
	require.NoError(t, err)

	_, err = d.cli.Command(context.Background(), "cancel", s.ID)
	require.NoError(t, err)

	trigger, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.TriggerCancel, trigger)
}

func TestServerNotifyOverPipe(t *testing.T) {
	d := startTestDaemon(t)
	s, err := d.state.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, d.cli.Notify("cancel", s.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	trigger, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, model.TriggerCancel, trigger)
}

func TestServerRefusesSecondInstance(t *testing.T) {
	d := startTestDaemon(t)

	second := NewServer(d.srv.cfg, d.state)
	err := second.Start(context.Background())
	require.ErrorContains(t, err, "already running")
}

func TestServerShutdownRemovesSurfaces(t *testing.T) {
	d := startTestDaemon(t)
	_, err := d.state.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)

	d.cancel()
	require.NoError(t, <-d.done)

	require.NoFileExists(t, d.srv.cfg.SocketPath)
	require.NoFileExists(t, d.srv.cfg.CtlPath)
	require.Empty(t, d.state.List())
}
