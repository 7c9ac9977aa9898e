package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/testutil"
)

func TestNewMaterializesWorkingArea(t *testing.T) {
	layout := testutil.NewLayout(t)
	opts := json.RawMessage(`{"multiple":true}`)
	s, err := New(layout, "file-chooser", "open-file", opts, []string{"/seed"}, "Pick files")
	require.NoError(t, err)

	portalData, err := os.ReadFile(layout.PortalFile(s.ID))
	require.NoError(t, err)
	require.Equal(t, "file-chooser\nopen-file", string(portalData))

	optData, err := os.ReadFile(layout.OptionsFile(s.ID))
	require.NoError(t, err)
	require.JSONEq(t, `{"multiple":true}`, string(optData))

	require.Equal(t, []string{"/seed"}, s.Entries())
	require.DirExists(t, layout.BinDir(s.ID))
	require.Equal(t, model.StateCreated, s.State())
}

func TestWriteShims(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, s.WriteShims(map[string]string{"pick": "fzf --multi"}, []model.Shim{{Name: "grab", Command: "slurp"}}))

	for _, name := range model.ReservedShims {
		st, err := os.Stat(filepath.Join(layout.BinDir(s.ID), name))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o700), st.Mode().Perm())
	}
	data, err := os.ReadFile(filepath.Join(layout.BinDir(s.ID), "pick"))
	require.NoError(t, err)
	require.Contains(t, string(data), "exec fzf --multi")
}

func TestResetRestoresInitialEntries(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "file-chooser", "open-file", nil, []string{"/a", "/b"}, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.SubmissionPath(), []byte("/other\n"), 0o600))
	require.Equal(t, []string{"/other"}, s.Entries())
	require.NoError(t, s.Reset())
	require.Equal(t, []string{"/a", "/b"}, s.Entries())
}

func TestSignalIsOneShot(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "screenshot", "screenshot", nil, nil, "")
	require.NoError(t, err)
	s.MarkAwaiting()

	s.Signal(model.TriggerSubmit)
	s.Signal(model.TriggerProcessExit)
	s.Signal(model.TriggerCancel)

	trigger, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.TriggerSubmit, trigger)
}

func TestWaitHonorsContext(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "screenshot", "screenshot", nil, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpawnSignalsProcessExit(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, s.Spawn(context.Background(), `printf '%s\n' "$PORTTY_SESSION" > "$PORTTY_DIR/env-check"`))
	s.MarkAwaiting()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	trigger, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, model.TriggerProcessExit, trigger)

	data, err := os.ReadFile(filepath.Join(s.Dir, "env-check"))
	require.NoError(t, err)
	require.Equal(t, s.ID+"\n", string(data))
}

func TestFinishRemovesDirectory(t *testing.T) {
	layout := testutil.NewLayout(t)
	s, err := New(layout, "file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, s.Finish(model.StateCancelled))
	require.NoDirExists(t, s.Dir)
	require.Equal(t, model.StateCancelled, s.State())
}
