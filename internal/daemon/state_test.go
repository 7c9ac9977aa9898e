package daemon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portty/portty/internal/config"
	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/paths"
	"github.com/portty/portty/internal/testutil"
)

func newTestState(t *testing.T, configDoc string) (*State, paths.Layout) {
	t.Helper()
	layout := testutil.NewLayout(t)
	f, err := config.Parse([]byte(configDoc))
	require.NoError(t, err)
	return NewState(layout, f, nil, zap.NewNop()), layout
}

func TestCreateSessionRegistersAndMaterializes(t *testing.T) {
	st, layout := newTestState(t, "")
	opts := json.RawMessage(`{"multiple":false}`)

	s, err := st.CreateSession("file-chooser", "open-file", opts, []string{"/seed"}, "title")
	require.NoError(t, err)

	got, ok := st.Get(s.ID)
	require.True(t, ok)
	require.Equal(t, "file-chooser", got.Portal)
	require.Equal(t, "open-file", got.Operation)
	require.Equal(t, opts, got.Options)
	require.DirExists(t, layout.SessionDir(s.ID))
}

func TestEarliestPrefersOldestThenID(t *testing.T) {
	st, _ := newTestState(t, "")
	a, err := st.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.CreateSession("screenshot", "screenshot", nil, nil, "")
	require.NoError(t, err)

	earliest, ok := st.Earliest()
	require.True(t, ok)
	require.Equal(t, a.ID, earliest.ID)
}

func TestResolveExplicitAndFallback(t *testing.T) {
	st, _ := newTestState(t, "")
	_, err := st.Resolve("")
	require.ErrorIs(t, err, ErrNoSession)

	s, err := st.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)

	got, err := st.Resolve("")
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	got, err = st.Resolve(s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	_, err = st.Resolve("no-such-id")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestListOrderedOldestFirst(t *testing.T) {
	st, _ := newTestState(t, "")
	a, err := st.CreateSession("file-chooser", "open-file", nil, nil, "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	b, err := st.CreateSession("screenshot", "screenshot", nil, nil, "second")
	require.NoError(t, err)

	infos := st.List()
	require.Len(t, infos, 2)
	require.Equal(t, a.ID, infos[0].ID)
	require.Equal(t, b.ID, infos[1].ID)
}

func TestCreateSessionDrainsPending(t *testing.T) {
	st, layout := newTestState(t, "")
	require.NoError(t, fsutil.WriteLines(layout.PendingFile(), []string{"/pre-picked"}))

	s, err := st.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)
	require.Equal(t, []string{"/pre-picked"}, s.Entries())
	require.Empty(t, fsutil.ReadLines(layout.PendingFile()))
}

func TestRemoveUnregisters(t *testing.T) {
	st, _ := newTestState(t, "")
	s, err := st.CreateSession("file-chooser", "open-file", nil, nil, "")
	require.NoError(t, err)

	st.Remove(s.ID)
	_, ok := st.Get(s.ID)
	require.False(t, ok)
}
