package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/portty/portty/internal/history"
	"github.com/portty/portty/internal/paths"
)

// NewLayout returns a ready runtime layout rooted in a temp directory.
func NewLayout(t *testing.T) paths.Layout {
	t.Helper()
	layout := paths.NewLayout(filepath.Join(t.TempDir(), "portty"))
	if err := layout.Ensure(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	return layout
}

// NewHistory opens a migrated history store backed by a temp file.
func NewHistory(t *testing.T) (*history.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), "portty-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx
}
