// Package queue is the file-backed submission queue. Each queued submission
// lives in its own directory under submissions/, named by enqueue timestamp
// and target portal, so ordering and matching fall out of directory listing
// and consumption is a single rename.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
	"github.com/portty/portty/internal/paths"
)

// Entry is one queued submission.
type Entry struct {
	// Enqueued is the enqueue time recovered from the directory name.
	Enqueued time.Time
	// Portal is the portal tag the entry was queued for. model.PortalAny
	// matches every portal.
	Portal  string
	Entries []string

	dir string
}

// Queue orders submissions FIFO per portal tag. It is safe to use from
// multiple processes: claiming an entry renames its directory first, so each
// entry is consumed exactly once.
type Queue struct {
	layout paths.Layout
}

func New(layout paths.Layout) *Queue {
	return &Queue{layout: layout}
}

// Enqueue stores entries for the next session targeting portal. The portal
// tag may be model.PortalAny to match any session.
func (q *Queue) Enqueue(portal string, entries []string) error {
	if portal == "" {
		portal = model.PortalAny
	}
	now := time.Now().UnixMilli()
	dir := q.layout.QueueEntryDir(now, portal)
	// Timestamps collide when two enqueues land in the same millisecond.
	for i := 0; ; i++ {
		if err := os.Mkdir(dir, 0o700); err == nil {
			break
		} else if !os.IsExist(err) {
			return fmt.Errorf("create queue entry: %w", err)
		}
		now++
		dir = q.layout.QueueEntryDir(now, portal)
		if i > 1000 {
			return fmt.Errorf("create queue entry: no free slot")
		}
	}
	if err := fsutil.WriteLines(filepath.Join(dir, "submission"), entries); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

// Adopt moves an existing submission file into the queue under the given
// portal tag. The rename carries concurrent appends to the file into the
// queue entry instead of a read/rewrite cycle that would drop them.
func (q *Queue) Adopt(submissionPath, portal string) error {
	if portal == "" {
		portal = model.PortalAny
	}
	now := time.Now().UnixMilli()
	dir := q.layout.QueueEntryDir(now, portal)
	for i := 0; ; i++ {
		if err := os.Mkdir(dir, 0o700); err == nil {
			break
		} else if !os.IsExist(err) {
			return fmt.Errorf("create queue entry: %w", err)
		}
		now++
		dir = q.layout.QueueEntryDir(now, portal)
		if i > 1000 {
			return fmt.Errorf("create queue entry: no free slot")
		}
	}
	if err := os.Rename(submissionPath, filepath.Join(dir, "submission")); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("adopt submission: %w", err)
	}
	return nil
}

// TryConsume claims the oldest entry matching portal and returns its
// submission lines. It returns ok=false without touching the filesystem
// beyond a single listing when nothing matches.
func (q *Queue) TryConsume(portal string) (entries []string, ok bool, err error) {
	for {
		candidates, err := q.list()
		if err != nil {
			return nil, false, err
		}
		var target *Entry
		for i := range candidates {
			if candidates[i].Portal == model.PortalAny || candidates[i].Portal == portal {
				target = &candidates[i]
				break
			}
		}
		if target == nil {
			return nil, false, nil
		}
		claimed := target.dir + ".claimed"
		if err := os.Rename(target.dir, claimed); err != nil {
			if os.IsNotExist(err) {
				// Another consumer won the rename; rescan.
				continue
			}
			return nil, false, fmt.Errorf("claim queue entry: %w", err)
		}
		lines := fsutil.ReadLines(filepath.Join(claimed, "submission"))
		if err := os.RemoveAll(claimed); err != nil {
			return nil, false, fmt.Errorf("remove queue entry: %w", err)
		}
		return lines, true, nil
	}
}

// Peek returns every queued entry oldest-first without consuming anything.
func (q *Queue) Peek() ([]Entry, error) {
	candidates, err := q.list()
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Entries = fsutil.ReadLines(filepath.Join(candidates[i].dir, "submission"))
	}
	return candidates, nil
}

// Clear removes every queued entry.
func (q *Queue) Clear() error {
	candidates, err := q.list()
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if err := os.RemoveAll(c.dir); err != nil {
			return fmt.Errorf("remove queue entry: %w", err)
		}
	}
	return nil
}

func (q *Queue) list() ([]Entry, error) {
	dirents, err := os.ReadDir(q.layout.SubmissionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	var out []Entry
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".claimed") {
			continue
		}
		ts, portal, ok := parseEntryName(name)
		if !ok {
			continue
		}
		out = append(out, Entry{
			Enqueued: time.UnixMilli(ts),
			Portal:   portal,
			dir:      filepath.Join(q.layout.SubmissionsDir(), name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Enqueued.Before(out[j].Enqueued) })
	return out, nil
}

func parseEntryName(name string) (ts int64, portal string, ok bool) {
	idx := strings.Index(name, "-")
	if idx <= 0 || idx == len(name)-1 {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, name[idx+1:], true
}
