// Package fsutil holds the newline-delimited list primitives shared by the
// daemon, the portal validators, and the CLI. Submission files are mutated by
// external processes too, so replacements go through a temp file + rename and
// additions use append mode to keep the lost-update window small.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadLines returns the non-empty lines of path. A missing or unreadable
// file reads as an empty list.
func ReadLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// WriteLines replaces path with the given lines (one per line) using an
// atomic rename. An empty slice produces an empty file.
func WriteLines(path string, lines []string) error {
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AppendLines appends lines to path in append mode, creating it if missing.
func AppendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RemoveLines rewrites path without the given lines.
func RemoveLines(path string, toRemove []string) error {
	if len(toRemove) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(toRemove))
	for _, line := range toRemove {
		drop[line] = struct{}{}
	}
	var remaining []string
	for _, line := range ReadLines(path) {
		if _, ok := drop[line]; !ok {
			remaining = append(remaining, line)
		}
	}
	return WriteLines(path, remaining)
}
