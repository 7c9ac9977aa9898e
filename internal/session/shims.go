package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/portty/portty/internal/model"
)

// WriteShims populates the session bin directory: builtin control shims
// first, then portal defaults, then config entries. Config names never
// shadow builtins because reserved names are rejected at config load.
func (s *Session) WriteShims(extra map[string]string, portalShims []model.Shim) error {
	binDir := s.layout.BinDir(s.ID)
	for _, name := range model.ReservedShims {
		if err := writeShim(binDir, name, "exec portty "+name+" \"$@\""); err != nil {
			return err
		}
	}
	for _, sh := range portalShims {
		body := sh.Command
		if body == "" {
			body = "exec portty " + sh.Name + " \"$@\""
		} else {
			body = "exec " + body + " \"$@\""
		}
		if err := writeShim(binDir, sh.Name, body); err != nil {
			return err
		}
	}
	for name, cmd := range extra {
		if err := writeShim(binDir, name, "exec "+cmd+" \"$@\""); err != nil {
			return err
		}
	}
	return nil
}

func writeShim(binDir, name, body string) error {
	script := "#!/bin/sh\n" + body + "\n"
	path := filepath.Join(binDir, name)
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		return fmt.Errorf("write shim %s: %w", name, err)
	}
	return nil
}
