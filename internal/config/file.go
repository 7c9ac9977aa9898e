package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/portty/portty/internal/model"
)

// ErrReservedShim is returned when a config bin entry collides with a
// builtin shim name.
var ErrReservedShim = errors.New("reserved shim name")

// File is the parsed layered exec/bin document. Portal and operation names
// are free-form table keys, so the document is walked dynamically rather
// than decoded into a fixed struct.
//
//	exec = "foot"                     # root default, "" = headless
//	[bin]
//	pick = "fzf --multi"
//	[file-chooser]
//	exec = "foot -e pick-files"
//	[file-chooser.save-file]
//	exec = ""
type File struct {
	root    layer
	portals map[string]portalLayer
}

type layer struct {
	exec    *string
	execSet bool
	bin     map[string]string
}

type portalLayer struct {
	layer
	operations map[string]layer
}

// Load reads and parses the document at path. A missing file yields an empty
// File (everything resolves to auto-detect); any parse or validation failure
// is fatal per the error contract.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{portals: map[string]portalLayer{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a layered document.
func Parse(data []byte) (*File, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}

	f := &File{portals: map[string]portalLayer{}}
	root, rest, err := splitLayer(doc, "")
	if err != nil {
		return nil, err
	}
	f.root = root

	for portal, raw := range rest {
		table, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("portal %q: expected a table, got %T", portal, raw)
		}
		pl, ops, err := splitLayer(table, portal)
		if err != nil {
			return nil, err
		}
		p := portalLayer{layer: pl, operations: map[string]layer{}}
		for op, rawOp := range ops {
			opTable, ok := rawOp.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: expected a table, got %T", portal, op, rawOp)
			}
			opLayer, extra, err := splitLayer(opTable, portal+"."+op)
			if err != nil {
				return nil, err
			}
			if len(opLayer.bin) > 0 {
				return nil, fmt.Errorf("%s.%s: bin is only allowed at root or portal scope", portal, op)
			}
			if len(extra) > 0 {
				return nil, fmt.Errorf("%s.%s: unrecognized keys in operation table", portal, op)
			}
			p.operations[op] = opLayer
		}
		f.portals[portal] = p
	}
	return f, nil
}

// splitLayer extracts exec/bin from a table and returns the remaining keys
// (portal or operation sub-tables) for the caller to interpret.
func splitLayer(table map[string]any, scope string) (layer, map[string]any, error) {
	l := layer{bin: map[string]string{}}
	rest := map[string]any{}
	for key, value := range table {
		switch key {
		case "exec":
			s, ok := value.(string)
			if !ok {
				return layer{}, nil, fmt.Errorf("%s: exec must be a string", scopeName(scope))
			}
			l.exec = &s
			l.execSet = true
		case "bin":
			binTable, ok := value.(map[string]any)
			if !ok {
				return layer{}, nil, fmt.Errorf("%s: bin must be a table", scopeName(scope))
			}
			for name, cmd := range binTable {
				cmdStr, ok := cmd.(string)
				if !ok {
					return layer{}, nil, fmt.Errorf("%s: bin.%s must be a string", scopeName(scope), name)
				}
				if model.IsReservedShim(name) {
					return layer{}, nil, fmt.Errorf("%s: bin.%s: %w", scopeName(scope), name, ErrReservedShim)
				}
				l.bin[name] = cmdStr
			}
		default:
			rest[key] = value
		}
	}
	return l, rest, nil
}

func scopeName(scope string) string {
	if scope == "" {
		return "root"
	}
	return scope
}

// ResolveExec returns the command for (portal, operation) using precedence
// operation > portal > root. ok is false when no level sets exec, which
// signals the caller to auto-detect a terminal. An empty string with ok=true
// means headless mode.
func (f *File) ResolveExec(portal, operation string) (exec string, ok bool) {
	if p, found := f.portals[portal]; found {
		if op, found := p.operations[operation]; found && op.execSet {
			return *op.exec, true
		}
		if p.execSet {
			return *p.exec, true
		}
	}
	if f.root.execSet {
		return *f.root.exec, true
	}
	return "", false
}

// ResolveBin merges root and portal bin maps; portal entries win on
// conflicting shim names.
func (f *File) ResolveBin(portal string) map[string]string {
	merged := make(map[string]string, len(f.root.bin))
	for name, cmd := range f.root.bin {
		merged[name] = cmd
	}
	if p, found := f.portals[portal]; found {
		for name, cmd := range p.bin {
			merged[name] = cmd
		}
	}
	return merged
}
