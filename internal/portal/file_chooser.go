package portal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
)

// FileChooserOptions is the options snapshot for file-chooser sessions,
// written once to options.json at session creation.
type FileChooserOptions struct {
	Title         string   `json:"title,omitempty"`
	Multiple      bool     `json:"multiple,omitempty"`
	Directory     bool     `json:"directory,omitempty"`
	CurrentName   string   `json:"current_name,omitempty"`
	CurrentFolder string   `json:"current_folder,omitempty"`
	Candidates    []string `json:"candidates,omitempty"`
	Filters       []Filter `json:"filters,omitempty"`
	CurrentFilter *int     `json:"current_filter,omitempty"`
}

// Filter is a named set of file patterns from the portal request.
type Filter struct {
	Name     string          `json:"name"`
	Patterns []FilterPattern `json:"patterns"`
}

// FilterPattern is either a glob or a mime type.
type FilterPattern struct {
	Kind    string `json:"kind"`
	Pattern string `json:"pattern"`
}

// FileChooser validates and transforms file-chooser submissions into
// file:// URIs.
type FileChooser struct{}

func (FileChooser) Validate(operation string, entries []string, options json.RawMessage) ([]string, error) {
	opts, err := decodeFileChooserOptions(options)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		synth, ok := synthesizeDefault(operation, opts)
		if !ok {
			return nil, invalid("no entries in submission")
		}
		return synth, nil
	}

	switch operation {
	case "save-file":
		if len(entries) > 1 {
			return nil, invalid("save mode expects 1 entry, got %d", len(entries))
		}
		return []string{resolveSaveEntry(entries[0], opts)}, nil
	case "save-files":
		if len(opts.Candidates) == 0 {
			return resolveAll(entries, opts.CurrentFolder), nil
		}
		// The single selected entry names the target folder; final paths
		// come from joining the candidate filenames onto it.
		folder := strings.TrimSuffix(stripFileScheme(entries[0]), "/")
		out := make([]string, 0, len(opts.Candidates))
		for _, name := range opts.Candidates {
			out = append(out, toFileURI(filepath.Join(folder, name), opts.CurrentFolder))
		}
		return out, nil
	case "open-file":
		if !opts.Multiple && len(entries) > 1 {
			return nil, invalid("single-pick mode expects 1 entry, got %d", len(entries))
		}
		return resolveAll(entries, opts.CurrentFolder), nil
	default:
		return resolveAll(entries, opts.CurrentFolder), nil
	}
}

// AddEntries applies smart-add semantics: append in multi-pick mode,
// replace everywhere else. Relative paths are resolved against the current
// working directory at edit time, before the session's directory can change.
func (FileChooser) AddEntries(path string, entries []string, options json.RawMessage) (model.AddResult, error) {
	opts, err := decodeFileChooserOptions(options)
	if err != nil {
		return model.AddResult{}, err
	}
	resolved := resolveAgainstCwd(entries)
	if opts.Multiple {
		if err := fsutil.AppendLines(path, resolved); err != nil {
			return model.AddResult{}, err
		}
		return model.AddResult{Appended: len(resolved)}, nil
	}
	if err := fsutil.WriteLines(path, resolved); err != nil {
		return model.AddResult{}, err
	}
	return model.AddResult{Replaced: true}, nil
}

func (FileChooser) DefaultShims() []model.Shim { return nil }

func decodeFileChooserOptions(raw json.RawMessage) (FileChooserOptions, error) {
	var opts FileChooserOptions
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("decode file-chooser options: %w", err)
	}
	return opts, nil
}

// synthesizeDefault builds the save-target entries from the request options
// when the user submitted nothing.
func synthesizeDefault(operation string, opts FileChooserOptions) ([]string, bool) {
	switch operation {
	case "save-file":
		if opts.CurrentName == "" {
			return nil, false
		}
		return []string{toFileURI(joinFolder(opts.CurrentFolder, opts.CurrentName), "")}, true
	case "save-files":
		if len(opts.Candidates) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(opts.Candidates))
		for _, name := range opts.Candidates {
			out = append(out, toFileURI(joinFolder(opts.CurrentFolder, name), ""))
		}
		return out, true
	default:
		return nil, false
	}
}

// resolveSaveEntry maps a save-file entry to its final URI. A trailing slash
// marks the entry as a folder choice, in which case the request's candidate
// filename is appended. Validation is pure, so this is the only folder
// heuristic available.
func resolveSaveEntry(entry string, opts FileChooserOptions) string {
	p := stripFileScheme(entry)
	if opts.CurrentName != "" && strings.HasSuffix(p, "/") {
		return toFileURI(filepath.Join(strings.TrimSuffix(p, "/"), opts.CurrentName), opts.CurrentFolder)
	}
	return toFileURI(p, opts.CurrentFolder)
}

func resolveAll(entries []string, currentFolder string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, toFileURI(stripFileScheme(e), currentFolder))
	}
	return out
}

func joinFolder(folder, name string) string {
	if folder == "" {
		return name
	}
	return filepath.Join(folder, name)
}

// toFileURI converts a path to a percent-encoded file:// URI. Relative
// paths resolve against currentFolder when one is known; with no folder a
// relative entry passes through unchanged rather than being guessed at.
func toFileURI(p, currentFolder string) string {
	if !filepath.IsAbs(p) {
		if currentFolder == "" {
			return p
		}
		p = filepath.Join(currentFolder, p)
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}

func stripFileScheme(entry string) string {
	if rest, ok := strings.CutPrefix(entry, "file://"); ok {
		if unescaped, err := url.PathUnescape(rest); err == nil {
			return unescaped
		}
		return rest
	}
	return entry
}

// resolveAgainstCwd pins relative paths to the editing process's working
// directory so entries stay stable across later directory changes.
func resolveAgainstCwd(entries []string) []string {
	cwd, err := os.Getwd()
	if err != nil {
		return entries
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e, "file://") || filepath.IsAbs(e) {
			out = append(out, e)
			continue
		}
		out = append(out, filepath.Join(cwd, e))
	}
	return out
}
