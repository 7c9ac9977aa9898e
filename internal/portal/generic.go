package portal

import (
	"encoding/json"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
)

// genericValidator serves portals without a registered capability: entries
// pass through untouched and edits append.
type genericValidator struct{}

func (genericValidator) Validate(_ string, entries []string, _ json.RawMessage) ([]string, error) {
	if len(entries) == 0 {
		return nil, invalid("no entries in submission")
	}
	return entries, nil
}

func (genericValidator) AddEntries(path string, entries []string, _ json.RawMessage) (model.AddResult, error) {
	if err := fsutil.AppendLines(path, entries); err != nil {
		return model.AddResult{}, err
	}
	return model.AddResult{Appended: len(entries)}, nil
}

func (genericValidator) DefaultShims() []model.Shim { return nil }
