package portal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/portty/portty/internal/fsutil"
	"github.com/portty/portty/internal/model"
)

// ScreenshotOptions is the options snapshot for screenshot sessions.
type ScreenshotOptions struct {
	Interactive bool   `json:"interactive,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	Modal       bool   `json:"modal,omitempty"`
}

// Screenshot validates screenshot and pick-color submissions. Both
// operations are single-entry; pick-color additionally checks the color
// format and strips any file:// prefix a shim may have added.
type Screenshot struct{}

func (Screenshot) Validate(operation string, entries []string, _ json.RawMessage) ([]string, error) {
	if len(entries) == 0 {
		return nil, invalid("no entries in submission")
	}
	if len(entries) > 1 {
		return nil, invalid("screenshot expects 1 entry, got %d", len(entries))
	}

	if operation == "pick-color" {
		color := strings.TrimPrefix(entries[0], "file://")
		r, g, b, ok := ParseColor(color)
		if !ok {
			return nil, invalid("invalid color format: %q (expected #rrggbb, 'R G B' floats, or rgb(r,g,b))", color)
		}
		// Every accepted form converges on the float-triple wire form.
		return []string{FormatColor(r, g, b)}, nil
	}
	return entries, nil
}

// AddEntries always replaces: a screenshot session holds one entry.
func (Screenshot) AddEntries(path string, entries []string, _ json.RawMessage) (model.AddResult, error) {
	if err := fsutil.WriteLines(path, entries); err != nil {
		return model.AddResult{}, err
	}
	return model.AddResult{Replaced: true}, nil
}

func (Screenshot) DefaultShims() []model.Shim { return nil }

// ParseColor parses a color string into r/g/b floats in [0,1]. Accepted
// forms: #rrggbb hex, rgb(r,g,b) with 0-255 components, and three
// space-separated floats already in [0,1].
func ParseColor(s string) (r, g, b float64, ok bool) {
	s = strings.TrimSpace(s)

	if hex, found := strings.CutPrefix(s, "#"); found {
		if len(hex) != 6 {
			return 0, 0, 0, false
		}
		var c [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
			if err != nil {
				return 0, 0, 0, false
			}
			c[i] = float64(v) / 255.0
		}
		return c[0], c[1], c[2], true
	}

	if inner, found := strings.CutPrefix(s, "rgb("); found {
		inner, found = strings.CutSuffix(inner, ")")
		if !found {
			return 0, 0, 0, false
		}
		parts := strings.Split(inner, ",")
		if len(parts) != 3 {
			return 0, 0, 0, false
		}
		var c [3]float64
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return 0, 0, 0, false
			}
			c[i] = float64(v) / 255.0
		}
		return c[0], c[1], c[2], true
	}

	parts := strings.Fields(s)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var c [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || v > 1 {
			return 0, 0, 0, false
		}
		c[i] = v
	}
	return c[0], c[1], c[2], true
}

// FormatColor renders r/g/b floats as the portal's wire form.
func FormatColor(r, g, b float64) string {
	return fmt.Sprintf("%g %g %g", r, g, b)
}
