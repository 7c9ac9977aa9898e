// Package portal implements the per-portal capability interface: submission
// validation/transformation and the smart entry-merge used by sel-class
// commands. Validators are selected by portal name at runtime so new portals
// plug in without touching the session machinery.
package portal

import (
	"encoding/json"
	"fmt"

	"github.com/portty/portty/internal/model"
)

// Validator is the capability a portal contributes.
type Validator interface {
	// Validate checks entries against the portal's constraints for the
	// given operation and returns them transformed to their final form.
	// It must be pure: string transforms only, no filesystem access.
	Validate(operation string, entries []string, options json.RawMessage) ([]string, error)

	// AddEntries merges new entries into the submission file, replacing
	// for single-select portals and appending for multi-select. The file
	// may be concurrently open for append by another process.
	AddEntries(submissionPath string, entries []string, options json.RawMessage) (model.AddResult, error)

	// DefaultShims lists portal-specific shims beyond the builtin set.
	DefaultShims() []model.Shim
}

// ValidationError marks a submission that violates portal constraints. It is
// recoverable: the session stays interactive when triggered by an explicit
// submit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Registry maps portal names to validators.
type Registry struct {
	validators map[string]Validator
	fallback   Validator
}

func NewRegistry() *Registry {
	return &Registry{
		validators: map[string]Validator{},
		fallback:   genericValidator{},
	}
}

// DefaultRegistry returns a registry with the built-in portals registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("file-chooser", FileChooser{})
	r.Register("screenshot", Screenshot{})
	return r
}

func (r *Registry) Register(name string, v Validator) {
	r.validators[name] = v
}

// For returns the validator for a portal name. Unknown portals get a
// permissive pass-through so generic machinery still works for them.
func (r *Registry) For(name string) Validator {
	if v, ok := r.validators[name]; ok {
		return v
	}
	return r.fallback
}
