// Package bus defines the surface the bus-protocol adapter needs from the
// session core. The adapter decodes inbound requests into (portal,
// operation, options) tuples and calls RunSession; nothing else crosses the
// boundary.
package bus

import (
	"context"
	"encoding/json"
)

// Handler answers one portal request. Implementations return the validated
// entries, or an error when the request was cancelled or failed.
type Handler interface {
	RunSession(ctx context.Context, portal, operation string, options json.RawMessage, initial []string, title string) ([]string, error)
}
