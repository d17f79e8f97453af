package audit

import "context"

// Store persists audit events. Implementations must be append-only: once
// written, an event is never mutated or removed.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
