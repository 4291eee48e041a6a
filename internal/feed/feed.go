// Package feed delivers committed proposal events to live subscribers, either
// pushed through a Redis stream or polled from the store's audit trail.
package feed

import (
	"context"
	"errors"

	"filedesk/api/internal/store"
)

var ErrInvalidCursor = errors.New("invalid feed cursor")

// Subscription yields batches of events in commit order. Next blocks until at
// least one event is available or ctx is done. An empty cursor starts from the
// oldest retained event.
type Subscription interface {
	Next(ctx context.Context) ([]store.Event, error)
	Cursor() string
}

type Source interface {
	Subscribe(ctx context.Context, cursor string) (Subscription, error)
}
