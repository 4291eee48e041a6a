package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"filedesk/api/internal/store"
)

type EventLister interface {
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]store.Event, error)
}

// PollingFeed reads the audit trail directly. Event IDs are the cursors.
type PollingFeed struct {
	events   EventLister
	interval time.Duration
	batch    int
}

func NewPollingFeed(events EventLister, interval time.Duration) *PollingFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingFeed{events: events, interval: interval, batch: defaultBatch}
}

func (f *PollingFeed) Subscribe(_ context.Context, cursor string) (Subscription, error) {
	var after int64
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
		}
		after = parsed
	}
	return &pollSubscription{feed: f, after: after}, nil
}

type pollSubscription struct {
	feed  *PollingFeed
	after int64
}

func (s *pollSubscription) Cursor() string {
	return strconv.FormatInt(s.after, 10)
}

func (s *pollSubscription) Next(ctx context.Context) ([]store.Event, error) {
	ticker := time.NewTicker(s.feed.interval)
	defer ticker.Stop()

	for {
		events, err := s.feed.events.ListEventsAfter(ctx, s.after, s.feed.batch)
		if err != nil {
			return nil, fmt.Errorf("poll events: %w", err)
		}
		if len(events) > 0 {
			s.after = events[len(events)-1].ID
			return events, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
