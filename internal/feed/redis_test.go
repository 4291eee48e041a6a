package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"filedesk/api/internal/store"
)

func setupTestFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	feed, err := NewRedisFeed("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis feed: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })
	return feed.WithBlock(20 * time.Millisecond), s
}

func TestNewRedisFeedRejectsBadURL(t *testing.T) {
	if _, err := NewRedisFeed("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisFeedDeliversInOrder(t *testing.T) {
	feed, _ := setupTestFeed(t)
	ctx := context.Background()

	for _, eventType := range []store.EventType{store.EventSubmitted, store.EventApproved} {
		if err := feed.Publish(ctx, store.Event{ProposalID: "prop-1", TargetID: "F-1", Type: eventType, ActorID: "ed-1"}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	sub, err := feed.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	events, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(events) != 2 || events[0].Type != store.EventSubmitted || events[1].Type != store.EventApproved {
		t.Fatalf("unexpected events: %+v", events)
	}

	cursor := sub.Cursor()
	if cursor == "" || cursor == "0-0" {
		t.Fatalf("expected cursor to advance, got %q", cursor)
	}

	if err := feed.Publish(ctx, store.Event{ProposalID: "prop-2", Type: store.EventSubmitted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	resumed, err := feed.Subscribe(ctx, cursor)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	events, err = resumed.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(events) != 1 || events[0].ProposalID != "prop-2" {
		t.Fatalf("expected only the newer event, got %+v", events)
	}
}

func TestRedisFeedNextHonoursContext(t *testing.T) {
	feed, _ := setupTestFeed(t)

	sub, err := feed.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	events, err := sub.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got events=%v err=%v", events, err)
	}
}

func TestRedisFeedPing(t *testing.T) {
	feed, s := setupTestFeed(t)
	if err := feed.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	s.Close()
	if err := feed.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail after redis shut down")
	}
}

func TestRedisFeedRejectsMalformedCursor(t *testing.T) {
	feed, _ := setupTestFeed(t)
	for _, cursor := range []string{"abc", "12", "1-x", "-1"} {
		if _, err := feed.Subscribe(context.Background(), cursor); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("Subscribe(%q) error = %v, want ErrInvalidCursor", cursor, err)
		}
	}
	if _, err := feed.Subscribe(context.Background(), "1700000000000-3"); err != nil {
		t.Fatalf("Subscribe with a stream id failed: %v", err)
	}
}
