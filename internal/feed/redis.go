package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"filedesk/api/internal/store"
)

const (
	defaultStream = "filedesk:proposal-events"
	// Oldest entries are trimmed past this length.
	defaultMaxLen = 10000
	defaultBlock  = 5 * time.Second
	defaultBatch  = 100
)

// RedisFeed publishes events to a Redis stream and reads them back with XREAD.
// Stream entry IDs are the subscription cursors.
type RedisFeed struct {
	client *redis.Client
	stream string
	maxLen int64
	block  time.Duration
	batch  int64
}

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client), nil
}

// NewRedisFeedWithClient creates a feed from an existing Redis client.
func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{
		client: client,
		stream: defaultStream,
		maxLen: defaultMaxLen,
		block:  defaultBlock,
		batch:  defaultBatch,
	}
}

// WithBlock sets how long a single XREAD waits before Next re-checks ctx.
func (f *RedisFeed) WithBlock(d time.Duration) *RedisFeed {
	f.block = d
	return f
}

func (f *RedisFeed) Publish(ctx context.Context, event store.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: f.maxLen,
		Approx: true,
		Values: map[string]any{"event": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(_ context.Context, cursor string) (Subscription, error) {
	if cursor == "" {
		cursor = "0-0"
	}
	if !validStreamID(cursor) {
		return nil, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	return &redisSubscription{feed: f, cursor: cursor}, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

type redisSubscription struct {
	feed   *RedisFeed
	cursor string
}

func (s *redisSubscription) Cursor() string {
	return s.cursor
}

func (s *redisSubscription) Next(ctx context.Context) ([]store.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		streams, err := s.feed.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.feed.stream, s.cursor},
			Count:   s.feed.batch,
			Block:   s.feed.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read events: %w", err)
		}

		events := make([]store.Event, 0)
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.cursor = msg.ID
				raw, ok := msg.Values["event"].(string)
				if !ok {
					continue
				}
				var event store.Event
				if err := json.Unmarshal([]byte(raw), &event); err != nil {
					return nil, fmt.Errorf("unmarshal event %s: %w", msg.ID, err)
				}
				events = append(events, event)
			}
		}
		if len(events) > 0 {
			return events, nil
		}
	}
}

// validStreamID accepts the "<ms>-<seq>" ids XADD generates.
func validStreamID(id string) bool {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return false
	}
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	_, err := strconv.ParseUint(seq, 10, 64)
	return err == nil
}
