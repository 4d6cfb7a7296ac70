package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink appends events to Redis Streams: one stream for every event and
// one per agent.
type RedisSink struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSink connects to redisURL. prefix namespaces the stream keys.
func NewRedisSink(redisURL, prefix string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "skillmatch:"
	}
	return &RedisSink{rdb: rdb, prefix: prefix, logger: logger}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// EventsStream is the stream receiving every event.
func (s *RedisSink) EventsStream() string { return s.prefix + "events" }

// AgentStream is the stream receiving one agent's events.
func (s *RedisSink) AgentStream(agentID string) string { return s.prefix + "agent:" + agentID }

func (s *RedisSink) Deliver(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	for _, stream := range []string{s.EventsStream(), s.AgentStream(e.AgentID)} {
		_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{
				"type": string(e.Type),
				"data": string(data),
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("publish to %s: %w", stream, err)
		}
	}
	s.logger.Debug("published event",
		zap.String("type", string(e.Type)),
		zap.String("agent", e.AgentID))
	return nil
}

// Subscribe streams events addressed to agentID, starting after fromID
// ("$" for new events only, "0" for the full history). Cancel ctx to stop.
func (s *RedisSink) Subscribe(ctx context.Context, agentID, fromID string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := s.AgentStream(agentID)
	if fromID == "" {
		fromID = "$"
	}

	go func() {
		defer close(ch)
		lastID := fromID
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e Event
					if json.Unmarshal([]byte(data), &e) != nil {
						continue
					}
					select {
					case ch <- &e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
