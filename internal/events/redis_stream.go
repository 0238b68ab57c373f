package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends events to a capped Redis stream so other services can
// consume workflow transitions with XREAD or consumer groups.
type RedisStream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStream(client redis.Cmdable, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":       event.Type,
			"documentId": event.DocumentID,
			"reviewId":   event.ReviewID,
			"taskId":     event.TaskID,
			"actorId":    event.ActorID,
			"at":         event.At.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			"data":       string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append event %s: %w", event.Type, err)
	}
	return nil
}
