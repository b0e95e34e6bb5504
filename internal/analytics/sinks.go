package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultRedisMaxLen = 10000

// RedisSink appends events as JSON to a capped Redis list.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisSink(client *redis.Client, key string) *RedisSink {
	return &RedisSink{client: client, key: key, maxLen: DefaultRedisMaxLen}
}

func (s *RedisSink) Write(ctx context.Context, events []Event) error {
	values := make([]interface{}, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.Name, err)
		}
		values = append(values, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, values...)
	pipe.LTrim(ctx, s.key, -s.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push analytics events: %w", err)
	}
	return nil
}

// LogSink writes events to the application log.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Write(ctx context.Context, events []Event) error {
	for _, event := range events {
		s.Log.WithFields(logrus.Fields{
			"event":      event.Name,
			"user_id":    event.UserID,
			"properties": event.Properties,
		}).Info("analytics event")
	}
	return nil
}
