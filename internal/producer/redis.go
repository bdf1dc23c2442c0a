package producer

import (
	"context"
	"fmt"
	"io"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/storage"

	"github.com/go-redis/redis/v8"
)

// RedisSource reads records published on records:<category> channels
type RedisSource struct {
	messages <-chan *redis.Message
	closer   io.Closer
}

// NewRedisSource subscribes to the record channels of every category
func NewRedisSource(ctx context.Context, adapter *storage.RedisAdapter, categories []channel.Category) (*RedisSource, error) {
	pubsub, err := adapter.SubscribeRecords(ctx, categories)
	if err != nil {
		return nil, err
	}
	return newRedisSource(pubsub.Channel(), pubsub), nil
}

// newRedisSource reads from a subscription's message channel; closer ends
// the subscription
func newRedisSource(messages <-chan *redis.Message, closer io.Closer) *RedisSource {
	return &RedisSource{messages: messages, closer: closer}
}

// Next returns the next published record
func (s *RedisSource) Next(ctx context.Context) (model.Record, error) {
	select {
	case <-ctx.Done():
		return model.Record{}, ctx.Err()
	case msg, ok := <-s.messages:
		if !ok {
			return model.Record{}, ErrSourceClosed
		}
		rec, err := model.DecodeRecord([]byte(msg.Payload))
		if err != nil {
			return model.Record{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, msg.Channel, err)
		}
		return rec, nil
	}
}

// Close unsubscribes
func (s *RedisSource) Close() error {
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("failed to close Redis subscription: %w", err)
	}
	return nil
}
