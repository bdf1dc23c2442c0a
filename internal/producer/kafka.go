package producer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang-intel-service/internal/model"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaSource
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads JSON records from a topic within a consumer group.
// Offsets are committed once a message has been read when a group is set.
type KafkaSource struct {
	reader kafkaReader
	commit bool
}

// NewKafkaSource creates a consumer group reader
func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source needs brokers and a topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &KafkaSource{reader: reader, commit: cfg.GroupID != ""}, nil
}

// Next fetches, decodes and commits the next message
func (s *KafkaSource) Next(ctx context.Context) (model.Record, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Record{}, ErrSourceClosed
		}
		if ctx.Err() != nil {
			return model.Record{}, ctx.Err()
		}
		return model.Record{}, fmt.Errorf("failed to fetch kafka message: %w", err)
	}

	rec, decodeErr := model.DecodeRecord(msg.Value)
	if s.commit {
		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return model.Record{}, fmt.Errorf("failed to commit kafka offset: %w", err)
		}
	}
	if decodeErr != nil {
		return model.Record{}, fmt.Errorf("%w: offset %d: %v", ErrInvalidRecord, msg.Offset, decodeErr)
	}
	if rec.Key == "" {
		rec.Key = string(msg.Key)
	}
	return rec, nil
}

// Close closes the reader
func (s *KafkaSource) Close() error {
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
