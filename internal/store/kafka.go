package store

import (
	"context"
	"fmt"
	"time"

	"bookrecorder/internal/types"

	"github.com/segmentio/kafka-go"
	"github.com/sugawarayuuta/sonnet"
)

// KafkaConfig configures a KafkaSink
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSink publishes each record as one JSON message keyed by symbol
type KafkaSink struct {
	writer   *kafka.Writer
	instance string
}

// NewKafkaSink creates a synchronous writer for the topic. instance is sent
// as a header so consumers can tell recorder processes apart.
func NewKafkaSink(cfg KafkaConfig, instance string) *KafkaSink {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: batchTimeout,
		},
		instance: instance,
	}
}

// Name implements Sink
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Persist publishes record and waits for the broker acknowledgement
func (s *KafkaSink) Persist(ctx context.Context, record types.Record) error {
	msg, err := s.message(record)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", s.writer.Topic, err)
	}
	return nil
}

func (s *KafkaSink) message(record types.Record) (kafka.Message, error) {
	value, err := sonnet.Marshal(record)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(record.Symbol),
		Value: value,
		Time:  record.Timestamp,
		Headers: []kafka.Header{
			{Key: "instance", Value: []byte(s.instance)},
			{Key: "platform", Value: []byte(record.Platform)},
		},
	}, nil
}

// Close flushes pending messages and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
