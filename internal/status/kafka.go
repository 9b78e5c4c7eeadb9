package status

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/blacktop/xpostd/internal/logutil"
)

// KafkaConfig configures the event topic writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
}

// KafkaSink publishes events to a topic keyed by destination. The writer is
// asynchronous so Emit returns immediately; delivery errors are only logged.
type KafkaSink struct {
	writer *kafkago.Writer
}

// NewKafkaSink constructs a sink from cfg.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequireOne,
		Compression:  compressionFromString(cfg.Compression),
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				logutil.Logger().Warn("status event delivery failed", "topic", cfg.Topic, "messages", len(messages), "err", err)
			}
		},
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Emit(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logutil.Logger().Warn("marshal status event", "err", err)
		return
	}
	msg := kafkago.Message{
		Key:   []byte(ev.Destination),
		Value: payload,
		Time:  ev.Timestamp,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("status." + string(ev.Status))},
			{Key: "correlation_id", Value: []byte(ev.CorrelationID)},
		},
	}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		logutil.Logger().Warn("queue status event", "err", err)
	}
}

// Close flushes pending events.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func compressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
