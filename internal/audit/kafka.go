package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the recorder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes entries to a Kafka topic with synchronous,
// all-replica acknowledged writes, so a returned nil means the broker has the entry.
type KafkaRecorder struct {
	mu     sync.RWMutex
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// KafkaConfig configures the Kafka recorder.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	WriteTimeout time.Duration
}

// NewKafkaRecorder creates a recorder writing to cfg.Topic.
func NewKafkaRecorder(cfg KafkaConfig, logger zerolog.Logger) *KafkaRecorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  5 * time.Second,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return newKafkaRecorder(writer, cfg.Topic, logger)
}

// NewKafkaRecorderFromConfig parses a comma-separated broker list. It returns
// (nil, nil) when no brokers are configured.
func NewKafkaRecorderFromConfig(brokers, topic, clientID string, logger zerolog.Logger) (*KafkaRecorder, error) {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	if topic == "" {
		return nil, fmt.Errorf("audit kafka: topic is required")
	}
	return NewKafkaRecorder(KafkaConfig{Brokers: list, Topic: topic, ClientID: clientID}, logger), nil
}

func newKafkaRecorder(w messageWriter, topic string, logger zerolog.Logger) *KafkaRecorder {
	return &KafkaRecorder{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "audit-kafka").Logger(),
	}
}

// Record publishes the entry keyed by account id, so one account's entries
// stay ordered within a partition.
func (r *KafkaRecorder) Record(ctx context.Context, e Entry) error {
	r.mu.RLock()
	writer := r.writer
	r.mu.RUnlock()
	if writer == nil {
		return fmt.Errorf("%w: kafka writer is closed", ErrWriteFailure)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: serialize entry: %v", ErrWriteFailure, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.AccountID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "entry_id", Value: []byte(e.EntryID.String())},
			{Key: "outcome", Value: []byte(e.Outcome)},
			{Key: "hash", Value: []byte(e.Hash)},
		},
		Time: e.Timestamp,
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		r.logger.Error().Err(err).
			Str("entry_id", e.EntryID.String()).
			Str("account_id", e.AccountID).
			Str("topic", r.topic).
			Msg("failed to publish audit entry")
		return fmt.Errorf("%w: publish to kafka: %v", ErrWriteFailure, err)
	}

	r.logger.Debug().
		Str("entry_id", e.EntryID.String()).
		Str("topic", r.topic).
		Msg("audit entry published")
	return nil
}

// Close flushes and closes the writer.
func (r *KafkaRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	return err
}

var _ Recorder = (*KafkaRecorder)(nil)
