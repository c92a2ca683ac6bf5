package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

// SourceKafka labels records consumed from Kafka.
const SourceKafka = "kafka"

// teamHeader carries the team for messages whose body has none.
const teamHeader = "team_id"

// KafkaConfig configures the Kafka consumer.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	MinBytes       int           `yaml:"min_bytes"`
	MaxBytes       int           `yaml:"max_bytes"`
	MaxWait        time.Duration `yaml:"max_wait"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	StartFromFirst bool          `yaml:"start_from_first"`
}

// SetDefaults fills unset consumer settings.
func (c *KafkaConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "logtrap.records"
	}
	if c.GroupID == "" {
		c.GroupID = "logtrap"
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10e6
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate checks the consumer settings.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	return nil
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a consumer-group reader for cfg.
func NewKafkaReader(cfg KafkaConfig) (*kafka.Reader, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	startOffset := kafka.LastOffset
	if cfg.StartFromFirst {
		startOffset = kafka.FirstOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: startOffset,
	}), nil
}

// KafkaConsumer reads JSON log records from a topic and feeds the pipeline.
// Messages that cannot be decoded or processed are logged and committed so
// a single bad message cannot stall the partition.
type KafkaConsumer struct {
	reader   MessageReader
	pipeline *Pipeline
	backoff  time.Duration
	logger   *zap.Logger
	doneCh   chan struct{}
}

// NewKafkaConsumer creates a consumer over reader.
func NewKafkaConsumer(reader MessageReader, pipeline *Pipeline, backoff time.Duration, logger *zap.Logger) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &KafkaConsumer{
		reader:   reader,
		pipeline: pipeline,
		backoff:  backoff,
		logger:   logger.Named("kafka_consumer"),
		doneCh:   make(chan struct{}),
	}
}

// Start consumes in the background until ctx is done.
func (c *KafkaConsumer) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)
		if err := c.Run(ctx); err != nil {
			c.logger.Error("consumer stopped", zap.Error(err))
		}
	}()
}

// Wait blocks until a consumer started with Start has returned.
func (c *KafkaConsumer) Wait() {
	<-c.doneCh
}

// Run consumes messages until ctx is done. It returns nil on cancellation.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Warn("fetch message failed", zap.Error(err), zap.Duration("backoff", c.backoff))
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) {
	record, err := DecodeMessage(msg)
	if err != nil {
		metrics.IngestDecodeErrors.Inc()
		c.logger.Warn("skipping undecodable message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	if _, err := c.pipeline.Process(ctx, SourceKafka, record); err != nil {
		c.logger.Warn("process message failed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("record_id", record.ID),
			zap.Error(err))
	}
}

// Close closes the underlying reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// DecodeMessage decodes a JSON log record. The team_id header is used when
// the body carries no team.
func DecodeMessage(msg kafka.Message) (*models.LogRecord, error) {
	var record models.LogRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if record.TeamID == "" {
		for _, h := range msg.Headers {
			if h.Key == teamHeader {
				record.TeamID = string(h.Value)
				break
			}
		}
	}
	if record.Timestamp.IsZero() && !msg.Time.IsZero() {
		record.Timestamp = msg.Time
	}
	return &record, nil
}
