package ingest

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
)

// SourceKafka labels events that arrived over Kafka.
const SourceKafka = "kafka"

// KafkaConfig configures a Kafka source.
type KafkaConfig struct {
	Brokers           []string
	GroupID           string
	RegistrationTopic string
	ReadingTopic      string
}

// messageReader is the part of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes registration and reading events from a consumer
// group. Offsets are committed after the handler has taken the message.
type KafkaSource struct {
	cfg     KafkaConfig
	handler *Handler
	reader  messageReader

	messages atomic.Int64
}

// NewKafkaSource creates a Kafka source over both topics.
func NewKafkaSource(cfg KafkaConfig, h *Handler) *KafkaSource {
	if cfg.GroupID == "" {
		cfg.GroupID = config.DefaultKafkaGroupID
	}
	if cfg.RegistrationTopic == "" {
		cfg.RegistrationTopic = config.DefaultKafkaRegistrationTopic
	}
	if cfg.ReadingTopic == "" {
		cfg.ReadingTopic = config.DefaultKafkaReadingTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.RegistrationTopic, cfg.ReadingTopic},
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     time.Second,
	})

	return newKafkaSource(cfg, h, reader)
}

func newKafkaSource(cfg KafkaConfig, h *Handler, r messageReader) *KafkaSource {
	return &KafkaSource{cfg: cfg, handler: h, reader: r}
}

// Run consumes messages until ctx ends or the reader is closed.
func (s *KafkaSource) Run(ctx context.Context) error {
	log.Info("kafka source started",
		"brokers", strings.Join(s.cfg.Brokers, ","),
		"group", s.cfg.GroupID)
	defer func() {
		if err := s.reader.Close(); err != nil {
			log.Warn("kafka reader close failed", "error", err)
		}
		log.Info("kafka source stopped", "messages", s.messages.Load())
	}()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			log.Error("kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		s.handle(msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("kafka commit failed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}

func (s *KafkaSource) handle(msg kafka.Message) {
	s.messages.Add(1)

	switch msg.Topic {
	case s.cfg.ReadingTopic:
		_ = s.handler.HandleReading(SourceKafka, msg.Value)
	case s.cfg.RegistrationTopic:
		_ = s.handler.HandleRegistration(SourceKafka, msg.Value)
	default:
		log.Debug("message on unexpected topic", "topic", msg.Topic)
	}
}
