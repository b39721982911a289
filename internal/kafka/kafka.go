// Package kafka carries mentions into the resolver and resolution
// outcomes out of it. The consumer only marks a message after the
// mention resolved successfully, so failed mentions are redelivered;
// redelivery is safe because resolution is idempotent per occurrence.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/fieldledger/fieldledger/internal/resolver"
	"github.com/google/uuid"
)

// MentionEvent is the wire form of a candidate mention on the
// mentions topic.
type MentionEvent struct {
	Kind           string            `json:"kind"`
	FullName       string            `json:"full_name"`
	GoByName       string            `json:"go_by_name,omitempty"`
	ReportID       string            `json:"report_id"`
	OccurrenceID   string            `json:"occurrence_id"`
	OccurrenceDate time.Time         `json:"occurrence_date"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Quantity       float64           `json:"quantity,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

// ResolvedEvent is published after each successful resolution.
type ResolvedEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EntityID      string    `json:"entity_id"`
	Kind          string    `json:"kind"`
	CanonicalName string    `json:"canonical_name"`
	Path          string    `json:"path"`
	MatchScore    float64   `json:"match_score,omitempty"`
	IsNew         bool      `json:"is_new"`
	ReportID      string    `json:"report_id"`
	OccurrenceID  string    `json:"occurrence_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Producer wraps a Kafka sync producer for resolution events.
type Producer struct {
	producer sarama.SyncProducer
	config   config.KafkaConfig
	logger   *slog.Logger
}

// NewProducer creates a new Kafka producer.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishResolved publishes one resolution outcome. Keyed by entity ID
// so outcomes for the same entity stay ordered within a partition.
func (p *Producer) PublishResolved(ctx context.Context, m *entity.Mention, res *entity.Resolution) error {
	event := &ResolvedEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType(res),
		EntityID:      res.EntityID.String(),
		Kind:          string(m.Kind),
		CanonicalName: res.CanonicalName,
		Path:          string(res.Path),
		MatchScore:    res.MatchScore,
		IsNew:         res.IsNew,
		ReportID:      m.ReportID,
		OccurrenceID:  m.OccurrenceID,
		Timestamp:     time.Now().UTC(),
	}

	return p.publishEvent(p.config.ResolvedTopic, event.EntityID, event)
}

func eventType(res *entity.Resolution) string {
	if res.IsNew {
		return "entity.created"
	}
	return "entity.updated"
}

func (p *Producer) publishEvent(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("content-type"),
				Value: []byte("application/json"),
			},
			{
				Key:   []byte("event-time"),
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.logger.Error("failed to publish event",
			"topic", topic,
			"key", key,
			"error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

// Consumer reads mention events and feeds them into the resolver.
type Consumer struct {
	consumer sarama.ConsumerGroup
	resolver *resolver.Resolver
	config   config.KafkaConfig
	logger   *slog.Logger
}

// NewConsumer creates a new Kafka consumer group.
func NewConsumer(cfg config.KafkaConfig, res *resolver.Resolver, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	saramaConfig.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: consumer,
		resolver: res,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Close closes the Kafka consumer.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// Start consumes the mentions topic until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	topics := []string{c.config.MentionsTopic}

	handler := &consumerGroupHandler{
		consumer: c,
		logger:   c.logger,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return ctx.Err()
		default:
			if err := c.consumer.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("Kafka consumer error", "error", err)
				return err
			}
		}
	}
}

type consumerGroupHandler struct {
	consumer *Consumer
	logger   *slog.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			err := h.processMessage(session.Context(), message)
			switch {
			case err == nil:
				session.MarkMessage(message, "")
			case errors.Is(err, entity.ErrInvalidMention):
				// A malformed mention never becomes valid; log and skip
				// it rather than blocking the partition.
				h.logger.Error("dropping invalid mention",
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
				session.MarkMessage(message, "")
			default:
				h.logger.Error("failed to process mention, leaving for redelivery",
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event MentionEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal mention event: %v: %w", err, entity.ErrInvalidMention)
	}

	mention := &entity.Mention{
		Kind:           entity.Kind(event.Kind),
		FullName:       event.FullName,
		GoByName:       event.GoByName,
		ReportID:       event.ReportID,
		OccurrenceID:   event.OccurrenceID,
		OccurrenceDate: event.OccurrenceDate,
		Attributes:     event.Attributes,
		Quantity:       event.Quantity,
		Notes:          event.Notes,
	}

	res, err := h.consumer.resolver.Resolve(ctx, mention)
	if err != nil {
		return fmt.Errorf("failed to resolve mention: %w", err)
	}

	h.logger.Info("mention resolved from Kafka",
		"occurrence_id", mention.OccurrenceID,
		"entity_id", res.EntityID,
		"path", res.Path)

	return nil
}
