package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig enables cross-instance broadcast. Every instance consumes the topic with its own
// consumer group so each sees every message once.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupPrefix  string
	WriteTimeout time.Duration
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaGroup keeps membership in a local Hub and routes Publish through a kafka topic. Local
// members receive their own instance's messages from the consumer like everyone else, so nothing
// is delivered twice.
type KafkaGroup struct {
	log     *slog.Logger
	hub     *Hub
	writer  kafkaWriter
	reader  kafkaReader
	timeout time.Duration
}

var _ Group = (*KafkaGroup)(nil)

func NewKafkaGroup(cfg KafkaConfig, hub *Hub, log *slog.Logger) (*KafkaGroup, error) {
	if !cfg.Enabled() {
		return nil, errors.New("realtime: kafka brokers not configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "motion.broadcast"
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "motionhub-realtime"
	}
	groupID := cfg.GroupPrefix + "-" + uuid.NewString()

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MaxWait:     250 * time.Millisecond,
	})
	if log == nil {
		log = slog.Default()
	}
	log.Info("group.kafka.init", "topic", cfg.Topic, "consumer_group", groupID, "brokers", strings.Join(cfg.Brokers, ","))
	return newKafkaGroup(hub, w, r, cfg.WriteTimeout, log), nil
}

func newKafkaGroup(hub *Hub, w kafkaWriter, r kafkaReader, timeout time.Duration, log *slog.Logger) *KafkaGroup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaGroup{log: log, hub: hub, writer: w, reader: r, timeout: timeout}
}

func (k *KafkaGroup) Join(ctx context.Context, group string, s Subscriber) error {
	return k.hub.Join(ctx, group, s)
}

func (k *KafkaGroup) Leave(ctx context.Context, group, subscriberID string) error {
	return k.hub.Leave(ctx, group, subscriberID)
}

// Publish writes msg to the topic keyed by group.
func (k *KafkaGroup) Publish(ctx context.Context, group string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(group), Value: msg}); err != nil {
		return fmt.Errorf("realtime: kafka publish: %w", err)
	}
	return nil
}

// Run consumes the topic and fans messages out to local members until ctx is done.
func (k *KafkaGroup) Run(ctx context.Context) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			k.log.Error("group.kafka.read.fail", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(m.Key) == 0 {
			continue
		}
		k.hub.Broadcast(string(m.Key), m.Value)
	}
}

func (k *KafkaGroup) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}
