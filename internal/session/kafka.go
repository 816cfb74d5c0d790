package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	models "kadmin/internal/model"
)

// KafkaFactory creates sessions backed by a confluent-kafka-go consumer
type KafkaFactory struct {
	// PollTimeout bounds each ReadMessage call so Shutdown is observed promptly
	PollTimeout time.Duration
	// Extra is merged into the consumer configuration (security settings etc.)
	Extra kafka.ConfigMap
}

// NewKafkaFactory creates a KafkaFactory with a 250ms poll timeout
func NewKafkaFactory(extra kafka.ConfigMap) *KafkaFactory {
	return &KafkaFactory{
		PollTimeout: 250 * time.Millisecond,
		Extra:       extra,
	}
}

// Create subscribes a new consumer group to cfg.Topic starting at the latest offset
func (f *KafkaFactory) Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groupID := NewGroupID()
	conf := kafka.ConfigMap{
		"bootstrap.servers":  kafkaBootstrap(cfg.BrokerURL),
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
		"client.id":          groupID,
	}
	for k, v := range f.Extra {
		conf[k] = v
	}

	consumer, err := kafka.NewConsumer(&conf)
	if err != nil {
		return nil, fmt.Errorf("kafka: new consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("kafka: subscribe %s: %w", cfg.Topic, err)
	}

	s := newLoopSession(groupID, cfg, consumer.Close)
	pollTimeout := f.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 250 * time.Millisecond
	}

	s.start(func(ctx context.Context) {
		for ctx.Err() == nil {
			msg, err := consumer.ReadMessage(pollTimeout)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				s.logger.Warn().Err(err).Msg("Kafka read failed")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}
			deliver(recordFromKafka(msg))
		}
	})

	return s, nil
}

// kafkaBootstrap strips the optional kafka:// prefix from every listed broker
func kafkaBootstrap(brokerURL string) string {
	parts := strings.Split(brokerURL, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "kafka://")
		parts[i] = p
	}
	return strings.Join(parts, ",")
}

func recordFromKafka(msg *kafka.Message) models.Record {
	rec := models.Record{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
	}
	if msg.TopicPartition.Topic != nil {
		rec.Topic = *msg.TopicPartition.Topic
	}
	if len(msg.Headers) > 0 {
		rec.Headers = make(map[string][]byte, len(msg.Headers))
		for _, h := range msg.Headers {
			rec.Headers[h.Key] = h.Value
		}
	}
	return rec
}
