package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	models "kadmin/internal/model"
)

// PulsarFactory creates sessions backed by an exclusive pulsar subscription
type PulsarFactory struct {
	OperationTimeout  time.Duration
	ConnectionTimeout time.Duration
}

// NewPulsarFactory creates a PulsarFactory with 30s operation and 5s connection timeouts
func NewPulsarFactory() *PulsarFactory {
	return &PulsarFactory{
		OperationTimeout:  30 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// Create opens a client for cfg.BrokerURL and subscribes from the latest message
func (f *PulsarFactory) Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               cfg.BrokerURL,
		OperationTimeout:  f.OperationTimeout,
		ConnectionTimeout: f.ConnectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pulsar: new client: %w", err)
	}

	groupID := NewGroupID()
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       cfg.Topic,
		SubscriptionName:            groupID,
		Name:                        groupID,
		Type:                        pulsar.Exclusive,
		SubscriptionInitialPosition: pulsar.SubscriptionPositionLatest,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulsar: subscribe %s: %w", cfg.Topic, err)
	}

	s := newLoopSession(groupID, cfg, func() error {
		if err := consumer.Unsubscribe(); err != nil {
			consumer.Close()
			client.Close()
			return fmt.Errorf("pulsar: unsubscribe: %w", err)
		}
		consumer.Close()
		client.Close()
		return nil
	})

	s.start(func(ctx context.Context) {
		for {
			msg, err := consumer.Receive(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				s.logger.Warn().Err(err).Msg("Pulsar receive failed")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}
			deliver(recordFromPulsar(msg))
			if err := consumer.Ack(msg); err != nil {
				s.logger.Debug().Err(err).Msg("Pulsar ack failed")
			}
		}
	})

	return s, nil
}

func recordFromPulsar(msg pulsar.Message) models.Record {
	rec := models.Record{
		Key:       msg.Key(),
		Value:     msg.Payload(),
		Topic:     msg.Topic(),
		Partition: msg.ID().PartitionIdx(),
		Offset:    msg.ID().EntryID(),
	}
	if props := msg.Properties(); len(props) > 0 {
		rec.Headers = make(map[string][]byte, len(props))
		for k, v := range props {
			rec.Headers[k] = []byte(v)
		}
	}
	return rec
}
