// Package notifier publishes purchase events for the downstream notification
// service. Delivery is fire-and-forget: the checkout flow never waits on, nor
// fails because of, a notification.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
)

type Notifier struct {
	producer sarama.AsyncProducer
	log      *slog.Logger
	topic    string
}

func NewNotifier(cfg config.Kafka, log *slog.Logger) (*Notifier, error) {
	if len(cfg.Brokers) == 0 {
		err := errors.New("kafka brokers list is empty")
		log.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}
	if cfg.Topic == "" {
		err := errors.New("kafka topic is empty")
		log.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		log.Error("error parsing kafka version", slog.Any("error", err))
		return nil, err
	}

	kafkaConfig := createSaramaConfig(version)
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Error("failed to create kafka producer", slog.Any("error", err))
		return nil, err
	}

	n := &Notifier{
		producer: producer,
		log:      log,
		topic:    cfg.Topic,
	}

	// drain async errors so the producer never stalls
	go func() {
		for perr := range producer.Errors() {
			n.log.Warn("purchase event delivery failed",
				slog.String("topic", perr.Msg.Topic),
				slog.Any("error", perr.Err),
			)
		}
	}()

	return n, nil
}

func (n *Notifier) Publish(ctx context.Context, event domain.PurchaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(event.BuyerID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("Event-Type"), Value: []byte(event.Type)},
		},
	}

	select {
	case n.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		n.log.Warn("context cancelled before publishing purchase event",
			slog.Any("error", ctx.Err()),
			slog.String("event_type", event.Type),
		)
		return ctx.Err()
	}
}

func (n *Notifier) Close() error {
	n.log.Info("closing kafka producer")
	err := n.producer.Close()
	if err != nil {
		n.log.Error("failed to close kafka producer", slog.Any("error", err))
	}
	return err
}

func createSaramaConfig(ver sarama.KafkaVersion) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = ver
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	return config
}
