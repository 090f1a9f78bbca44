package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/logger"
	"github.com/znsio/pubsub-relay-go/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic as JSON.
type KafkaSink struct {
	w       messageWriter
	log     *logrus.Entry
	written atomic.Uint64
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(w, topic)
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{
		w:   w,
		log: logger.WithFields(logrus.Fields{"component": "kafka_sink", "topic": topic}),
	}
}

func (k *KafkaSink) Write(ctx context.Context, ev models.Event) error {
	value, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}

	key, _ := ev.GetString(models.FieldMessageID)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("error writing message to Kafka: %w", err)
	}
	k.written.Add(1)
	return nil
}

// Run drains in into Kafka until in is closed or ctx is cancelled.
func (k *KafkaSink) Run(ctx context.Context, in EventPopper) error {
	defer k.w.Close()
	for {
		ev, err := in.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, buffer.ErrClosed) {
				return nil
			}
			return fmt.Errorf("error reading events: %w", err)
		}
		if err := k.Write(ctx, ev); err != nil {
			k.log.WithError(err).Error("dropping event")
		}
	}
}

func (k *KafkaSink) Written() uint64 {
	return k.written.Load()
}

// KafkaSource consumes a topic as part of a consumer group. Offsets are
// committed once the event has been handed downstream.
type KafkaSource struct {
	r    messageReader
	log  *logrus.Entry
	read atomic.Uint64
}

func NewKafkaSource(brokers []string, topic, group string) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newKafkaSource(r, topic)
}

func newKafkaSource(r messageReader, topic string) *KafkaSource {
	return &KafkaSource{
		r:   r,
		log: logger.WithFields(logrus.Fields{"component": "kafka_source", "topic": topic}),
	}
}

func (k *KafkaSource) Run(ctx context.Context, out EventPusher) error {
	defer k.r.Close()
	for {
		msg, err := k.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("error fetching from Kafka: %w", err)
		}

		ev := eventFromKafka(msg)
		if err := out.Push(ctx, ev); err != nil {
			// Not committed, so the message is redelivered after restart.
			return nil
		}
		if err := k.r.CommitMessages(ctx, msg); err != nil {
			k.log.WithError(err).Warn("commit failed")
		}
		k.read.Add(1)
	}
}

func (k *KafkaSource) Read() uint64 {
	return k.read.Load()
}

func eventFromKafka(msg kafka.Message) models.Event {
	ev := models.NewEvent(string(msg.Value))
	ev.Set(models.FieldSourceType, "kafka")
	ev.Set("topic", msg.Topic)
	ev.Set("partition", msg.Partition)
	ev.Set("offset", strconv.FormatInt(msg.Offset, 10))
	if len(msg.Key) > 0 {
		ev.Set("message_key", string(msg.Key))
	}
	if len(msg.Headers) > 0 {
		attrs := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			attrs[h.Key] = string(h.Value)
		}
		ev.Set(models.FieldAttributes, attrs)
	}
	if !msg.Time.IsZero() {
		ev.Set(models.FieldTimestamp, msg.Time.UTC())
	}
	return ev
}
