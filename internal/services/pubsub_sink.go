package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/codec"
	"github.com/znsio/pubsub-relay-go/internal/logger"
	"github.com/znsio/pubsub-relay-go/internal/models"
)

var ErrPublishFailed = errors.New("publish failed")

// messageOverhead approximates the JSON framing around one message.
const messageOverhead = 32

// EventPopper is what a sink drains events from.
type EventPopper interface {
	Pop(ctx context.Context) (models.Event, error)
}

type SinkStats struct {
	Published uint64 `json:"published"`
	Batches   uint64 `json:"batches"`
	Failed    uint64 `json:"failed"`
}

type PubsubSinkConfig struct {
	Topic        string
	Encoding     codec.Encoding
	MaxEvents    int
	MaxBytes     int
	BatchTimeout time.Duration
	MaxRetries   uint64
}

// PubsubSink publishes events to a topic in bounded batches.
type PubsubSink struct {
	client *PubsubClient
	cfg    PubsubSinkConfig
	log    *logrus.Entry

	published atomic.Uint64
	batches   atomic.Uint64
	failed    atomic.Uint64
}

func NewPubsubSink(client *PubsubClient, cfg PubsubSinkConfig) *PubsubSink {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10_000_000
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.Encoding == "" {
		cfg.Encoding = codec.JSON
	}
	return &PubsubSink{
		client: client,
		cfg:    cfg,
		log:    logger.WithFields(logrus.Fields{"component": "pubsub_sink", "topic": cfg.Topic}),
	}
}

// Publish encodes events and sends them in as many batches as the limits
// require. It returns the number of messages accepted by the server.
func (s *PubsubSink) Publish(ctx context.Context, events []models.Event) (int, error) {
	batches, err := s.batch(events)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, batch := range batches {
		ids, err := s.publishBatch(ctx, batch)
		if err != nil {
			return sent, err
		}
		sent += len(ids)
	}
	return sent, nil
}

func (s *PubsubSink) batch(events []models.Event) ([][]models.PubsubMessage, error) {
	var (
		batches [][]models.PubsubMessage
		current []models.PubsubMessage
		size    int
	)
	for _, ev := range events {
		msg, err := s.cfg.Encoding.ToMessage(ev)
		if err != nil {
			return nil, err
		}
		msgSize := messageSize(msg)
		if len(current) > 0 && (len(current) >= s.cfg.MaxEvents || size+msgSize > s.cfg.MaxBytes) {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, msg)
		size += msgSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

func messageSize(msg models.PubsubMessage) int {
	n := len(msg.Data) + messageOverhead
	for k, v := range msg.Attributes {
		n += len(k) + len(v) + 6
	}
	return n
}

func (s *PubsubSink) publishBatch(ctx context.Context, batch []models.PubsubMessage) ([]string, error) {
	var out models.PublishResponse
	resp, err := s.client.http.R().
		SetContext(ctx).
		SetBody(models.PublishRequest{Messages: batch}).
		SetResult(&out).
		Post(s.client.topicPath(s.cfg.Topic) + ":publish")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s: %s", ErrPublishFailed, resp.Status(), resp.String())
	}

	s.batches.Add(1)
	s.published.Add(uint64(len(out.MessageIDs)))
	s.log.WithField("messages", len(out.MessageIDs)).Debug("published batch")
	return out.MessageIDs, nil
}

// Run drains in until it is closed or ctx is cancelled, flushing when a
// batch is full or BatchTimeout has passed since its first event.
func (s *PubsubSink) Run(ctx context.Context, in EventPopper) error {
	var (
		pending  []models.Event
		deadline time.Time
	)

	for {
		popCtx, cancel := ctx, context.CancelFunc(func() {})
		if len(pending) > 0 {
			popCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		ev, err := in.Pop(popCtx)
		cancel()

		switch {
		case err == nil:
			if len(pending) == 0 {
				deadline = time.Now().Add(s.cfg.BatchTimeout)
			}
			pending = append(pending, ev)
			if len(pending) >= s.cfg.MaxEvents {
				s.flush(ctx, pending)
				pending = nil
			}
		case ctx.Err() != nil:
			s.finalFlush(pending)
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			s.flush(ctx, pending)
			pending = nil
		case errors.Is(err, buffer.ErrClosed):
			s.flush(ctx, pending)
			return nil
		default:
			return fmt.Errorf("error reading events: %w", err)
		}
	}
}

func (s *PubsubSink) finalFlush(pending []models.Event) {
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, pending)
}

// flush publishes events batch by batch. A failed batch is retried with
// backoff on its own, then dropped.
func (s *PubsubSink) flush(ctx context.Context, events []models.Event) {
	if len(events) == 0 {
		return
	}
	batches, err := s.batch(events)
	if err != nil {
		s.failed.Add(uint64(len(events)))
		s.log.WithError(err).WithField("events", len(events)).Error("dropping events that could not be encoded")
		return
	}

	maxRetries := s.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	for _, batch := range batches {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
		err := backoff.Retry(func() error {
			_, err := s.publishBatch(ctx, batch)
			if err != nil {
				s.log.WithError(err).Warn("publish attempt failed")
			}
			return err
		}, policy)
		if err != nil {
			s.failed.Add(uint64(len(batch)))
			s.log.WithError(err).WithField("events", len(batch)).Error("dropping batch after failed publish")
		}
	}
}

func (s *PubsubSink) Stats() SinkStats {
	return SinkStats{
		Published: s.published.Load(),
		Batches:   s.batches.Load(),
		Failed:    s.failed.Load(),
	}
}
