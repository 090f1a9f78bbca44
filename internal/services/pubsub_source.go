package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/znsio/pubsub-relay-go/internal/codec"
	"github.com/znsio/pubsub-relay-go/internal/logger"
	"github.com/znsio/pubsub-relay-go/internal/models"
)

// EventPusher is what a source delivers events to.
type EventPusher interface {
	Push(ctx context.Context, ev models.Event) error
}

type SourceStats struct {
	Received     uint64 `json:"received"`
	Acked        uint64 `json:"acked"`
	Nacked       uint64 `json:"nacked"`
	DecodeErrors uint64 `json:"decode_errors"`
	PullErrors   uint64 `json:"pull_errors"`
}

type PubsubSourceConfig struct {
	Subscription string
	MaxMessages  int
	AckDeadline  time.Duration
	RetryDelay   time.Duration
	// IdleDelay is how long to wait after an empty pull.
	IdleDelay time.Duration
}

// PubsubSource pulls messages from a subscription and acknowledges them
// once they have been handed downstream.
type PubsubSource struct {
	client *PubsubClient
	cfg    PubsubSourceConfig
	log    *logrus.Entry

	received     atomic.Uint64
	acked        atomic.Uint64
	nacked       atomic.Uint64
	decodeErrors atomic.Uint64
	pullErrors   atomic.Uint64
}

func NewPubsubSource(client *PubsubClient, cfg PubsubSourceConfig) *PubsubSource {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 500 * time.Millisecond
	}
	return &PubsubSource{
		client: client,
		cfg:    cfg,
		log:    logger.WithFields(logrus.Fields{"component": "pubsub_source", "subscription": cfg.Subscription}),
	}
}

// Pull fetches up to max messages and decodes them. Messages that cannot be
// decoded are acknowledged so they are not redelivered forever.
func (s *PubsubSource) Pull(ctx context.Context, max int) ([]models.Event, error) {
	if max <= 0 {
		max = s.cfg.MaxMessages
	}
	resp, err := s.client.post(ctx, s.client.subscriptionPath(s.cfg.Subscription)+":pull", models.PullRequest{MaxMessages: max})
	if err != nil {
		return nil, err
	}

	received := parseReceivedMessages(resp.Body())
	s.received.Add(uint64(len(received)))

	events := make([]models.Event, 0, len(received))
	var poison []string
	for _, rm := range received {
		ev, err := codec.FromMessage(rm)
		if err != nil {
			s.decodeErrors.Add(1)
			s.log.WithError(err).Warn("discarding undecodable message")
			poison = append(poison, rm.AckID)
			continue
		}
		events = append(events, ev)
	}
	if len(poison) > 0 {
		if err := s.Acknowledge(ctx, poison); err != nil {
			s.log.WithError(err).Warn("failed to acknowledge undecodable messages")
		}
	}
	return events, nil
}

func parseReceivedMessages(body []byte) []models.ReceivedMessage {
	items := gjson.GetBytes(body, "receivedMessages").Array()
	out := make([]models.ReceivedMessage, 0, len(items))
	for _, item := range items {
		rm := models.ReceivedMessage{
			AckID: item.Get("ackId").String(),
			Message: models.PubsubMessage{
				Data:        item.Get("message.data").String(),
				MessageID:   item.Get("message.messageId").String(),
				PublishTime: item.Get("message.publishTime").String(),
				OrderingKey: item.Get("message.orderingKey").String(),
			},
		}
		if attrs := item.Get("message.attributes"); attrs.IsObject() {
			rm.Message.Attributes = make(map[string]string)
			attrs.ForEach(func(key, value gjson.Result) bool {
				rm.Message.Attributes[key.String()] = value.String()
				return true
			})
		}
		out = append(out, rm)
	}
	return out
}

func (s *PubsubSource) Acknowledge(ctx context.Context, ackIDs []string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	_, err := s.client.post(ctx, s.client.subscriptionPath(s.cfg.Subscription)+":acknowledge", models.AcknowledgeRequest{AckIDs: ackIDs})
	if err != nil {
		return err
	}
	s.acked.Add(uint64(len(ackIDs)))
	return nil
}

// Nack makes the messages immediately available for redelivery.
func (s *PubsubSource) Nack(ctx context.Context, ackIDs []string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	return s.ModifyAckDeadline(ctx, ackIDs, 0)
}

func (s *PubsubSource) ModifyAckDeadline(ctx context.Context, ackIDs []string, deadline time.Duration) error {
	req := models.ModifyAckDeadlineRequest{AckIDs: ackIDs, AckDeadlineSeconds: int(deadline / time.Second)}
	_, err := s.client.post(ctx, s.client.subscriptionPath(s.cfg.Subscription)+":modifyAckDeadline", req)
	if err != nil {
		return err
	}
	if deadline == 0 {
		s.nacked.Add(uint64(len(ackIDs)))
	}
	return nil
}

// Run pulls until ctx is cancelled or out stops accepting events. Pull
// errors are retried with exponential backoff starting at RetryDelay.
func (s *PubsubSource) Run(ctx context.Context, out EventPusher) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryDelay
	policy.MaxInterval = 30 * s.cfg.RetryDelay
	policy.MaxElapsedTime = 0

	for ctx.Err() == nil {
		events, err := s.Pull(ctx, s.cfg.MaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.pullErrors.Add(1)
			wait := policy.NextBackOff()
			s.log.WithError(err).WithField("retry_in", wait.String()).Warn("pull failed")
			if !sleep(ctx, wait) {
				break
			}
			continue
		}
		policy.Reset()

		if len(events) == 0 {
			if !sleep(ctx, s.cfg.IdleDelay) {
				break
			}
			continue
		}

		s.extendLease(ctx, events)
		if stop := s.deliver(ctx, events, out); stop {
			return nil
		}
	}
	return nil
}

// extendLease applies AckDeadline to freshly pulled messages so they are
// not redelivered while waiting for buffer space.
func (s *PubsubSource) extendLease(ctx context.Context, events []models.Event) {
	if s.cfg.AckDeadline <= 0 {
		return
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.AckID)
	}
	if err := s.ModifyAckDeadline(ctx, ids, s.cfg.AckDeadline); err != nil {
		s.log.WithError(err).Debug("could not extend ack deadline")
	}
}

// deliver pushes events downstream, acks what was accepted and nacks the
// rest. It reports whether the downstream has gone away.
func (s *PubsubSource) deliver(ctx context.Context, events []models.Event, out EventPusher) bool {
	var ack, nack []string
	stopped := false
	for _, ev := range events {
		if stopped {
			nack = append(nack, ev.AckID)
			continue
		}
		if err := out.Push(ctx, ev); err != nil {
			s.log.WithError(err).Debug("downstream refused event")
			stopped = true
			nack = append(nack, ev.AckID)
			continue
		}
		ack = append(ack, ev.AckID)
	}

	// Acks must go out even when ctx is already cancelled.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Acknowledge(ackCtx, ack); err != nil {
		s.log.WithError(err).Error("acknowledge failed")
	}
	if err := s.Nack(ackCtx, nack); err != nil {
		s.log.WithError(err).Warn("nack failed")
	}
	return stopped
}

func (s *PubsubSource) Stats() SourceStats {
	return SourceStats{
		Received:     s.received.Load(),
		Acked:        s.acked.Load(),
		Nacked:       s.nacked.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		PullErrors:   s.pullErrors.Load(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
