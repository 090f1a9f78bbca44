package relay

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/logger"
	"github.com/znsio/pubsub-relay-go/internal/models"
	"github.com/znsio/pubsub-relay-go/internal/services"
	"github.com/znsio/pubsub-relay-go/internal/transform"
)

type Source interface {
	Run(ctx context.Context, out services.EventPusher) error
}

type Sink interface {
	Run(ctx context.Context, in services.EventPopper) error
}

type Stats struct {
	Buffer   buffer.Stats `json:"buffer"`
	Accepted uint64       `json:"accepted"`
	Filtered uint64       `json:"filtered"`
	Running  bool         `json:"running"`
}

// Relay moves events from Source through Transform into Buffer, and from
// Buffer into Sink.
type Relay struct {
	Source    Source
	Sink      Sink
	Buffer    *buffer.Memory
	Transform transform.Transform

	accepted atomic.Uint64
	filtered atomic.Uint64
	running  atomic.Bool
}

// Run blocks until the source ends and the sink has drained the buffer, or
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	log := logger.WithComponent("relay")

	g.Go(func() error {
		defer r.Buffer.Close()
		err := r.Source.Run(gctx, r)
		log.Info("source finished")
		return err
	})
	g.Go(func() error {
		err := r.Sink.Run(gctx, r.Buffer)
		log.Info("sink finished")
		return err
	})

	return g.Wait()
}

// Push applies the transform and hands the event to the buffer. Filtered
// events count as delivered.
func (r *Relay) Push(ctx context.Context, ev models.Event) error {
	if r.Transform != nil && !r.Transform.Apply(&ev) {
		r.filtered.Add(1)
		return nil
	}
	if err := r.Buffer.Push(ctx, ev); err != nil {
		return err
	}
	r.accepted.Add(1)
	return nil
}

func (r *Relay) Stats() Stats {
	return Stats{
		Buffer:   r.Buffer.Stats(),
		Accepted: r.accepted.Load(),
		Filtered: r.filtered.Load(),
		Running:  r.running.Load(),
	}
}
