package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/znsio/pubsub-relay-go/internal/models"
)

const DefaultMaxEvents = 500

var (
	ErrClosed           = errors.New("buffer closed")
	ErrInvalidMaxEvents = errors.New("max_events must be greater than zero")
)

// WhenFull selects what Push does when the buffer is at capacity.
type WhenFull string

const (
	Block      WhenFull = "block"
	DropNewest WhenFull = "drop_newest"
)

func ParseWhenFull(s string) (WhenFull, error) {
	switch WhenFull(s) {
	case "", Block:
		return Block, nil
	case DropNewest:
		return DropNewest, nil
	}
	return "", fmt.Errorf("unknown when_full %q, expected block or drop_newest", s)
}

type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Popped  uint64 `json:"popped"`
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
}

// Memory is a bounded in-memory event buffer.
type Memory struct {
	events   chan models.Event
	whenFull WhenFull
	closed   chan struct{}
	once     sync.Once

	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

func New(maxEvents int, whenFull WhenFull) (*Memory, error) {
	if maxEvents <= 0 {
		return nil, ErrInvalidMaxEvents
	}
	if whenFull == "" {
		whenFull = Block
	}
	return &Memory{
		events:   make(chan models.Event, maxEvents),
		whenFull: whenFull,
		closed:   make(chan struct{}),
	}, nil
}

// Push adds an event. In drop_newest mode a full buffer discards ev and
// returns nil; in block mode Push waits for room, Close or ctx.
func (m *Memory) Push(ctx context.Context, ev models.Event) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	if m.whenFull == DropNewest {
		select {
		case m.events <- ev:
			m.pushed.Add(1)
		default:
			m.dropped.Add(1)
		}
		return nil
	}

	select {
	case m.events <- ev:
		m.pushed.Add(1)
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next event. Once closed, remaining events are still
// returned before ErrClosed.
func (m *Memory) Pop(ctx context.Context) (models.Event, error) {
	select {
	case ev := <-m.events:
		m.popped.Add(1)
		return ev, nil
	default:
	}

	select {
	case ev := <-m.events:
		m.popped.Add(1)
		return ev, nil
	case <-m.closed:
		select {
		case ev := <-m.events:
			m.popped.Add(1)
			return ev, nil
		default:
			return models.Event{}, ErrClosed
		}
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

// TryPop returns the next event without waiting.
func (m *Memory) TryPop() (models.Event, bool) {
	select {
	case ev := <-m.events:
		m.popped.Add(1)
		return ev, true
	default:
		return models.Event{}, false
	}
}

func (m *Memory) Close() {
	m.once.Do(func() { close(m.closed) })
}

func (m *Memory) Closed() <-chan struct{} {
	return m.closed
}

func (m *Memory) Len() int {
	return len(m.events)
}

func (m *Memory) Stats() Stats {
	return Stats{
		Pushed:  m.pushed.Load(),
		Dropped: m.dropped.Load(),
		Popped:  m.popped.Load(),
		Len:     len(m.events),
		Cap:     cap(m.events),
	}
}
