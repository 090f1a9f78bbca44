package buffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/znsio/pubsub-relay-go/internal/models"
)

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(0, Block)
	assert.ErrorIs(t, err, ErrInvalidMaxEvents)
}

func TestParseWhenFull(t *testing.T) {
	wf, err := ParseWhenFull("")
	require.NoError(t, err)
	assert.Equal(t, Block, wf)

	wf, err = ParseWhenFull("drop_newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, wf)

	_, err = ParseWhenFull("overflow")
	assert.Error(t, err)
}

func TestDropNewestDiscardsWhenFull(t *testing.T) {
	b, err := New(2, DropNewest)
	require.NoError(t, err)
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, b.Push(ctx, models.NewEvent(msg)))
	}

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Pushed)
	assert.Equal(t, uint64(1), stats.Dropped)

	ev, err := b.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Message())
	ev, err = b.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Message())
}

func TestBlockWaitsForRoom(t *testing.T) {
	b, err := New(1, Block)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, models.NewEvent("first")))

	done := make(chan error, 1)
	go func() { done <- b.Push(ctx, models.NewEvent("second")) }()

	select {
	case <-done:
		t.Fatal("push should block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = b.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)

	ev, err := b.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", ev.Message())
}

func TestBlockHonoursContext(t *testing.T) {
	b, err := New(1, Block)
	require.NoError(t, err)
	require.NoError(t, b.Push(context.Background(), models.NewEvent("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Push(ctx, models.NewEvent("y"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	b, err := New(4, Block)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Push(ctx, models.NewEvent("left")))

	b.Close()
	b.Close()

	assert.ErrorIs(t, b.Push(ctx, models.NewEvent("late")), ErrClosed)

	ev, err := b.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "left", ev.Message())

	_, err = b.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWakesBlockedPush(t *testing.T) {
	b, err := New(1, Block)
	require.NoError(t, err)
	require.NoError(t, b.Push(context.Background(), models.NewEvent("x")))

	done := make(chan error, 1)
	go func() { done <- b.Push(context.Background(), models.NewEvent("y")) }()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	assert.ErrorIs(t, <-done, ErrClosed)
}
