package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(2)
	require.False(t, q.Push(Frame{Seq: 1}))
	require.False(t, q.Push(Frame{Seq: 2}))
	require.True(t, q.Push(Frame{Seq: 3}))

	require.Equal(t, 2, q.Len())
	require.Equal(t, uint64(1), q.Dropped())

	ctx := context.Background()

	frame, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), frame.Seq)

	frame, err = q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), frame.Seq)

	require.Zero(t, q.Len())
}

func TestQueueDefault(t *testing.T) {
	require.Equal(t, DefaultQueue, NewQueue(0).Cap())
	require.Equal(t, DefaultQueue, NewQueue(-5).Cap())
	require.Equal(t, 1, NewQueue(1).Cap())
}

func TestQueueWrap(t *testing.T) {
	q := NewQueue(3)
	ctx := context.Background()

	var expect uint64 = 1
	for i := uint64(1); i <= 20; i++ {
		q.Push(Frame{Seq: i})
		if i%2 == 0 {
			frame, err := q.Pop(ctx)
			require.NoError(t, err)
			require.Greater(t, frame.Seq, expect-1)
			expect = frame.Seq + 1
		}
	}
	require.LessOrEqual(t, q.Len(), q.Cap())
}

func TestQueueBlockingPop(t *testing.T) {
	q := NewQueue(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Frame{Seq: 7})
	}()

	frame, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), frame.Seq)
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(2)
	q.Push(Frame{Seq: 1})
	q.Close()
	q.Close()

	require.False(t, q.Push(Frame{Seq: 2}))

	frame, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Seq)

	_, err = q.Pop(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseWakesPop(t *testing.T) {
	q := NewQueue(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Close()
	}()

	_, err := q.Pop(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}
