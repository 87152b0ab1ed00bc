package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/camtap/camtap/pkg/core"
	"github.com/stretchr/testify/require"
)

type step struct {
	img image.Image
	err error
}

// fakeSource replays steps pushed by the test and blocks when there are none.
type fakeSource struct {
	steps  chan step
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{steps: make(chan step, 16), closed: make(chan struct{})}
}

func (s *fakeSource) Read(ctx context.Context) (image.Image, error) {
	select {
	case st, ok := <-s.steps:
		if !ok {
			return nil, io.EOF
		}
		return st.img, st.err
	case <-s.closed:
		return nil, errors.New("source closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSource) frame() {
	s.steps <- step{img: image.NewGray(image.Rect(0, 0, 4, 3))}
}

func (s *fakeSource) corrupt() {
	s.steps <- step{err: fmt.Errorf("%w: bad huffman", ErrCorrupt)}
}

func (s *fakeSource) stall() {
	s.steps <- step{err: fmt.Errorf("%w: i/o timeout", ErrTransient)}
}

func decoderFor(src Source) Decoder {
	return DecoderFunc(func(ctx context.Context, uri string) (Source, error) {
		return src, nil
	})
}

const testURI = "rtsp://cam:pw@192.0.2.10:554/ch0"

func TestPipeline(t *testing.T) {
	src := newFakeSource()
	src.frame()
	src.frame()
	src.frame()

	p := New(decoderFor(src), Config{Queue: 8})
	require.Equal(t, StateIdle, p.State())

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	var last uint64
	for i := 0; i < 3; i++ {
		frame, err := p.NextFrame(ctx)
		require.NoError(t, err)
		require.Greater(t, frame.Seq, last)
		require.Equal(t, 4, frame.Image.Bounds().Dx())
		require.False(t, frame.Time.IsZero())
		last = frame.Seq
	}
	require.Equal(t, uint64(3), last)
	require.Equal(t, StateStreaming, p.State())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Equal(t, StateClosed, p.State())
	require.True(t, src.isClosed())

	_, err := p.NextFrame(ctx)
	require.ErrorIs(t, err, core.ErrCancelled)

	select {
	case <-p.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestPipelineDegraded(t *testing.T) {
	src := newFakeSource()
	src.frame()

	p := New(decoderFor(src), Config{})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	frame, err := p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Seq)

	src.corrupt()
	require.Eventually(t, func() bool {
		return p.State() == StateDegraded
	}, time.Second, time.Millisecond)

	src.frame()
	frame, err = p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), frame.Seq)

	require.Eventually(t, func() bool {
		return p.State() == StateStreaming
	}, time.Second, time.Millisecond)

	stats := p.Stats()
	require.Equal(t, uint64(1), stats.Corrupt)
	require.Equal(t, uint64(1), stats.Dropped)
	require.Zero(t, stats.Evicted)
	require.Equal(t, uint64(2), stats.Decoded)
	require.Equal(t, uint64(3), stats.Seq)
}

func TestPipelineTransientRecovers(t *testing.T) {
	src := newFakeSource()
	src.frame()
	src.stall()
	src.stall()
	src.frame()

	p := New(decoderFor(src), Config{Retries: 2})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	frame, err := p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Seq)

	frame, err = p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), frame.Seq)

	require.Equal(t, uint64(2), p.Stats().Retries)
}

func TestPipelineRetryBudget(t *testing.T) {
	src := newFakeSource()
	src.frame()
	src.stall()
	src.corrupt()
	src.stall()

	p := New(decoderFor(src), Config{Retries: 2})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	// queued frame is still delivered
	frame, err := p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Seq)

	_, err = p.NextFrame(ctx)
	require.ErrorIs(t, err, core.ErrStreamLost)
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, StateClosed, p.State())
	require.True(t, src.isClosed())
	require.ErrorIs(t, p.Err(), core.ErrStreamLost)
}

func TestPipelineSourceEnded(t *testing.T) {
	src := newFakeSource()
	src.frame()
	close(src.steps)

	p := New(decoderFor(src), Config{})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	_, err := p.NextFrame(ctx)
	require.NoError(t, err)

	_, err = p.NextFrame(ctx)
	require.ErrorIs(t, err, core.ErrStreamLost)
	require.ErrorIs(t, err, io.EOF)
}

func TestPipelineOpenFailure(t *testing.T) {
	refused := errors.New("connection refused")
	p := New(DecoderFunc(func(ctx context.Context, uri string) (Source, error) {
		return nil, refused
	}), Config{})

	err := p.Open(context.Background(), testURI)
	require.ErrorIs(t, err, core.ErrStreamUnavailable)
	require.ErrorIs(t, err, refused)
	require.Equal(t, StateClosed, p.State())
	require.NoError(t, p.Close())

	// no first frame
	src := newFakeSource()
	close(src.steps)

	p = New(decoderFor(src), Config{})
	err = p.Open(context.Background(), testURI)
	require.ErrorIs(t, err, core.ErrStreamUnavailable)
	require.Equal(t, StateClosed, p.State())
	require.True(t, src.isClosed())
}

func TestPipelineOpenCorruptStart(t *testing.T) {
	src := newFakeSource()
	src.corrupt()
	src.frame()

	p := New(decoderFor(src), Config{})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	frame, err := p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), frame.Seq)
}

func TestPipelineOpenCancelled(t *testing.T) {
	src := newFakeSource()
	p := New(decoderFor(src), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Open(ctx, testURI)
	require.ErrorIs(t, err, core.ErrCancelled)
	require.Equal(t, StateClosed, p.State())
}

func TestPipelineInvalid(t *testing.T) {
	ctx := context.Background()

	err := New(nil, Config{}).Open(ctx, testURI)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	src := newFakeSource()
	p := New(decoderFor(src), Config{})
	require.ErrorIs(t, p.Open(ctx, ""), core.ErrInvalidArgument)

	_, err = p.NextFrame(ctx)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	src.frame()
	require.NoError(t, p.Open(ctx, testURI))
	require.ErrorIs(t, p.Open(ctx, testURI), core.ErrInvalidArgument)
	require.NoError(t, p.Close())
}

func TestPipelineCancel(t *testing.T) {
	src := newFakeSource()
	src.frame()

	p := New(decoderFor(src), Config{Grace: 100 * time.Millisecond})
	require.NoError(t, p.Open(context.Background(), testURI))

	_, err := p.NextFrame(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = p.NextFrame(ctx)
	require.ErrorIs(t, err, core.ErrCancelled)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StateClosed, p.State())
	require.True(t, src.isClosed())
	require.NoError(t, p.Close())
}

func TestPipelineOverflow(t *testing.T) {
	src := newFakeSource()
	src.frame()
	src.frame()
	src.frame()

	p := New(decoderFor(src), Config{Queue: 2})
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Open(ctx, testURI))

	require.Eventually(t, func() bool {
		return p.Stats().Decoded == 3
	}, time.Second, time.Millisecond)

	frame, err := p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), frame.Seq)

	frame, err = p.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), frame.Seq)

	stats := p.Stats()
	require.Equal(t, uint64(1), stats.Dropped)
	require.Equal(t, uint64(1), stats.Evicted)
	require.Zero(t, stats.Corrupt)
}

func TestDrain(t *testing.T) {
	src := newFakeSource()
	src.frame()
	src.frame()
	close(src.steps)

	p := New(decoderFor(src), Config{})
	defer p.Close()
	require.NoError(t, p.Open(context.Background(), testURI))

	latest := NewLatest()
	_, ok := latest.Get()
	require.False(t, ok)

	var seqs []uint64
	count := SinkFunc(func(ctx context.Context, frame Frame) error {
		seqs = append(seqs, frame.Seq)
		return nil
	})

	err := Drain(context.Background(), p, latest, count)
	require.ErrorIs(t, err, core.ErrStreamLost)
	require.Equal(t, []uint64{1, 2}, seqs)

	frame, ok := latest.Get()
	require.True(t, ok)
	require.Equal(t, uint64(2), frame.Seq)
}

func TestDrainSinkError(t *testing.T) {
	src := newFakeSource()
	src.frame()

	p := New(decoderFor(src), Config{})
	defer p.Close()
	require.NoError(t, p.Open(context.Background(), testURI))

	full := errors.New("disk full")
	err := Drain(context.Background(), p, SinkFunc(func(ctx context.Context, frame Frame) error {
		return full
	}))
	require.ErrorIs(t, err, full)
}

func TestLatestWait(t *testing.T) {
	latest := NewLatest()
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = latest.WriteFrame(ctx, Frame{Seq: 5})
	}()

	frame, n, err := latest.Wait(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), frame.Seq)
	require.Equal(t, uint64(1), n)

	// restarted pipeline starts from seq 1 again
	_ = latest.WriteFrame(ctx, Frame{Seq: 1})
	frame, n, err = latest.Wait(ctx, n)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Seq)
	require.Equal(t, uint64(2), n)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _, err = latest.Wait(ctx, n)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestState(t *testing.T) {
	require.Equal(t, "degraded", StateDegraded.String())
	b, err := StateStreaming.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "streaming", string(b))
}
