package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Sink consumes delivered frames. A slow sink slows the consumer, never the
// reader: the queue drops the oldest frames instead.
type Sink interface {
	WriteFrame(ctx context.Context, frame Frame) error
}

type SinkFunc func(ctx context.Context, frame Frame) error

func (f SinkFunc) WriteFrame(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

type FrameReader interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// Drain moves frames from r to every sink until r or a sink fails.
func Drain(ctx context.Context, r FrameReader, sinks ...Sink) error {
	for {
		frame, err := r.NextFrame(ctx)
		if err != nil {
			return err
		}
		for _, sink := range sinks {
			if err = sink.WriteFrame(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// Latest keeps the most recent frame for any number of readers.
type Latest struct {
	mu     sync.Mutex
	frame  Frame
	n      uint64 // writes so far
	notify chan struct{}
}

func NewLatest() *Latest {
	return &Latest{notify: make(chan struct{})}
}

func (l *Latest) WriteFrame(_ context.Context, frame Frame) error {
	l.mu.Lock()
	l.frame = frame
	l.n++
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
	return nil
}

func (l *Latest) Get() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.n > 0
}

// Wait returns the frame stored after write number n together with its own
// write number. Pass 0 to get the current frame or the first one to come.
// Write numbers keep growing across pipeline restarts, sequence numbers don't.
func (l *Latest) Wait(ctx context.Context, n uint64) (Frame, uint64, error) {
	for {
		l.mu.Lock()
		frame, cur, notify := l.frame, l.n, l.notify
		l.mu.Unlock()

		if cur > n {
			return frame, cur, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return Frame{}, n, ctx.Err()
		}
	}
}

// LogSink writes one trace line per frame.
func LogSink(log zerolog.Logger) Sink {
	return SinkFunc(func(_ context.Context, frame Frame) error {
		b := frame.Image.Bounds()
		log.Trace().Uint64("seq", frame.Seq).Int("width", b.Dx()).Int("height", b.Dy()).
			Msg("[pipeline] frame")
		return nil
	})
}
