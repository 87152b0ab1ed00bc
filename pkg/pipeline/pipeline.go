package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/rs/zerolog"
)

var (
	// ErrCorrupt marks a frame that arrived but could not be decoded.
	ErrCorrupt = errors.New("corrupt frame")
	// ErrTransient marks a read that may succeed if repeated.
	ErrTransient = errors.New("transient read error")
)

// Decoder opens a stream URI and turns it into decoded frames.
type Decoder interface {
	Open(ctx context.Context, uri string) (Source, error)
}

type DecoderFunc func(ctx context.Context, uri string) (Source, error)

func (f DecoderFunc) Open(ctx context.Context, uri string) (Source, error) {
	return f(ctx, uri)
}

// Source returns one decoded image per Read. Errors wrapping ErrCorrupt or
// ErrTransient are recoverable, any other error ends the stream.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

type Frame struct {
	Seq   uint64
	Time  time.Time
	Image image.Image
}

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultRetries = 3
	DefaultGrace   = 2 * time.Second
)

type Config struct {
	Queue   int           `yaml:"queue"`
	Retries int           `yaml:"retries"`
	Grace   time.Duration `yaml:"grace"`

	Log zerolog.Logger `yaml:"-"`
}

// Stats counters. Dropped is every frame the consumer never gets: Corrupt
// ones that failed to decode plus Evicted ones pushed out of a full queue.
type Stats struct {
	State   State  `json:"state"`
	Seq     uint64 `json:"seq"`
	Decoded uint64 `json:"decoded"`
	Dropped uint64 `json:"dropped"`
	Corrupt uint64 `json:"corrupt"`
	Evicted uint64 `json:"evicted"`
	Retries uint64 `json:"retries"`
	Queued  int    `json:"queued"`
}

// Pipeline reads frames from a Source in the background and hands them to a
// single consumer through a bounded drop-oldest Queue.
type Pipeline struct {
	decoder Decoder
	retries int
	grace   time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	state  State
	src    Source
	err    error
	cancel context.CancelFunc

	queue *Queue
	done  chan struct{} // closed when the pipeline reaches StateClosed
	exit  chan struct{} // closed when the read loop returns
	once  sync.Once

	seq     uint64 // owned by the reader
	decoded atomic.Uint64
	corrupt atomic.Uint64
	retried atomic.Uint64
	lastSeq atomic.Uint64
}

func New(decoder Decoder, cfg Config) *Pipeline {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Pipeline{
		decoder: decoder,
		retries: cfg.Retries,
		grace:   cfg.Grace,
		log:     cfg.Log,
		queue:   NewQueue(cfg.Queue),
		done:    make(chan struct{}),
		exit:    make(chan struct{}),
	}
}

// Open connects the decoder and blocks until the first frame is decoded.
// The pipeline keeps streaming after ctx is done; only Close or a terminal
// error stops it.
func (p *Pipeline) Open(ctx context.Context, uri string) error {
	const op = "pipeline: open"

	if p.decoder == nil || uri == "" {
		return core.NewError(op, "", core.ErrInvalidArgument, nil)
	}

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return core.NewError(op, "", core.ErrInvalidArgument, errors.New("already opened"))
	}
	p.state = StateConnecting
	p.mu.Unlock()

	var started bool
	defer func() {
		if !started {
			p.stopped()
		}
	}()

	p.log.Debug().Str("uri", creds.SecretString(creds.Strip(uri))).Msg("[pipeline] open")

	src, err := p.decoder.Open(ctx, uri)
	if err != nil {
		return p.failOpen(ctx, err)
	}

	p.mu.Lock()
	p.src = src
	closed := p.state == StateClosed
	p.mu.Unlock()

	if closed {
		_ = src.Close()
		return core.NewError(op, "", core.ErrCancelled, nil)
	}

	// first frame within the same failure budget as the read loop
	for failures := 0; ; {
		img, err := src.Read(ctx)
		if err == nil {
			p.push(img)
			break
		}
		if ctx.Err() != nil || !recoverable(err) {
			return p.failOpen(ctx, err)
		}
		p.count(err)
		if failures++; failures > p.retries {
			return p.failOpen(ctx, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		cancel()
		return core.NewError(op, "", core.ErrCancelled, nil)
	}
	p.state = StateStreaming
	p.cancel = cancel
	p.mu.Unlock()

	started = true
	go p.loop(loopCtx, src)

	return nil
}

func (p *Pipeline) failOpen(ctx context.Context, cause error) error {
	kind := core.ErrStreamUnavailable
	if ctx.Err() != nil || core.IsCancelled(cause) {
		kind = core.ErrCancelled
	}
	err := core.NewError("pipeline: open", "", kind, cause)
	p.shutdown(err)
	return err
}

func (p *Pipeline) stopped() {
	p.once.Do(func() { close(p.exit) })
}

func (p *Pipeline) loop(ctx context.Context, src Source) {
	defer p.stopped()

	var failures int

	for {
		img, err := src.Read(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			p.push(img)
			if failures > 0 {
				failures = 0
				p.setState(StateStreaming)
			}
			continue
		}

		if !recoverable(err) {
			p.log.Debug().Err(err).Msg("[pipeline] source ended")
			p.shutdown(core.NewError("pipeline: read", "", core.ErrStreamLost, err))
			return
		}

		p.count(err)

		if failures++; failures > p.retries {
			p.log.Debug().Err(err).Int("failures", failures).Msg("[pipeline] retry budget exhausted")
			p.shutdown(core.NewError("pipeline: read", "", core.ErrStreamLost, err))
			return
		}

		p.log.Trace().Err(err).Int("failures", failures).Msg("[pipeline] degraded")
		p.setState(StateDegraded)
	}
}

func recoverable(err error) bool {
	return errors.Is(err, ErrCorrupt) || errors.Is(err, ErrTransient)
}

// count records a failed read. A corrupt frame consumes a sequence number.
func (p *Pipeline) count(err error) {
	if errors.Is(err, ErrCorrupt) {
		p.seq++
		p.corrupt.Add(1)
	} else {
		p.retried.Add(1)
	}
}

func (p *Pipeline) push(img image.Image) {
	p.seq++
	p.lastSeq.Store(p.seq)
	p.decoded.Add(1)
	if p.queue.Push(Frame{Seq: p.seq, Time: time.Now(), Image: img}) {
		p.log.Trace().Uint64("seq", p.seq).Msg("[pipeline] drop oldest")
	}
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	if p.state != StateClosed {
		p.state = state
	}
	p.mu.Unlock()
}

// shutdown moves the pipeline to StateClosed once, remembering err as the
// reason reported by NextFrame.
func (p *Pipeline) shutdown(err error) bool {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return false
	}
	p.state = StateClosed
	p.err = err
	src := p.src
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		_ = src.Close()
	}
	p.queue.Close()
	close(p.done)
	return true
}

// NextFrame blocks until a frame is available. Frames queued before a
// terminal error are still delivered. Cancelling ctx closes the pipeline.
func (p *Pipeline) NextFrame(ctx context.Context) (Frame, error) {
	const op = "pipeline: next frame"

	if p.State() == StateIdle {
		return Frame{}, core.NewError(op, "", core.ErrInvalidArgument, errors.New("not opened"))
	}

	frame, err := p.queue.Pop(ctx)
	if err == nil {
		return frame, nil
	}

	if ctx.Err() != nil {
		err = core.NewError(op, "", core.ErrCancelled, ctx.Err())
		p.shutdown(err)
		p.wait()
		return Frame{}, err
	}

	p.mu.Lock()
	err = p.err
	p.mu.Unlock()
	return Frame{}, err
}

// Close stops the reader and releases the source. It is safe to call more
// than once and never fails.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	idle := p.state == StateIdle
	p.mu.Unlock()

	p.shutdown(core.NewError("pipeline: close", "", core.ErrCancelled, nil))
	if idle {
		p.stopped()
	}
	p.wait()
	return nil
}

// wait gives the reader the grace period to return.
func (p *Pipeline) wait() {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.exit:
	case <-timer.C:
		p.log.Warn().Msg("[pipeline] reader did not stop in time")
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the reason the pipeline closed or nil while it runs.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the pipeline reaches StateClosed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) Stats() Stats {
	corrupt, evicted := p.corrupt.Load(), p.queue.Dropped()
	return Stats{
		State:   p.State(),
		Seq:     p.lastSeq.Load(),
		Decoded: p.decoded.Load(),
		Dropped: corrupt + evicted,
		Corrupt: corrupt,
		Evicted: evicted,
		Retries: p.retried.Load(),
		Queued:  p.queue.Len(),
	}
}
