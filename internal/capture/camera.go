package capture

import (
	"context"
	"sync"
	"time"

	"github.com/camtap/camtap/pkg/camera"
	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/mjpeg"
	"github.com/camtap/camtap/pkg/onvif"
	"github.com/camtap/camtap/pkg/pipeline"
	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

// Camera keeps one session running and restarts it after recoverable
// failures.
type Camera struct {
	Name string

	cfg     CameraConfig
	pipe    pipeline.Config
	user    *creds.Credentials
	decoder pipeline.Decoder
	latest  *pipeline.Latest
	log     zerolog.Logger

	mu       sync.Mutex
	session  *camera.Session
	info     *onvif.DeviceInformation
	target   *onvif.StreamTarget
	err      error
	restarts int
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}

	jpegMu sync.Mutex
	jpegN  uint64
	jpeg   []byte
}

func NewCamera(name string, cfg CameraConfig, pipe pipeline.Config, user *creds.Credentials, decoder pipeline.Decoder, log zerolog.Logger) *Camera {
	cfg.Password = ""
	return &Camera{
		Name:    name,
		cfg:     cfg,
		pipe:    pipe,
		user:    user,
		decoder: decoder,
		latest:  pipeline.NewLatest(),
		log:     log.With().Str("camera", name).Logger(),
	}
}

func (c *Camera) sessionConfig() camera.Config {
	cfg := camera.Config{
		URL:      c.cfg.URL,
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Profile:  c.cfg.Profile,
		Stream:   c.cfg.Stream,
		Pipeline: c.pipe,
		Log:      c.log,
	}
	cfg.Pipeline.Log = c.log
	return cfg
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0 // never give up on recoverable errors
	b.Reset()
	return b
}

// Start runs the supervisor in background until ctx is done or Stop.
func (c *Camera) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Camera) run(ctx context.Context) {
	defer close(c.done)

	b := newBackOff()

	for {
		streamed, err := c.runOnce(ctx)

		c.mu.Lock()
		c.err = err
		c.session = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.log.Debug().Msg("[capture] stopped")
			return
		}

		if !core.Retryable(err) {
			c.log.Error().Err(err).Msg("[capture] give up")
			return
		}

		if streamed {
			b.Reset()
		}

		delay := b.NextBackOff()
		c.log.Warn().Err(err).Dur("retry", delay).Msg("[capture] stream failed")

		c.mu.Lock()
		c.restarts++
		c.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.log.Debug().Msg("[capture] stopped")
			return
		case <-timer.C:
		}
	}
}

// runOnce starts one session and drains it until it fails. streamed reports
// if at least the first frame was decoded.
func (c *Camera) runOnce(ctx context.Context) (streamed bool, err error) {
	session, err := camera.NewSession(c.sessionConfig(), c.user, c.decoder)
	if err != nil {
		return false, err
	}
	defer session.Close()

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	if err = session.Start(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.info = session.Info()
	c.target = session.Target()
	c.err = nil
	c.mu.Unlock()

	c.log.Info().Stringer("target", session.Target()).Msg("[capture] streaming")

	return true, pipeline.Drain(ctx, session, c.latest, pipeline.LogSink(c.log))
}

// Stop cancels the supervisor and waits for the session to close.
func (c *Camera) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the supervisor exits. It is nil before Start.
func (c *Camera) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Frame waits for the frame after write number n.
func (c *Camera) Frame(ctx context.Context, n uint64) (pipeline.Frame, uint64, error) {
	return c.latest.Wait(ctx, n)
}

// JPEG waits for the frame after write number n and returns it encoded.
// The last encoding is shared by all readers.
func (c *Camera) JPEG(ctx context.Context, n uint64) ([]byte, uint64, error) {
	frame, n, err := c.latest.Wait(ctx, n)
	if err != nil {
		return nil, n, err
	}

	c.jpegMu.Lock()
	defer c.jpegMu.Unlock()

	if c.jpegN == n {
		return c.jpeg, n, nil
	}

	b, err := mjpeg.Encode(frame.Image, 0)
	if err != nil {
		return nil, n, err
	}

	c.jpegN, c.jpeg = n, b
	return b, n, nil
}

// Status is the public view of a camera, it never holds credentials.
type Status struct {
	Name     string                   `json:"name"`
	Config   CameraConfig             `json:"config"`
	State    pipeline.State           `json:"state"`
	Stats    *pipeline.Stats          `json:"stats,omitempty"`
	Info     *onvif.DeviceInformation `json:"info,omitempty"`
	Target   *onvif.StreamTarget      `json:"target,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Kind     string                   `json:"kind,omitempty"`
	Restarts int                      `json:"restarts"`
}

func (c *Camera) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &Status{
		Name:     c.Name,
		Config:   c.cfg,
		State:    pipeline.StateIdle,
		Info:     c.info,
		Target:   c.target,
		Restarts: c.restarts,
	}

	if c.session != nil {
		stats := c.session.Stats()
		st.State = stats.State
		st.Stats = &stats
	} else if c.running && c.done != nil {
		select {
		case <-c.done:
			st.State = pipeline.StateClosed
		default:
			// waiting for retry
			st.State = pipeline.StateConnecting
		}
	}

	if c.err != nil && !core.IsCancelled(c.err) {
		st.Error = creds.SecretString(c.err.Error())
		if kind := core.KindOf(c.err); kind != nil {
			st.Kind = kind.Error()
		}
	}

	return st
}
