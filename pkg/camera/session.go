package camera

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/onvif"
	"github.com/camtap/camtap/pkg/pipeline"
	"github.com/rs/zerolog"
)

// Config addresses one camera. Exactly one of URL, Host or Stream is needed:
// URL is a discovered device service address, Host and Port a manual one,
// Stream a known stream URI that skips ONVIF.
type Config struct {
	URL     string
	Host    string
	Port    int
	Profile string // profile token, the first profile when empty
	Stream  string

	Pipeline pipeline.Config
	Log      zerolog.Logger
}

// FromDescriptor returns a Config for a discovered device.
func FromDescriptor(d *onvif.Descriptor) Config {
	return Config{URL: d.URL()}
}

func (c *Config) device() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Host != "":
		return onvif.JoinHostPort(c.Host, c.Port)
	}
	return creds.Strip(c.Stream)
}

// Session owns everything needed to get frames from one camera: the
// negotiated target and the pipeline. It is not safe for use by more than
// one consumer.
type Session struct {
	cfg     Config
	user    *creds.Credentials
	decoder pipeline.Decoder
	log     zerolog.Logger

	mu     sync.Mutex
	state  pipeline.State
	closed bool
	info   *onvif.DeviceInformation
	target *onvif.StreamTarget
	pipe   *pipeline.Pipeline
	cancel context.CancelFunc // aborts Start
}

// NewSession validates cfg. user may be nil for cameras without
// authentication.
func NewSession(cfg Config, user *creds.Credentials, decoder pipeline.Decoder) (*Session, error) {
	const op = "camera: new session"

	if decoder == nil {
		return nil, core.NewError(op, "", core.ErrInvalidArgument, errors.New("nil decoder"))
	}
	if cfg.URL == "" && cfg.Host == "" && cfg.Stream == "" {
		return nil, core.NewError(op, "", core.ErrInvalidArgument, errors.New("no device address"))
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, core.NewError(op, cfg.Host, core.ErrInvalidArgument, errors.New("wrong port"))
	}

	return &Session{cfg: cfg, user: user, decoder: decoder, log: cfg.Log}, nil
}

// Start negotiates the stream and blocks until the first frame is decoded.
func (s *Session) Start(ctx context.Context) error {
	const op = "camera: start"

	s.mu.Lock()
	if s.closed || s.state != pipeline.StateIdle {
		s.mu.Unlock()
		return core.NewError(op, s.cfg.device(), core.ErrInvalidArgument, errors.New("already started"))
	}
	ctx, cancel := context.WithCancel(ctx)
	s.state = pipeline.StateConnecting
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()

	err := s.start(ctx)
	if err != nil {
		s.log.Debug().Err(err).Str("device", s.cfg.device()).Msg("[camera] start")
		// checked before Close, which cancels ctx itself
		cancelled := ctx.Err() != nil
		_ = s.Close()
		if cancelled && !core.IsCancelled(err) {
			err = core.NewError(op, s.cfg.device(), core.ErrCancelled, err)
		}
		return err
	}

	return nil
}

func (s *Session) start(ctx context.Context) error {
	target, err := s.negotiate(ctx)
	if err != nil {
		return err
	}

	uri := target.URI
	if !s.user.Empty() {
		auth, err := target.WithCredentials(s.user)
		if err != nil {
			return err
		}
		uri = auth.AuthenticatedURI
	}

	s.log.Debug().Str("device", s.cfg.device()).Str("profile", target.Profile.Token).
		Str("uri", target.URI).Msg("[camera] open stream")

	pipe := pipeline.New(s.decoder, s.cfg.Pipeline)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.NewError("camera: start", s.cfg.device(), core.ErrCancelled, nil)
	}
	s.target = target
	s.pipe = pipe
	s.mu.Unlock()

	return pipe.Open(ctx, uri)
}

func (s *Session) negotiate(ctx context.Context) (*onvif.StreamTarget, error) {
	if s.cfg.Stream != "" {
		u, err := url.Parse(s.cfg.Stream)
		if err != nil || u.Host == "" || !creds.IsStreamScheme(u.Scheme) {
			return nil, core.NewError("camera: stream", "", core.ErrMalformedURI, err)
		}
		return &onvif.StreamTarget{Transport: onvif.TransportRTSP, URI: creds.Strip(s.cfg.Stream)}, nil
	}

	var client *onvif.Client
	var err error
	if s.cfg.URL != "" {
		client, err = onvif.Dial(ctx, s.cfg.URL, s.user)
	} else {
		client, err = onvif.Connect(ctx, s.cfg.Host, s.cfg.Port, s.user)
	}
	if err != nil {
		return nil, err
	}
	defer client.Close()

	// authenticated, so wrong credentials fail here already
	info, err := client.GetDeviceInformation(ctx)
	if err != nil {
		if kind := core.KindOf(err); kind == core.ErrAuthenticationFailed || kind == core.ErrCancelled {
			return nil, err
		}
		s.log.Debug().Err(err).Msg("[camera] device information")
	} else {
		s.log.Info().Str("device", client.Host()).Stringer("model", info).Msg("[camera] connected")
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
	}

	var sel onvif.Selector
	if s.cfg.Profile != "" {
		sel = onvif.ProfileByToken(s.cfg.Profile)
	}

	return onvif.Negotiate(ctx, client, sel)
}

// NextFrame returns the next frame from the pipeline.
func (s *Session) NextFrame(ctx context.Context) (pipeline.Frame, error) {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()

	if pipe == nil {
		return pipeline.Frame{}, core.NewError("camera: next frame", s.cfg.device(), core.ErrInvalidArgument, errors.New("not started"))
	}
	return pipe.NextFrame(ctx)
}

// Target returns the negotiated stream without credentials or nil.
func (s *Session) Target() *onvif.StreamTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	target := *s.target
	return &target
}

// Info returns the device information or nil for manual streams.
func (s *Session) Info() *onvif.DeviceInformation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) State() pipeline.State {
	s.mu.Lock()
	state, pipe := s.state, s.pipe
	s.mu.Unlock()

	if state == pipeline.StateConnecting && pipe != nil {
		return pipe.State()
	}
	return state
}

func (s *Session) Stats() pipeline.Stats {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()

	if pipe == nil {
		return pipeline.Stats{State: s.State()}
	}
	return pipe.Stats()
}

// Done is closed when the session's pipeline stops. It is nil before the
// pipeline exists.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe == nil {
		return nil
	}
	return s.pipe.Done()
}

// Err returns the reason the pipeline stopped.
func (s *Session) Err() error {
	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()
	if pipe == nil {
		return nil
	}
	return pipe.Err()
}

// Close releases all resources. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = pipeline.StateClosed
	pipe, cancel := s.pipe, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pipe != nil {
		return pipe.Close()
	}
	return nil
}
