package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/pipeline"
	"github.com/camtap/camtap/pkg/shell"
	"github.com/camtap/camtap/pkg/y4m"
	"github.com/rs/zerolog"
)

const (
	DefaultBin    = "ffmpeg"
	DefaultGlobal = "-hide_banner -v error"
)

// Decoder runs ffmpeg and reads raw frames from its yuv4mpegpipe output.
// It handles any codec ffmpeg can decode, H.264 and H.265 included.
type Decoder struct {
	Bin     string   `yaml:"bin"`
	Global  string   `yaml:"global"`
	Filters []string `yaml:"filters"`

	Log zerolog.Logger `yaml:"-"`
}

func (d *Decoder) Args(uri string) *Args {
	args := &Args{
		Bin:    d.Bin,
		Global: d.Global,
		Input:  "-rtsp_transport tcp -i " + uri,
		Codecs: []string{"-an", "-pix_fmt yuv420p"},
		Output: "-f yuv4mpegpipe -",
	}
	if args.Bin == "" {
		args.Bin = DefaultBin
	}
	if args.Global == "" {
		args.Global = DefaultGlobal
	}
	for _, filter := range d.Filters {
		args.AddFilter(filter)
	}
	return args
}

func (d *Decoder) Open(ctx context.Context, uri string) (pipeline.Source, error) {
	if strings.ContainsAny(uri, " \t\r\n\"'") {
		return nil, errors.New("ffmpeg: unsupported characters in uri")
	}

	args := d.Args(uri)

	d.Log.Debug().Str("args", creds.SecretString(strings.Replace(args.String(), uri, creds.Strip(uri), 1))).
		Msg("[ffmpeg] run")

	// the process lives longer than ctx, Close kills it
	cmd := shell.NewCommand(context.Background(), args.String())

	stderr := &tail{secret: uri, public: creds.Strip(uri)}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = cmd.Close() })
	rd, err := y4m.NewReader(stdout)
	stop()

	if err != nil {
		_ = cmd.Close()
		<-cmd.Done()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stderr.wrap(err)
	}

	d.Log.Debug().Str("format", rd.Fmtp).Msg("[ffmpeg] started")

	return &source{cmd: cmd, rd: rd, stderr: stderr}, nil
}

type source struct {
	cmd    *shell.Command
	rd     *y4m.Reader
	stderr *tail
}

func (s *source) Read(ctx context.Context) (image.Image, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.cmd.Close() })
	defer stop()

	img, err := s.rd.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// ffmpeg conceals broken frames itself, any read error means
		// the process is gone or its output is out of sync
		return nil, s.stderr.wrap(err)
	}
	return img, nil
}

func (s *source) Close() error {
	_ = s.cmd.Close()
	<-s.cmd.Done()
	return nil
}

// tail keeps the end of ffmpeg stderr for error messages, with the stream
// uri replaced by its public form.
type tail struct {
	secret string
	public string

	mu  sync.Mutex
	buf []byte
}

const tailSize = 512

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize*2 {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-tailSize:]...)
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	s := string(t.buf)
	t.mu.Unlock()

	if len(s) > tailSize {
		s = s[len(s)-tailSize:]
	}
	s = strings.ReplaceAll(s, t.secret, t.public)
	return strings.TrimSpace(creds.SecretString(s))
}

func (t *tail) wrap(err error) error {
	if s := t.String(); s != "" {
		return fmt.Errorf("ffmpeg: %w: %s", err, s)
	}
	return fmt.Errorf("ffmpeg: %w", err)
}
