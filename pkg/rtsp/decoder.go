package rtsp

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/mjpeg"
	"github.com/camtap/camtap/pkg/pipeline"
	"github.com/rs/zerolog"
)

// ErrUnsupported means the stream has no video track this package can decode.
var ErrUnsupported = errors.New("rtsp: unsupported codec")

// Decoder decodes Motion JPEG streams in process. Other codecs need an
// external decoder.
type Decoder struct {
	UserAgent string
	Log       zerolog.Logger
}

func (d *Decoder) Open(ctx context.Context, uri string) (pipeline.Source, error) {
	conn, err := NewClient(uri)
	if err != nil {
		return nil, err
	}
	conn.UserAgent = d.UserAgent

	if err = conn.Dial(ctx); err != nil {
		return nil, err
	}

	channel, err := d.setup(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	d.Log.Debug().Str("url", conn.URL.String()).Uint8("channel", channel).Msg("[rtsp] play")

	return &source{conn: conn, channel: channel}, nil
}

func (d *Decoder) setup(ctx context.Context, conn *Conn) (byte, error) {
	if err := conn.Options(ctx); err != nil {
		return 0, err
	}
	if err := conn.Describe(ctx); err != nil {
		return 0, err
	}

	media := FindVideo(conn.Medias, CodecJPEG)
	if media == nil {
		var codecs []string
		for _, m := range conn.Medias {
			codecs = append(codecs, m.Codec)
		}
		return 0, core.NewError("rtsp: describe", conn.URL.Host, core.ErrStreamUnavailable,
			fmt.Errorf("%w: %v", ErrUnsupported, codecs))
	}

	channel, err := conn.Setup(ctx, media)
	if err != nil {
		return 0, err
	}

	return channel, conn.Play()
}

type source struct {
	conn    *Conn
	channel byte
	depack  mjpeg.Depacketizer
}

func (s *source) Read(ctx context.Context) (image.Image, error) {
	for {
		channel, pkt, err := s.conn.ReadPacket(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrStall):
				return nil, fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
			case errors.Is(err, ErrPacket):
				return nil, fmt.Errorf("%w: %w", pipeline.ErrCorrupt, err)
			}
			return nil, err
		}

		if channel != s.channel {
			continue
		}

		b, err := s.depack.Push(pkt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrCorrupt, err)
		}
		if b == nil {
			continue
		}

		img, err := mjpeg.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrCorrupt, err)
		}
		return img, nil
	}
}

func (s *source) Close() error {
	return s.conn.Close()
}
