package y4m

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/camtap/camtap/pkg/core"
)

var ErrFormat = errors.New("y4m: wrong format")

// Reader decodes a yuv4mpegpipe stream into images.
type Reader struct {
	Fmtp string // width=1280;height=720;colorspace=420mpeg2

	rd       *bufio.Reader
	size     int
	newImage func(frame []byte) image.Image
}

// NewReader blocks until the stream header is read.
func NewReader(r io.Reader) (*Reader, error) {
	rd := bufio.NewReaderSize(r, core.BufferSize)
	b, err := rd.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	b = b[:len(b)-1] // remove \n

	if !bytes.HasPrefix(b, []byte(streamMagic+" ")) {
		return nil, fmt.Errorf("%w: %.40q", ErrFormat, b)
	}

	fmtp := ParseHeader(b[len(streamMagic)+1:])
	if core.Between(fmtp, "colorspace=", ";") == "" {
		// default for the format
		fmtp += ";colorspace=420jpeg"
	}

	size := GetSize(fmtp)
	if size == 0 {
		return nil, fmt.Errorf("%w: unsupported header: %s", ErrFormat, b)
	}

	return &Reader{Fmtp: fmtp, rd: rd, size: size, newImage: NewImage(fmtp)}, nil
}

// ReadFrame returns the next image. Each image owns its own buffer.
func (r *Reader) ReadFrame() (image.Image, error) {
	// FRAME with optional parameters
	line, err := r.rd.ReadSlice('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if !bytes.HasPrefix(line, []byte(frameMagic)) {
		return nil, fmt.Errorf("%w: frame header %.20q", ErrFormat, line)
	}

	frame := make([]byte, r.size)
	if _, err = io.ReadFull(r.rd, frame); err != nil {
		return nil, err
	}

	return r.newImage(frame), nil
}
