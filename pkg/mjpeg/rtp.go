package mjpeg

import (
	"encoding/binary"
	"errors"

	"github.com/pion/rtp"
)

var ErrCorrupt = errors.New("mjpeg: corrupt frame")

// Depacketizer assembles RTP/JPEG payloads into complete JPEG images.
// https://www.rfc-editor.org/rfc/rfc2435
type Depacketizer struct {
	buf    []byte
	next   uint32 // expected fragment offset
	active bool
	broken bool

	// tables sent once with Length=0 in following frames
	lqt, cqt []byte
}

// Push returns an image when pkt completes it, ErrCorrupt when the frame
// ended with lost or malformed packets, nil otherwise.
func (d *Depacketizer) Push(pkt *rtp.Packet) ([]byte, error) {
	b := pkt.Payload

	// 3.1.  JPEG header
	if len(b) < 8 {
		return d.fail(pkt.Marker)
	}

	offset := uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	t := b[4]
	q := b[5]
	b = b[8:]

	// 3.1.7.  Restart Marker header
	var dri uint16
	if 64 <= t && t <= 127 {
		if len(b) < 4 {
			return d.fail(pkt.Marker)
		}
		dri = binary.BigEndian.Uint16(b)
		b = b[4:]
	}

	if offset == 0 {
		d.buf = d.buf[:0]
		d.active = true
		d.broken = false

		var lqt, cqt []byte

		// 3.1.8.  Quantization Table header
		if q >= 128 {
			if len(b) < 4 {
				return d.fail(pkt.Marker)
			}
			precision := b[1]
			length := int(binary.BigEndian.Uint16(b[2:]))
			switch {
			case length == 0 && d.lqt != nil:
				lqt, cqt = d.lqt, d.cqt
			case precision != 0 || length < 128 || len(b) < 4+length:
				return d.fail(pkt.Marker)
			default:
				lqt = append(d.lqt[:0], b[4:68]...)
				cqt = append(d.cqt[:0], b[68:132]...)
				d.lqt, d.cqt = lqt, cqt
			}
			b = b[4+length:]
		} else {
			lqt, cqt = MakeTables(q)
		}

		// https://www.rfc-editor.org/rfc/rfc2435#section-3.1.5
		// The maximum width is 2040 pixels.
		w := uint16(pkt.Payload[6]) << 3
		h := uint16(pkt.Payload[7]) << 3

		// fix 2560x1920 and 2560x1440
		if w == 512 && (h == 1920 || h == 1440) {
			w = 2560
		}

		if w == 0 || h == 0 || t&0x3F > 1 {
			return d.fail(pkt.Marker)
		}

		d.buf = MakeHeaders(d.buf, t, w, h, lqt, cqt, dri)
	} else if !d.active {
		// joined in the middle of a frame
		return nil, nil
	} else if offset != d.next {
		d.broken = true
	}

	// 3.1.9.  JPEG Payload
	if !d.broken {
		d.buf = append(d.buf, b...)
		d.next = offset + uint32(len(b))
	}

	if !pkt.Marker {
		return nil, nil
	}

	if !d.active || d.broken {
		return d.fail(true)
	}
	d.active = false

	if n := len(d.buf); n < 2 || d.buf[n-2] != 0xFF || d.buf[n-1] != markerEOI {
		d.buf = append(d.buf, 0xFF, markerEOI)
	}

	frame := make([]byte, len(d.buf))
	copy(frame, d.buf)
	d.buf = d.buf[:0]

	return frame, nil
}

func (d *Depacketizer) fail(marker bool) ([]byte, error) {
	if !marker {
		d.broken = true
		return nil, nil
	}
	d.active = false
	d.broken = false
	d.buf = d.buf[:0]
	return nil, ErrCorrupt
}
