// Package mjpegtest packetizes JPEG images into RTP/JPEG payloads for
// depacketizer and RTSP client tests.
package mjpegtest

import (
	"encoding/binary"
	"errors"
)

const (
	markerSOF = 0xC0
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerDQT = 0xDB
	markerDRI = 0xDD
)

var errCorrupt = errors.New("mjpegtest: corrupt jpeg")

// Payload splits a baseline JPEG into RTP/JPEG payloads of at most size
// bytes with inline quantization tables (Q=255).
func Payload(jpeg []byte, size int) ([][]byte, error) {
	var t, w, h byte
	var tables [2][]byte
	var data []byte

	p := jpeg
	for data == nil {
		if len(p) < 4 || p[0] != 0xFF {
			return nil, errCorrupt
		}

		if p[1] == markerSOI {
			p = p[2:]
			continue
		}

		n := int(binary.BigEndian.Uint16(p[2:])) + 2
		if n > len(p) {
			return nil, errCorrupt
		}
		segment := p[4:n]

		switch p[1] {
		case markerDQT:
			for len(segment) >= 65 {
				pq, tq := segment[0]>>4, segment[0]&0xF
				if pq != 0 || tq > 1 {
					return nil, errors.New("mjpegtest: unsupported quantization table")
				}
				tables[tq] = segment[1:65]
				segment = segment[65:]
			}
		case markerSOF:
			if len(segment) < 15 || segment[0] != 8 || segment[5] != 3 {
				return nil, errors.New("mjpegtest: unsupported frame")
			}
			height := binary.BigEndian.Uint16(segment[1:])
			width := binary.BigEndian.Uint16(segment[3:])
			if width%8 != 0 || height%8 != 0 || width > 2040 || height > 2040 {
				return nil, errors.New("mjpegtest: unsupported size")
			}
			w, h = byte(width>>3), byte(height>>3)

			switch segment[7] {
			case 0x21:
				t = 0
			case 0x22:
				t = 1
			default:
				return nil, errors.New("mjpegtest: unsupported sampling")
			}
		case markerDRI:
			return nil, errors.New("mjpegtest: unsupported restart interval")
		case markerSOS:
			data = p[n:]
		}

		p = p[n:]
	}

	if tables[0] == nil || tables[1] == nil || w == 0 {
		return nil, errCorrupt
	}

	if k := len(data); k >= 2 && data[k-2] == 0xFF && data[k-1] == markerEOI {
		data = data[:k-2]
	}

	var payloads [][]byte

	for offset := 0; offset == 0 || len(data) > 0; {
		b := []byte{0, byte(offset >> 16), byte(offset >> 8), byte(offset), t, 255, w, h}
		if offset == 0 {
			b = append(b, 0, 0, 0, 128)
			b = append(b, tables[0]...)
			b = append(b, tables[1]...)
		}

		n := size - len(b)
		if n <= 0 {
			return nil, errors.New("mjpegtest: packet size too small")
		}
		if n > len(data) {
			n = len(data)
		}

		payloads = append(payloads, append(b, data[:n]...))
		data = data[n:]
		offset += n

		if n == 0 {
			break
		}
	}

	return payloads, nil
}
