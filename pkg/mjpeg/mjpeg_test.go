package mjpeg

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http/httptest"
	"testing"

	"github.com/camtap/camtap/pkg/mjpeg/mjpegtest"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestRFC2435(t *testing.T) {
	lqt, cqt := MakeTables(71)
	require.Equal(t, byte(9), lqt[0])
	require.Equal(t, byte(10), cqt[0])

	lqt, cqt = MakeTables(50)
	require.Equal(t, jpegLumaQuantizer[:], lqt)
	require.Equal(t, jpegChromaQuantizer[:], cqt)

	lqt, _ = MakeTables(1)
	require.Equal(t, byte(255), lqt[63])
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(x*131 ^ y*71), B: uint8(x*y*37 ^ x), A: 255})
		}
	}
	return img
}

func packets(t *testing.T, payloads [][]byte) []*rtp.Packet {
	var pkts []*rtp.Packet
	for i, payload := range payloads {
		pkts = append(pkts, &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 26, SequenceNumber: uint16(i), Marker: i == len(payloads)-1},
			Payload: payload,
		})
	}
	require.NotEmpty(t, pkts)
	return pkts
}

func TestDepacketizer(t *testing.T) {
	src, err := Encode(testImage(64, 48), 80)
	require.NoError(t, err)

	payloads, err := mjpegtest.Payload(src, 200)
	require.NoError(t, err)
	require.Greater(t, len(payloads), 2)

	var d Depacketizer

	// twice to check state reset between frames
	for i := 0; i < 2; i++ {
		var frame []byte
		for _, pkt := range packets(t, payloads) {
			frame, err = d.Push(pkt)
			require.NoError(t, err)
		}
		require.NotNil(t, frame)

		img, err := Decode(frame)
		require.NoError(t, err)

		want, err := jpeg.Decode(bytes.NewReader(src))
		require.NoError(t, err)

		require.Equal(t, want.Bounds(), img.Bounds())
		require.Equal(t, want.(*image.YCbCr).Y, img.(*image.YCbCr).Y)
		require.Equal(t, want.(*image.YCbCr).Cb, img.(*image.YCbCr).Cb)
	}
}

func TestDepacketizerLoss(t *testing.T) {
	src, err := Encode(testImage(64, 48), 0)
	require.NoError(t, err)

	payloads, err := mjpegtest.Payload(src, 200)
	require.NoError(t, err)

	var d Depacketizer

	pkts := packets(t, payloads)
	lost := append(pkts[:1:1], pkts[2:]...)

	var frame []byte
	for _, pkt := range lost[:len(lost)-1] {
		frame, err = d.Push(pkt)
		require.NoError(t, err)
		require.Nil(t, frame)
	}
	frame, err = d.Push(lost[len(lost)-1])
	require.ErrorIs(t, err, ErrCorrupt)
	require.Nil(t, frame)

	// next frame is fine
	for _, pkt := range pkts {
		frame, err = d.Push(pkt)
		require.NoError(t, err)
	}
	require.NotNil(t, frame)
}

func TestDepacketizerJoin(t *testing.T) {
	src, err := Encode(testImage(32, 32), 0)
	require.NoError(t, err)

	// first payload carries 140 bytes of headers and tables
	payloads, err := mjpegtest.Payload(src, 200)
	require.NoError(t, err)
	require.Greater(t, len(payloads), 2)

	var d Depacketizer

	// stream starts in the middle of a frame
	for _, pkt := range packets(t, payloads)[1:] {
		frame, err := d.Push(pkt)
		require.NoError(t, err)
		require.Nil(t, frame)
	}

	frame, err := d.Push(&rtp.Packet{Header: rtp.Header{Marker: true}, Payload: []byte{1, 2}})
	require.ErrorIs(t, err, ErrCorrupt)
	require.Nil(t, frame)
}

func TestPayloadErrors(t *testing.T) {
	_, err := mjpegtest.Payload([]byte("not a jpeg"), 1400)
	require.Error(t, err)

	src, err := Encode(testImage(30, 30), 0)
	require.NoError(t, err)
	_, err = mjpegtest.Payload(src, 1400)
	require.Error(t, err)

	src, err = Encode(testImage(32, 32), 0)
	require.NoError(t, err)
	_, err = mjpegtest.Payload(src, 100)
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(nil)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	n, err := w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	require.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\n\xFF\xD8\xFF\xD9\r\n", rec.Body.String())
	require.True(t, rec.Flushed)
}
