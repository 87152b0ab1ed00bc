package y4m

import (
	"bytes"
	"image"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	fmtp := ParseHeader([]byte("W1280 H720 F24:1 Ip A1:1 C420mpeg2 XYSCSS=420MPEG2"))
	require.Equal(t, "width=1280;height=720;colorspace=420mpeg2", fmtp)
	require.Equal(t, 1280*720*3/2, GetSize(fmtp))

	require.Equal(t, 4*2, GetSize("width=4;height=2;colorspace=mono"))
	require.Equal(t, 4*2*3, GetSize("width=4;height=2;colorspace=444"))
	require.Zero(t, GetSize("width=4;height=2;colorspace=paletted"))
	require.Empty(t, ParseHeader(nil))
}

func testImage(w, h int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i)
	}
	for i := range img.Cb {
		img.Cb[i] = byte(100 + i)
		img.Cr[i] = byte(200 - i)
	}
	return img
}

func TestRoundTrip(t *testing.T) {
	img := testImage(8, 6)

	var buf bytes.Buffer
	w := NewWriter(&buf, 8, 6)
	require.NoError(t, w.WriteFrame(img))
	require.NoError(t, w.WriteFrame(img))
	require.True(t, strings.HasPrefix(buf.String(), "YUV4MPEG2 W8 H6 "))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	require.Equal(t, "width=8;height=6;colorspace=420jpeg", r.Fmtp)

	for i := 0; i < 2; i++ {
		frame, err := r.ReadFrame()
		require.NoError(t, err)

		got := frame.(*image.YCbCr)
		require.Equal(t, img.Rect, got.Rect)
		require.Equal(t, img.Y, got.Y)
		require.Equal(t, img.Cb, got.Cb)
		require.Equal(t, img.Cr, got.Cr)
	}

	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderFrameParams(t *testing.T) {
	s := "YUV4MPEG2 W2 H2 Cmono\nFRAME Ixyz\n\x01\x02\x03\x04"
	r, err := NewReader(strings.NewReader(s))
	require.NoError(t, err)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, frame.(*image.Gray).Pix)
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(strings.NewReader("RIFF....\n"))
	require.ErrorIs(t, err, ErrFormat)

	_, err = NewReader(strings.NewReader("YUV4MPEG2 W2 H2 Cpaletted\n"))
	require.ErrorIs(t, err, ErrFormat)

	_, err = NewReader(strings.NewReader(""))
	require.ErrorIs(t, err, io.EOF)

	r, err := NewReader(strings.NewReader("YUV4MPEG2 W2 H2 Cmono\nJUNK\n"))
	require.NoError(t, err)
	_, err = r.ReadFrame()
	require.ErrorIs(t, err, ErrFormat)

	r, err = NewReader(strings.NewReader("YUV4MPEG2 W2 H2 Cmono\nFRAME\n\x01"))
	require.NoError(t, err)
	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriterConvert(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range gray.Pix {
		gray.Pix[i] = byte(i * 10)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, 4, 2)
	require.NoError(t, w.WriteFrame(gray))
	require.NoError(t, w.WriteFrame(image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio444)))

	r, err := NewReader(&buf)
	require.NoError(t, err)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	got := frame.(*image.YCbCr)
	require.Equal(t, gray.Pix, got.Y)
	require.Equal(t, []byte{128, 128}, got.Cb)
	require.Equal(t, []byte{128, 128}, got.Cr)

	_, err = r.ReadFrame()
	require.NoError(t, err)

	err = w.WriteFrame(image.NewGray(image.Rect(0, 0, 8, 8)))
	require.ErrorIs(t, err, ErrSize)
}
