package y4m

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Writer encodes images of one size into a yuv4mpegpipe stream.
type Writer struct {
	w      io.Writer
	width  int
	height int
	header string
}

func NewWriter(w io.Writer, width, height int) *Writer {
	return &Writer{
		w:      w,
		width:  width,
		height: height,
		header: fmt.Sprintf("%s W%d H%d F25:1 Ip A1:1 C420jpeg\n", streamMagic, width, height),
	}
}

var ErrSize = errors.New("y4m: frame size changed")

// WriteFrame converts images other than 4:2:0 YCbCr on the fly.
func (w *Writer) WriteFrame(src image.Image) error {
	rect := src.Bounds()
	if rect.Dx() != w.width || rect.Dy() != w.height {
		return fmt.Errorf("%w: %dx%d", ErrSize, rect.Dx(), rect.Dy())
	}

	img := toYCbCr420(src)

	if w.header != "" {
		if _, err := io.WriteString(w.w, w.header); err != nil {
			return err
		}
		w.header = ""
	}

	if _, err := io.WriteString(w.w, frameHdr); err != nil {
		return err
	}

	cw, ch := (rect.Dx()+1)/2, (rect.Dy()+1)/2

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := img.YOffset(rect.Min.X, y)
		if _, err := w.w.Write(img.Y[i : i+rect.Dx()]); err != nil {
			return err
		}
	}
	for _, plane := range [][]byte{img.Cb, img.Cr} {
		for y := 0; y < ch; y++ {
			i := img.COffset(rect.Min.X, rect.Min.Y+y*2)
			if _, err := w.w.Write(plane[i : i+cw]); err != nil {
				return err
			}
		}
	}

	return nil
}

// toYCbCr420 takes chroma from the top left pixel of every 2x2 block.
func toYCbCr420(src image.Image) *image.YCbCr {
	if img, ok := src.(*image.YCbCr); ok && img.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		return img
	}

	rect := src.Bounds()
	img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := color.YCbCrModel.Convert(src.At(x, y)).(color.YCbCr)
			img.Y[img.YOffset(x, y)] = c.Y
			if (x-rect.Min.X)%2 == 0 && (y-rect.Min.Y)%2 == 0 {
				i := img.COffset(x, y)
				img.Cb[i], img.Cr[i] = c.Cb, c.Cr
			}
		}
	}

	return img
}
