package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
)

// Decode checks SOI before handing data to image/jpeg so random bytes fail
// fast with ErrCorrupt.
func Decode(b []byte) (image.Image, error) {
	if len(b) < 4 || b[0] != 0xFF || b[1] != markerSOI {
		return nil, ErrCorrupt
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, ErrCorrupt
	}
	return img, nil
}

// Encode returns JPEG with quality 1..100, 0 means default.
func Encode(img image.Image, quality int) ([]byte, error) {
	var opts *jpeg.Options
	if quality > 0 {
		opts = &jpeg.Options{Quality: quality}
	}
	buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
	if err := jpeg.Encode(buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
