package mjpeg

import (
	"net/http"
	"strconv"
)

const boundary = "frame"

// Writer sends JPEG images as multipart/x-mixed-replace stream.
type Writer struct {
	w   http.ResponseWriter
	buf []byte
}

func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	return &Writer{w: w, buf: []byte(header)}
}

const header = "--" + boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: "

func (w *Writer) Write(p []byte) (n int, err error) {
	w.buf = w.buf[:len(header)]
	w.buf = append(w.buf, strconv.Itoa(len(p))...)
	w.buf = append(w.buf, "\r\n\r\n"...)
	w.buf = append(w.buf, p...)
	w.buf = append(w.buf, "\r\n"...)

	// Chrome bug: mjpeg image always shows the second to last image
	// https://bugs.chromium.org/p/chromium/issues/detail?id=527446
	if _, err = w.w.Write(w.buf); err != nil {
		return 0, err
	}

	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}

	return len(p), nil
}
