package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const EndLine = "\r\n"

// Response like http.Response, but with any proto
type Response struct {
	Status     string
	StatusCode int
	Proto      string
	Header     textproto.MIMEHeader
	Body       []byte
	Request    *Request
}

func (r *Response) String() string {
	var b strings.Builder
	b.WriteString(r.Proto + " " + r.Status + EndLine)
	writeHeader(&b, r.Header, r.Body)
	return b.String()
}

func (r *Response) Write(w io.Writer) (err error) {
	_, err = io.WriteString(w, r.String())
	return
}

func ReadResponse(r *bufio.Reader) (*Response, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, errors.New("tcp: empty response")
	}

	ss := strings.SplitN(line, " ", 3)
	if len(ss) < 2 {
		return nil, fmt.Errorf("tcp: malformed response: %.100s", line)
	}

	res := &Response{Proto: ss[0], Status: strings.Join(ss[1:], " ")}

	if res.StatusCode, err = strconv.Atoi(ss[1]); err != nil {
		return nil, fmt.Errorf("tcp: malformed response: %.100s", line)
	}

	if res.Header, err = tp.ReadMIMEHeader(); err != nil {
		return nil, err
	}

	if res.Body, err = readBody(r, res.Header); err != nil {
		return nil, err
	}

	return res, nil
}

// Request like http.Request, but with any proto
type Request struct {
	Method string
	URL    *url.URL
	Proto  string
	Header textproto.MIMEHeader
	Body   []byte
}

func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.Method + " " + r.URL.String() + " " + r.Proto + EndLine)
	writeHeader(&b, r.Header, r.Body)
	return b.String()
}

func (r *Request) Write(w io.Writer) (err error) {
	_, err = io.WriteString(w, r.String())
	return
}

func ReadRequest(r *bufio.Reader) (*Request, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}

	ss := strings.SplitN(line, " ", 3)
	if len(ss) != 3 {
		return nil, fmt.Errorf("tcp: wrong request: %.100s", line)
	}

	req := &Request{Method: ss[0], Proto: ss[2]}

	if req.URL, err = url.Parse(ss[1]); err != nil {
		return nil, err
	}

	if req.Header, err = tp.ReadMIMEHeader(); err != nil {
		return nil, err
	}

	if req.Body, err = readBody(r, req.Header); err != nil {
		return nil, err
	}

	return req, nil
}

func writeHeader(b *strings.Builder, header textproto.MIMEHeader, body []byte) {
	for k, v := range header {
		b.WriteString(k + ": " + v[0] + EndLine)
	}
	if body != nil && header.Get("Content-Length") == "" {
		b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + EndLine)
	}
	b.WriteString(EndLine)
	b.Write(body)
}

func readBody(r *bufio.Reader, header textproto.MIMEHeader) ([]byte, error) {
	val := header.Get("Content-Length")
	if val == "" {
		return nil, nil
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return nil, fmt.Errorf("tcp: wrong content length: %s", val)
	}

	body := make([]byte, i)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
