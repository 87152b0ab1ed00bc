package rtsp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/tcp"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	ProtoRTSP      = "RTSP/1.0"
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"
	MethodSetup    = "SETUP"
	MethodPlay     = "PLAY"
	MethodTeardown = "TEARDOWN"
)

var Timeout = time.Second * 5

var (
	// ErrStall is returned by ReadPacket when no data arrived in time.
	// The connection stays usable.
	ErrStall = errors.New("rtsp: read stall")
	// ErrPacket is returned for a malformed RTP or RTCP packet.
	ErrPacket = errors.New("rtsp: malformed packet")
)

// Conn is an RTSP client receiving media over TCP interleaved channels.
type Conn struct {
	URL       *url.URL
	Medias    []*Media
	UserAgent string
	Timeout   time.Duration

	auth      *tcp.Auth
	conn      net.Conn
	reader    *bufio.Reader
	session   string
	sequence  int
	keepalive time.Duration

	writeMu  sync.Mutex // Close may race with the reader's keepalive
	lastSend time.Time
}

// NewClient parses uri and moves its userinfo into the authenticator, so the
// credentials are never written to the wire in request lines.
func NewClient(uri string) (*Conn, error) {
	u, err := urlParse(uri)
	if err != nil || u.Host == "" || !creds.IsStreamScheme(u.Scheme) {
		return nil, core.NewError("rtsp: parse", "", core.ErrMalformedURI, err)
	}

	var user *creds.Credentials
	if u.User != nil {
		pass, _ := u.User.Password()
		user = creds.New(u.User.Username(), pass)
		u.User = nil
	}

	return &Conn{URL: u, auth: tcp.NewAuth(user), Timeout: Timeout}, nil
}

func (c *Conn) Dial(ctx context.Context) (err error) {
	if c.conn, err = tcp.Dial(ctx, c.URL, "554"); err != nil {
		if ctx.Err() != nil {
			return core.ContextError(ctx, "rtsp: dial", c.URL.Host)
		}
		return core.NewError("rtsp: dial", c.URL.Host, core.ErrUnreachable, err)
	}

	if c.URL.Scheme == "rtspx" {
		c.URL.Scheme = "rtsps"
	}

	c.reader = bufio.NewReaderSize(c.conn, core.BufferSize)
	c.session = ""
	c.sequence = 0
	return nil
}

func (c *Conn) WriteRequest(req *tcp.Request) error {
	if req.Proto == "" {
		req.Proto = ProtoRTSP
	}
	if req.Header == nil {
		req.Header = make(map[string][]string)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sequence++
	req.Header.Set("CSeq", strconv.Itoa(c.sequence))

	c.auth.Write(req)

	if c.session != "" {
		req.Header.Set("Session", c.session)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return err
	}

	c.lastSend = time.Now()
	return req.Write(c.conn)
}

// Do sends req and waits for its response, answering one auth challenge.
func (c *Conn) Do(ctx context.Context, req *tcp.Request) (*tcp.Response, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	res, err := c.do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ContextError(ctx, "rtsp: "+strings.ToLower(req.Method), c.URL.Host)
		}
		return nil, err
	}
	return res, nil
}

func (c *Conn) do(ctx context.Context, req *tcp.Request) (*tcp.Response, error) {
	op := "rtsp: " + strings.ToLower(req.Method)

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := c.WriteRequest(req); err != nil {
			return nil, core.NewError(op, c.URL.Host, core.ErrUnreachable, err)
		}

		res, err := c.readResponse()
		if err != nil {
			return nil, core.NewError(op, c.URL.Host, core.ErrUnreachable, err)
		}

		switch res.StatusCode {
		case http.StatusOK:
			return res, nil

		case http.StatusUnauthorized:
			if i == 0 && c.auth.Method == tcp.AuthUnknown && c.auth.Read(res.Header.Get("WWW-Authenticate")) {
				continue
			}
			if c.auth.Method == tcp.AuthNone {
				err = errors.New("credentials not provided")
			}
			return nil, core.NewError(op, c.URL.Host, core.ErrAuthenticationFailed, err)
		}

		return nil, core.NewError(op, c.URL.Host, core.ErrProtocol, fmt.Errorf("wrong response: %s", res.Status))
	}
}

// readResponse skips interleaved packets that arrive before the response.
func (c *Conn) readResponse() (*tcp.Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, err
	}

	for {
		b, err := c.reader.Peek(4)
		if err != nil {
			return nil, err
		}

		if b[0] != '$' {
			return tcp.ReadResponse(c.reader)
		}

		size := int(binary.BigEndian.Uint16(b[2:]))
		if _, err = c.reader.Discard(4 + size); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) Options(ctx context.Context) error {
	req := &tcp.Request{Method: MethodOptions, URL: c.URL}

	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if val := res.Header.Get("Content-Base"); val != "" {
		u, err := urlParse(val)
		if err != nil {
			return core.NewError("rtsp: options", c.URL.Host, core.ErrProtocol, err)
		}
		u.User = nil
		c.URL = u
	}

	return nil
}

func (c *Conn) Describe(ctx context.Context) error {
	req := &tcp.Request{
		Method: MethodDescribe,
		URL:    c.URL,
		Header: map[string][]string{
			"Accept": {"application/sdp"},
		},
	}

	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if val := res.Header.Get("Content-Base"); val != "" {
		u, err := urlParse(val)
		if err != nil {
			return core.NewError("rtsp: describe", c.URL.Host, core.ErrProtocol, err)
		}
		u.User = nil
		c.URL = u
	}

	if c.Medias, err = UnmarshalSDP(res.Body); err != nil {
		return core.NewError("rtsp: describe", c.URL.Host, core.ErrProtocol, err)
	}

	return nil
}

// Setup requests media over an interleaved channel pair and returns the RTP
// channel chosen by the server.
func (c *Conn) Setup(ctx context.Context, media *Media) (byte, error) {
	const op = "rtsp: setup"

	i := c.mediaIndex(media)
	if i < 0 {
		return 0, core.NewError(op, c.URL.Host, core.ErrInvalidArgument, fmt.Errorf("wrong media: %s", media))
	}

	trackURL, err := urlParse(c.trackURL(media.Control))
	if err != nil {
		return 0, core.NewError(op, c.URL.Host, core.ErrProtocol, err)
	}

	req := &tcp.Request{
		Method: MethodSetup,
		URL:    trackURL,
		Header: map[string][]string{
			// i   - RTP (data channel)
			// i+1 - RTCP (control channel)
			"Transport": {fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", i*2, i*2+1)},
		},
	}

	res, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}

	if c.session == "" {
		// Session: 216525287999;timeout=60
		if s := res.Header.Get("Session"); s != "" {
			if j := strings.IndexByte(s, ';'); j > 0 {
				c.session = s[:j]
				if j = strings.Index(s, "timeout="); j > 0 {
					c.keepalive = time.Duration(core.Atoi(s[j+8:])) * time.Second
				}
			} else {
				c.session = s
			}
		}
	}

	// we send our `interleaved`, but camera can answer with another
	// Transport: RTP/AVP/TCP;unicast;interleaved=10-11;ssrc=10117CB7
	// Transport: RTP/AVP/TCP;ssrc=22345682;interleaved=0-1
	transport := res.Header.Get("Transport")
	s := core.Between(transport, "interleaved=", "-")
	ch, err := strconv.Atoi(s)
	if err != nil || ch < 0 || ch > 255 {
		return 0, core.NewError(op, c.URL.Host, core.ErrProtocol, fmt.Errorf("wrong transport: %s", transport))
	}

	return byte(ch), nil
}

func (c *Conn) mediaIndex(media *Media) int {
	for i, m := range c.Medias {
		if m == media {
			return i
		}
	}
	return -1
}

func (c *Conn) trackURL(control string) string {
	if strings.Contains(control, "://") {
		return control
	}
	rawURL := c.URL.String()
	if control == "" || control == "*" {
		return rawURL
	}
	if !strings.HasSuffix(rawURL, "/") && !strings.HasPrefix(control, "/") {
		rawURL += "/"
	}
	return rawURL + control
}

// Play doesn't wait for the response, packets may come first.
func (c *Conn) Play() error {
	return c.WriteRequest(&tcp.Request{
		Method: MethodPlay,
		URL:    c.URL,
		Header: map[string][]string{"Range": {"npt=0.000-"}},
	})
}

func (c *Conn) Teardown() error {
	return c.WriteRequest(&tcp.Request{Method: MethodTeardown, URL: c.URL})
}

// ReadPacket returns the next RTP packet with its channel. Responses and
// RTCP reports are skipped; an RTCP BYE ends the stream with io.EOF.
func (c *Conn) ReadPacket(ctx context.Context) (byte, *rtp.Packet, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if c.keepalive > 0 && time.Since(c.sent()) > c.keepalive/2 {
			req := &tcp.Request{Method: MethodOptions, URL: c.URL}
			if err := c.WriteRequest(req); err != nil {
				return 0, nil, err
			}
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
			return 0, nil, err
		}
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		// we can read:
		// 1. RTP interleaved: `$` + 1B channel number + 2B size
		// 2. RTSP response:   RTSP/1.0 200 OK
		b, err := c.reader.Peek(4)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, nil, fmt.Errorf("%w: %w", ErrStall, err)
			}
			return 0, nil, err
		}

		if b[0] != '$' {
			if string(b) != "RTSP" {
				return 0, nil, fmt.Errorf("%w: unexpected data %q", ErrPacket, b)
			}
			res, err := tcp.ReadResponse(c.reader)
			if err != nil {
				return 0, nil, err
			}
			if res.StatusCode != http.StatusOK {
				return 0, nil, core.NewError("rtsp: play", c.URL.Host, core.ErrProtocol, errors.New(res.Status))
			}
			continue
		}

		channel := b[1]
		size := int(binary.BigEndian.Uint16(b[2:]))

		if _, err = c.reader.Discard(4); err != nil {
			return 0, nil, err
		}

		buf := make([]byte, size)
		if _, err = io.ReadFull(c.reader, buf); err != nil {
			return 0, nil, err
		}

		// hope that the odd channels are always RTCP
		if channel&1 == 0 {
			pkt := &rtp.Packet{}
			if err = pkt.Unmarshal(buf); err != nil {
				return channel, nil, fmt.Errorf("%w: %w", ErrPacket, err)
			}
			return channel, pkt, nil
		}

		pkts, err := rtcp.Unmarshal(buf)
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.Goodbye); ok {
				return channel, nil, io.EOF
			}
		}
	}
}

func (c *Conn) sent() time.Time {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastSend
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	_ = c.Teardown()
	return c.conn.Close()
}
