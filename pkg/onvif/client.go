package onvif

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
	"github.com/camtap/camtap/pkg/tcp"
)

const PathDevice = "/onvif/device_service"

const (
	DeviceGetCapabilities      = "GetCapabilities"
	DeviceGetDeviceInformation = "GetDeviceInformation"
	DeviceGetSystemDateAndTime = "GetSystemDateAndTime"

	MediaGetProfiles  = "GetProfiles"
	MediaGetStreamUri = "GetStreamUri"
)

// Client talks SOAP to one device over a single keep-alive connection.
// Calls are serialized.
type Client struct {
	host string
	user *creds.Credentials

	deviceURL string
	mediaURL  string
	offset    time.Duration

	auth *tcp.Auth

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	Timeout time.Duration
}

// Connect opens a session with the device at host:port. Port 0 means 80.
func Connect(ctx context.Context, host string, port int, user *creds.Credentials) (*Client, error) {
	if host == "" || port < 0 || port > 65535 {
		return nil, core.NewError("onvif: connect", host, core.ErrInvalidArgument, fmt.Errorf("wrong address %q:%d", host, port))
	}
	return Dial(ctx, "http://"+JoinHostPort(host, port)+PathDevice, user)
}

// Dial opens a session with the device service at rawURL, usually one of
// the XAddrs from discovery.
func Dial(ctx context.Context, rawURL string, user *creds.Credentials) (*Client, error) {
	const op = "onvif: connect"

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, core.NewError(op, rawURL, core.ErrInvalidArgument, err)
	}

	host := u.Host
	if u.Port() == "" {
		host = JoinHostPort(u.Hostname(), 80)
	}

	c := &Client{
		host:      host,
		user:      user,
		deviceURL: "http://" + host + GetPath(u.Path, PathDevice),
		auth:      tcp.NewAuth(user),
		Timeout:   core.ConnDeadline,
	}

	// some devices reject tokens created more than a few seconds away from
	// their own clock, the time request itself needs no auth
	b, err := c.request(ctx, op, c.deviceURL, deviceBody(DeviceGetSystemDateAndTime), false)
	switch {
	case err == nil:
		if t, ok := ParseDateTime(b); ok {
			c.offset = time.Until(t)
		}
	case errors.Is(err, core.ErrUnreachable), errors.Is(err, core.ErrCancelled):
		_ = c.Close()
		return nil, err
	}

	if b, err = c.DeviceRequest(ctx, DeviceGetCapabilities); err != nil {
		_ = c.Close()
		return nil, err
	}

	s := FindTagValue(b, "Media.+?XAddr")
	c.mediaURL = Rebase(s, c.host, "/onvif/media_service")

	return c, nil
}

// Host returns host:port of the device.
func (c *Client) Host() string {
	return c.host
}

func (c *Client) MediaURL() string {
	return c.mediaURL
}

// TimeOffset is the device clock minus the local clock.
func (c *Client) TimeOffset() time.Duration {
	return c.offset
}

type DeviceInformation struct {
	Manufacturer    string `json:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	HardwareID      string `json:"hardware_id,omitempty"`
}

func (d *DeviceInformation) String() string {
	return strings.TrimSpace(d.Manufacturer + " " + d.Model)
}

func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	b, err := c.DeviceRequest(ctx, DeviceGetDeviceInformation)
	if err != nil {
		return nil, err
	}

	return &DeviceInformation{
		Manufacturer:    FindTagValue(b, "Manufacturer"),
		Model:           FindTagValue(b, "Model"),
		FirmwareVersion: FindTagValue(b, "FirmwareVersion"),
		SerialNumber:    FindTagValue(b, "SerialNumber"),
		HardwareID:      FindTagValue(b, "HardwareId"),
	}, nil
}

// GetMediaProfiles returns profiles in device order. Empty list is valid.
func (c *Client) GetMediaProfiles(ctx context.Context) ([]Profile, error) {
	const op = "onvif: get profiles"

	b, err := c.request(ctx, op, c.mediaURL, mediaBody(MediaGetProfiles), true)
	if err != nil {
		return nil, err
	}

	profiles, err := ParseProfiles(b)
	if err != nil {
		return nil, core.NewError(op, c.host, core.ErrProtocol, err)
	}
	return profiles, nil
}

// GetStreamURI returns the stream address for the profile as the device
// reports it, without credentials.
func (c *Client) GetStreamURI(ctx context.Context, token string, transport Transport) (string, error) {
	const op = "onvif: get stream uri"

	if token == "" {
		return "", core.NewError(op, c.host, core.ErrInvalidArgument, errors.New("empty profile token"))
	}
	if transport == (Transport{}) {
		transport = TransportRTSP
	}

	body := `<trt:GetStreamUri>
	<trt:StreamSetup>
		<tt:Stream>` + EscapeText(transport.Stream) + `</tt:Stream>
		<tt:Transport><tt:Protocol>` + EscapeText(transport.Protocol) + `</tt:Protocol></tt:Transport>
	</trt:StreamSetup>
	<trt:ProfileToken>` + EscapeText(token) + `</trt:ProfileToken>
</trt:GetStreamUri>`

	b, err := c.request(ctx, op, c.mediaURL, body, true)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) && fault.UnknownProfile() {
			return "", core.NewError(op, c.host, core.ErrInvalidProfile, fault)
		}
		return "", err
	}

	uri := FindURI(b)
	if uri == "" {
		return "", core.NewError(op, c.host, core.ErrProtocol, errors.New("no uri in response"))
	}
	if _, err = url.Parse(uri); err != nil {
		return "", core.NewError(op, c.host, core.ErrProtocol, err)
	}

	return uri, nil
}

func (c *Client) DeviceRequest(ctx context.Context, operation string) ([]byte, error) {
	return c.request(ctx, "onvif: "+operation, c.deviceURL, deviceBody(operation), true)
}

func (c *Client) MediaRequest(ctx context.Context, operation string) ([]byte, error) {
	return c.request(ctx, "onvif: "+operation, c.mediaURL, mediaBody(operation), true)
}

// Close drops the connection. The client redials on next request.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeConn()
	return nil
}

func deviceBody(operation string) string {
	switch operation {
	case DeviceGetCapabilities:
		return `<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`
	}
	return `<tds:` + operation + `/>`
}

func mediaBody(operation string) string {
	return `<trt:` + operation + `/>`
}

func (c *Client) request(ctx context.Context, op, rawURL, body string, secure bool) ([]byte, error) {
	if err := core.ContextError(ctx, op, c.host); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, core.NewError(op, c.host, core.ErrProtocol, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var res *http.Response
	var b []byte

	// second pass only when the device asks for HTTP auth
	for i := 0; i < 2; i++ {
		var e *Envelope
		if secure {
			e = NewEnvelopeWithUser(c.user, time.Now().Add(c.offset))
		} else {
			e = NewEnvelope()
		}
		e.Append(body)

		if res, b, err = c.roundTrip(ctx, u, e.Bytes(), secure); err != nil {
			if ctx.Err() != nil {
				return nil, core.NewError(op, c.host, core.ErrCancelled, ctx.Err())
			}
			return nil, core.NewError(op, c.host, core.ErrUnreachable, err)
		}

		if i > 0 || !secure || res.StatusCode != http.StatusUnauthorized {
			break
		}
		if !c.auth.Read(res.Header.Get("WWW-Authenticate")) {
			break
		}
	}

	if fault := ParseFault(b); fault != nil {
		if fault.NotAuthorized() {
			return nil, core.NewError(op, c.host, core.ErrAuthenticationFailed, fault)
		}
		return nil, core.NewError(op, c.host, core.ErrProtocol, fault)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, core.NewError(op, c.host, core.ErrAuthenticationFailed, errors.New(res.Status))
	case res.StatusCode != http.StatusOK:
		return nil, core.NewError(op, c.host, core.ErrProtocol, errors.New("wrong response "+res.Status))
	case !bytes.Contains(b, []byte("Envelope")):
		return nil, core.NewError(op, c.host, core.ErrProtocol, fmt.Errorf("not a soap response: %.100q", b))
	}

	return b, nil
}

func (c *Client) roundTrip(ctx context.Context, u *url.URL, body []byte, secure bool) (*http.Response, []byte, error) {
	for attempt := 0; ; attempt++ {
		reused := c.conn != nil
		if !reused {
			dialer := net.Dialer{Timeout: c.Timeout}
			conn, err := dialer.DialContext(ctx, "tcp", c.host)
			if err != nil {
				return nil, nil, err
			}
			c.conn = conn
			c.rd = bufio.NewReaderSize(conn, 16*1024)
		}

		conn := c.conn
		stop := context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})
		res, b, err := c.exchange(u, body, secure)
		stop()

		if err == nil {
			if res.Close {
				c.closeConn()
			}
			return res, b, nil
		}

		c.closeConn()

		// keep-alive connection may be closed by device between requests
		if !reused || attempt > 0 || ctx.Err() != nil {
			return nil, nil, err
		}
	}
}

func (c *Client) exchange(u *url.URL, body []byte, secure bool) (*http.Response, []byte, error) {
	req := &http.Request{
		Method:        "POST",
		URL:           u,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Host:          u.Host,
		Header:        http.Header{"Content-Type": {"application/soap+xml;charset=utf-8"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	if secure {
		if s := c.auth.Header(req.Method, u.RequestURI()); s != "" {
			req.Header.Set("Authorization", s)
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	if err := req.Write(c.conn); err != nil {
		return nil, nil, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	res, err := http.ReadResponse(c.rd, req)
	if err != nil {
		// some cameras send broken headers before a valid xml body
		b, _ := io.ReadAll(c.rd)
		if i := bytes.Index(b, []byte("<?xml")); i >= 0 {
			res = &http.Response{Status: "200 OK", StatusCode: http.StatusOK, Close: true}
			return res, b[i:], nil
		}
		return nil, nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, err
	}

	return res, b, nil
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}
