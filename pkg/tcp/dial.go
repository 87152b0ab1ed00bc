package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"

	"github.com/camtap/camtap/pkg/core"
)

// Dial opens TCP or TLS connection for rtsp, rtsps and rtspx urls.
// rtspx is rtsps without certificate verification.
func Dial(ctx context.Context, u *url.URL, port string) (net.Conn, error) {
	hostname := u.Hostname()
	address := u.Host
	if u.Port() == "" {
		address = net.JoinHostPort(hostname, port)
	}

	var secure *tls.Config

	switch u.Scheme {
	case "rtsp":
	case "rtsps", "rtspx":
		if u.Scheme == "rtspx" || net.ParseIP(hostname) != nil {
			secure = &tls.Config{InsecureSkipVerify: true}
		} else {
			secure = &tls.Config{ServerName: hostname}
		}
	default:
		return nil, errors.New("unsupported scheme: " + u.Scheme)
	}

	dialer := net.Dialer{Timeout: core.ConnDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if secure == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, secure)
	if err = tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return tlsConn, nil
}
