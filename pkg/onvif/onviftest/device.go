// Package onviftest emulates an ONVIF camera over HTTP for tests.
package onviftest

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/camtap/camtap/pkg/onvif"
	"github.com/camtap/camtap/pkg/tcp"
)

type Device struct {
	Username string
	Password string

	Info     onvif.DeviceInformation
	Profiles []onvif.Profile
	// StreamURIs by profile token, rtsp://<host>:554/<token> by default
	StreamURIs map[string]string

	// Clock is added to the local time to get the device time.
	Clock time.Duration
	// HTTPDigest requires Digest auth on top of WS-Security.
	HTTPDigest bool
	// AdvertiseHost replaces the host in service addresses.
	AdvertiseHost string

	mu      sync.Mutex
	actions []string
	remotes map[string]struct{}
}

// Start serves the device until the test ends and returns its address.
func Start(t testing.TB, d *Device) (host string, port int) {
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	addr := srv.Listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Actions returns the operations the device has answered so far.
func (d *Device) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// Conns returns the number of distinct client connections.
func (d *Device) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.remotes)
}

func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}

	action := onvif.GetRequestAction(b)

	d.mu.Lock()
	d.actions = append(d.actions, action)
	if d.remotes == nil {
		d.remotes = map[string]struct{}{}
	}
	d.remotes[r.RemoteAddr] = struct{}{}
	d.mu.Unlock()

	now := time.Now().Add(d.Clock)

	if action == onvif.DeviceGetSystemDateAndTime {
		write(w, http.StatusOK, onvif.GetSystemDateAndTimeResponse(now))
		return
	}

	if d.HTTPDigest && !d.checkDigest(r) {
		w.Header().Set("WWW-Authenticate", `Digest realm="onviftest", nonce="`+digestNonce+`", qop="auth"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if d.Username != "" && !d.checkToken(b, now) {
		write(w, http.StatusBadRequest, onvif.FaultResponse("s:Sender", "ter:NotAuthorized", "Sender not Authorized"))
		return
	}

	host := d.AdvertiseHost
	if host == "" {
		host = r.Host
	}

	switch action {
	case onvif.DeviceGetCapabilities:
		write(w, http.StatusOK, onvif.GetCapabilitiesResponse(host))
	case onvif.DeviceGetDeviceInformation:
		write(w, http.StatusOK, onvif.GetDeviceInformationResponse(&d.Info))
	case onvif.MediaGetProfiles:
		write(w, http.StatusOK, onvif.GetProfilesResponse(d.Profiles))
	case onvif.MediaGetStreamUri:
		token := onvif.FindTagValue(b, "ProfileToken")
		for _, profile := range d.Profiles {
			if profile.Token == token {
				uri := d.StreamURIs[token]
				if uri == "" {
					h, _, _ := net.SplitHostPort(r.Host)
					uri = "rtsp://" + net.JoinHostPort(h, "554") + "/" + token
				}
				write(w, http.StatusOK, onvif.GetStreamUriResponse(uri))
				return
			}
		}
		write(w, http.StatusBadRequest, onvif.FaultResponse("s:Sender", "ter:InvalidArgVal/ter:NoProfile", "Profile token does not exist"))
	default:
		write(w, http.StatusBadRequest, onvif.FaultResponse("s:Receiver", "ter:ActionNotSupported", action))
	}
}

const digestNonce = "dcd98b7102dd2f0e8b11d0f600bfb0c093"

func (d *Device) checkDigest(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	if h == "" {
		return false
	}

	ha1 := tcp.HexMD5(d.Username, "onviftest", d.Password)
	ha2 := tcp.HexMD5(r.Method, tcp.Between(h, `uri="`, `"`))
	nc := tcp.Between(h, "nc=", ",")
	cnonce := tcp.Between(h, `cnonce="`, `"`)
	response := tcp.HexMD5(ha1, digestNonce, nc, cnonce, "auth", ha2)

	return tcp.Between(h, `response="`, `"`) == response
}

func (d *Device) checkToken(b []byte, now time.Time) bool {
	if onvif.FindTagValue(b, `Username\b`) != d.Username {
		return false
	}

	nonce, err := base64.StdEncoding.DecodeString(onvif.FindTagValue(b, "Nonce"))
	if err != nil {
		return false
	}

	created := onvif.FindTagValue(b, "Created")
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return false
	}
	if skew := ts.Sub(now); skew > 5*time.Second || skew < -5*time.Second {
		return false
	}

	digest := onvif.FindTagValue(b, "wsse:Password")
	return digest == onvif.PasswordDigest(nonce, created, d.Password)
}

func write(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
