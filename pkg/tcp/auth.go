package tcp

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
)

// Auth answers Basic and Digest challenges for RTSP and HTTP requests.
type Auth struct {
	Method byte

	user string
	pass string

	realm  string
	nonce  string
	opaque string
	qop    string
	cnonce string
	nc     int
}

const (
	AuthNone byte = iota
	AuthUnknown
	AuthBasic
	AuthDigest
)

func NewAuth(user *creds.Credentials) *Auth {
	a := new(Auth)
	if !user.Empty() {
		a.user = user.Username
		a.pass = user.Password
		a.Method = AuthUnknown
	}
	return a
}

// Read parses WWW-Authenticate value. Returns false for unsupported
// schemes or when there are no credentials to answer with.
func (a *Auth) Read(challenge string) bool {
	if a == nil || a.Method == AuthNone || len(challenge) < 6 {
		return false
	}

	switch {
	case strings.HasPrefix(challenge, "Basic"):
		a.Method = AuthBasic
		return true
	case strings.HasPrefix(challenge, "Digest"):
		a.realm = Between(challenge, `realm="`, `"`)
		a.nonce = Between(challenge, `nonce="`, `"`)
		a.opaque = Between(challenge, `opaque="`, `"`)
		a.qop = ""
		for _, qop := range strings.Split(Between(challenge, `qop="`, `"`), ",") {
			if strings.TrimSpace(qop) == "auth" {
				a.qop = "auth"
			}
		}
		a.cnonce = core.RandString(16, 16)
		a.nc = 0
		a.Method = AuthDigest
		return true
	}

	return false
}

// Header returns Authorization value for the request or empty string.
func (a *Auth) Header(method, uri string) string {
	if a == nil {
		return ""
	}

	switch a.Method {
	case AuthBasic:
		return "Basic " + B64(a.user, a.pass)
	case AuthDigest:
		ha1 := HexMD5(a.user, a.realm, a.pass)
		ha2 := HexMD5(method, uri)

		var s string
		if a.qop == "" {
			response := HexMD5(ha1, a.nonce, ha2)
			s = fmt.Sprintf(
				`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
				a.user, a.realm, a.nonce, uri, response,
			)
		} else {
			a.nc++
			nc := fmt.Sprintf("%08x", a.nc)
			response := HexMD5(ha1, a.nonce, nc, a.cnonce, a.qop, ha2)
			s = fmt.Sprintf(
				`Digest username="%s", realm="%s", nonce="%s", uri="%s", qop=%s, nc=%s, cnonce="%s", response="%s"`,
				a.user, a.realm, a.nonce, uri, a.qop, nc, a.cnonce, response,
			)
		}
		if a.opaque != "" {
			s += `, opaque="` + a.opaque + `"`
		}
		return s
	}

	return ""
}

func (a *Auth) Write(req *Request) {
	// important to use String except RequestURI for RTSP servers
	if s := a.Header(req.Method, req.URL.String()); s != "" {
		req.Header.Set("Authorization", s)
	}
}

func Between(s, sub1, sub2 string) string {
	i := strings.Index(s, sub1)
	if i < 0 {
		return ""
	}
	s = s[i+len(sub1):]
	i = strings.Index(s, sub2)
	if i < 0 {
		return ""
	}
	return s[:i]
}

func HexMD5(s ...string) string {
	b := md5.Sum([]byte(strings.Join(s, ":")))
	return hex.EncodeToString(b[:])
}

func B64(s ...string) string {
	b := []byte(strings.Join(s, ":"))
	return base64.StdEncoding.EncodeToString(b)
}
