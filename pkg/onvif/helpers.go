package onvif

import (
	"bytes"
	"encoding/xml"
	"html"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/camtap/camtap/pkg/core"
)

// FindTagValue returns the text of the first element matching tag. The tag
// is a regexp and may span elements, like "Media.+?XAddr". Elements with
// only whitespace inside are skipped.
func FindTagValue(b []byte, tag string) string {
	m := tagRegexp(tag).FindSubmatch(b)
	if len(m) != 2 {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

var tags sync.Map // tag -> *regexp.Regexp

func tagRegexp(tag string) *regexp.Regexp {
	if re, ok := tags.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?s)[<:]` + tag + `\b[^>]*>\s*([^<\s][^<]*)`)
	tags.Store(tag, re)
	return re
}

// FindURI returns an unescaped and trimmed Uri value.
func FindURI(b []byte) string {
	return html.UnescapeString(FindTagValue(b, "Uri"))
}

func EscapeText(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// GetPath returns the path of urlOrPath or def when it is empty.
func GetPath(urlOrPath, def string) string {
	if urlOrPath == "" || urlOrPath[0] == '/' {
		return urlOrPath
	}
	u, err := url.Parse(urlOrPath)
	if err != nil || u.Path == "" {
		return def
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// Rebase keeps path and query of rawURL but points it to host. Cameras behind
// NAT or with several interfaces often advertise a service address that the
// client can't reach.
func Rebase(rawURL, host, def string) string {
	path := GetPath(rawURL, def)
	if path == "" {
		path = def
	}
	return "http://" + host + path
}

func JoinHostPort(host string, port int) string {
	if port == 0 {
		port = 80
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

// ParseDateTime reads the UTCDateTime block of a GetSystemDateAndTime
// response.
func ParseDateTime(b []byte) (time.Time, bool) {
	i := bytes.Index(b, []byte("UTCDateTime"))
	if i < 0 {
		return time.Time{}, false
	}
	b = b[i:]

	year := core.Atoi(FindTagValue(b, "Year"))
	if year == 0 {
		return time.Time{}, false
	}

	return time.Date(
		year,
		time.Month(core.Atoi(FindTagValue(b, "Month"))),
		core.Atoi(FindTagValue(b, "Day")),
		core.Atoi(FindTagValue(b, "Hour")),
		core.Atoi(FindTagValue(b, "Minute")),
		core.Atoi(FindTagValue(b, "Second")),
		0, time.UTC,
	), true
}

// GetRequestAction returns the name of the first element inside Body.
func GetRequestAction(b []byte) string {
	// <soap-env:Body><ns0:GetCapabilities xmlns:ns0="http://www.onvif.org/ver10/device/wsdl">
	// <v:Body><GetSystemDateAndTime xmlns="http://www.onvif.org/ver10/device/wsdl" /></v:Body>
	re := regexp.MustCompile(`Body[^<]+<([^ />]+)`)
	m := re.FindSubmatch(b)
	if len(m) != 2 {
		return ""
	}
	if i := bytes.IndexByte(m[1], ':'); i > 0 {
		return string(m[1][i+1:])
	}
	return string(m[1])
}
