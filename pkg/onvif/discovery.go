package onvif

import (
	"context"
	"encoding/xml"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/camtap/camtap/pkg/core"
	"github.com/google/uuid"
)

const DiscoveryAddr = "239.255.255.250:3702"

// Descriptor is one device answered to a WS-Discovery probe.
type Descriptor struct {
	EPR    string    `json:"epr"`
	XAddrs []string  `json:"xaddrs"`
	Types  []string  `json:"types,omitempty"`
	Scopes []string  `json:"scopes,omitempty"`
	Time   time.Time `json:"time"`
}

// URL returns the first http XAddr.
func (d *Descriptor) URL() string {
	for _, s := range d.XAddrs {
		if u, err := url.Parse(s); err == nil && u.Scheme == "http" && u.Host != "" {
			return s
		}
	}
	return ""
}

// Host returns host:port of the first http XAddr.
func (d *Descriptor) Host() string {
	if u, err := url.Parse(d.URL()); err == nil {
		return u.Host
	}
	return ""
}

// Scope returns the decoded value of onvif://www.onvif.org/<key>/<value>.
func (d *Descriptor) Scope(key string) string {
	prefix := "onvif://www.onvif.org/" + key + "/"
	for _, s := range d.Scopes {
		if strings.HasPrefix(s, prefix) {
			v, err := url.PathUnescape(s[len(prefix):])
			if err != nil {
				return s[len(prefix):]
			}
			return v
		}
	}
	return ""
}

func (d *Descriptor) Name() string {
	if name := d.Scope("name"); name != "" {
		return name
	}
	return d.Scope("hardware")
}

type Discoverer struct {
	// Addr is the probe destination, DiscoveryAddr by default.
	Addr string
	// Types narrows the probe, like "dn:NetworkVideoTransmitter". Empty
	// probe is answered by any device.
	Types string
}

// Discover probes the local network with default settings.
func Discover(ctx context.Context, timeout time.Duration) ([]*Descriptor, error) {
	return (&Discoverer{}).Discover(ctx, timeout)
}

// Discover sends one probe and collects answers until timeout. Devices
// are deduplicated by endpoint reference and ordered by first answer.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) ([]*Descriptor, error) {
	const op = "onvif: discover"

	if timeout <= 0 {
		return nil, core.NewError(op, "", core.ErrInvalidArgument, errors.New("timeout must be positive"))
	}
	if err := core.ContextError(ctx, op, ""); err != nil {
		return nil, err
	}

	addr := d.Addr
	if addr == "" {
		addr = DiscoveryAddr
	}

	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, core.NewError(op, addr, core.ErrInvalidArgument, err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, core.NewError(op, addr, core.ErrUnreachable, err)
	}
	defer conn.Close()

	messageID := "uuid:" + uuid.NewString()

	if _, err = conn.WriteTo(ProbeMessage(messageID, d.Types), dst); err != nil {
		return nil, core.NewError(op, addr, core.ErrUnreachable, err)
	}

	if err = conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, core.NewError(op, addr, core.ErrUnreachable, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var items []*Descriptor
	seen := map[string]bool{}

	b := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(b)
		if err != nil {
			break
		}

		matches, err := ParseProbeMatches(b[:n], messageID)
		if err != nil {
			continue
		}

		for _, item := range matches {
			// first answer wins, later XAddrs of the same device are ignored
			if seen[item.EPR] {
				continue
			}
			seen[item.EPR] = true
			items = append(items, item)
		}
	}

	// the loop ends on deadline either way, so check who set it
	if err = core.ContextError(ctx, op, ""); err != nil {
		return nil, err
	}

	return items, nil
}

func ProbeMessage(messageID, types string) []byte {
	var probe string
	if types != "" {
		probe = `<d:Probe><d:Types xmlns:dn="http://www.onvif.org/ver10/network/wsdl" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">` + EscapeText(types) + `</d:Types></d:Probe>`
	} else {
		probe = `<d:Probe/>`
	}

	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing" xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
	<s:Header>
		<a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
		<a:MessageID>` + messageID + `</a:MessageID>
		<a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
	</s:Header>
	<s:Body>
		` + probe + `
	</s:Body>
</s:Envelope>`)
}

type probeEnvelope struct {
	Header struct {
		RelatesTo string `xml:"RelatesTo"`
	} `xml:"Header"`
	Body struct {
		Matches []struct {
			EPR    string `xml:"EndpointReference>Address"`
			Types  string `xml:"Types"`
			Scopes string `xml:"Scopes"`
			XAddrs string `xml:"XAddrs"`
		} `xml:"ProbeMatches>ProbeMatch"`
	} `xml:"Body"`
}

// ParseProbeMatches reads ProbeMatches answer. Answers to other probes are
// ignored when messageID is not empty.
func ParseProbeMatches(b []byte, messageID string) ([]*Descriptor, error) {
	var env probeEnvelope
	if err := xml.Unmarshal(b, &env); err != nil {
		return nil, err
	}

	if messageID != "" && env.Header.RelatesTo != "" && strings.TrimSpace(env.Header.RelatesTo) != messageID {
		return nil, errors.New("onvif: answer to another probe")
	}

	now := time.Now()

	var items []*Descriptor
	for _, m := range env.Body.Matches {
		xaddrs := strings.Fields(m.XAddrs)
		if len(xaddrs) == 0 {
			continue
		}

		epr := strings.TrimSpace(m.EPR)
		if epr == "" {
			epr = xaddrs[0]
		}

		items = append(items, &Descriptor{
			EPR:    epr,
			XAddrs: xaddrs,
			Types:  strings.Fields(m.Types),
			Scopes: strings.Fields(m.Scopes),
			Time:   now,
		})
	}
	return items, nil
}
