package onvif

import (
	"bytes"
	"encoding/xml"
	"errors"
	"regexp"
	"strings"
)

type Profile struct {
	Token    string `json:"token"`
	Name     string `json:"name,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Transport is the StreamSetup of GetStreamUri.
type Transport struct {
	Stream   string `json:"stream"`   // RTP-Unicast, RTP-Multicast
	Protocol string `json:"protocol"` // RTSP, UDP, HTTP
}

var TransportRTSP = Transport{Stream: "RTP-Unicast", Protocol: "RTSP"}

type profilesEnvelope struct {
	Body struct {
		Response *struct {
			Profiles []struct {
				Token   string `xml:"token,attr"`
				Name    string `xml:"Name"`
				Encoder *struct {
					Encoding   string `xml:"Encoding"`
					Resolution struct {
						Width  int `xml:"Width"`
						Height int `xml:"Height"`
					} `xml:"Resolution"`
				} `xml:"VideoEncoderConfiguration"`
			} `xml:"Profiles"`
		} `xml:"GetProfilesResponse"`
	} `xml:"Body"`
}

// ParseProfiles reads GetProfilesResponse. Profiles without token are
// skipped since they can't be requested.
func ParseProfiles(b []byte) ([]Profile, error) {
	var env profilesEnvelope
	if err := xml.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if env.Body.Response == nil {
		return nil, errors.New("no GetProfilesResponse")
	}

	profiles := make([]Profile, 0, len(env.Body.Response.Profiles))
	for _, p := range env.Body.Response.Profiles {
		if p.Token == "" {
			continue
		}
		profile := Profile{Token: p.Token, Name: strings.TrimSpace(p.Name)}
		if p.Encoder != nil {
			profile.Encoding = strings.TrimSpace(p.Encoder.Encoding)
			profile.Width = p.Encoder.Resolution.Width
			profile.Height = p.Encoder.Resolution.Height
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// Fault is a SOAP 1.2 (or 1.1) fault returned by the device.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	s := "soap fault " + f.Code
	if f.Subcode != "" {
		s += "/" + f.Subcode
	}
	if f.Reason != "" {
		s += ": " + f.Reason
	}
	return s
}

func (f *Fault) is(names ...string) bool {
	for _, name := range names {
		if strings.Contains(f.Code, name) || strings.Contains(f.Subcode, name) {
			return true
		}
	}
	return false
}

func (f *Fault) NotAuthorized() bool {
	return f.is("NotAuthorized", "FailedAuthentication")
}

// UnknownProfile is true for GetStreamUri with a token the device doesn't
// have: ter:InvalidArgVal/ter:NoProfile. Some devices skip the nested
// subcode and only name the profile in the reason.
func (f *Fault) UnknownProfile() bool {
	if f.is("NoProfile") {
		return true
	}
	return f.is("InvalidArgVal") && strings.Contains(strings.ToLower(f.Reason), "profile")
}

var (
	faultRe = regexp.MustCompile(`<([\w-]+:)?Fault[\s>]`)
	valueRe = regexp.MustCompile(`<(?:[\w-]+:)?Value\b[^>]*>\s*([^<\s][^<]*)`)
)

func ParseFault(b []byte) *Fault {
	if !faultRe.Match(b) {
		return nil
	}

	f := &Fault{}
	if i := bytes.Index(b, []byte("Subcode")); i > 0 {
		f.Code = FindTagValue(b[:i], "Code.+?Value")

		// subcodes may be nested, keep the whole chain
		sub := b[i:]
		if j := bytes.Index(sub, []byte("Reason")); j > 0 {
			sub = sub[:j]
		}
		var values []string
		for _, m := range valueRe.FindAllSubmatch(sub, -1) {
			values = append(values, strings.TrimSpace(string(m[1])))
		}
		f.Subcode = strings.Join(values, "/")
	} else {
		f.Code = FindTagValue(b, "Code.+?Value")
	}
	if f.Code == "" {
		f.Code = FindTagValue(b, "faultcode")
	}

	if f.Reason = FindTagValue(b, "Reason.+?Text"); f.Reason == "" {
		f.Reason = FindTagValue(b, "faultstring")
	}
	f.Reason = strings.TrimSpace(f.Reason)

	return f
}
