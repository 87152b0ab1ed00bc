package rtsp

import (
	"bytes"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	KindVideo = "video"
	KindAudio = "audio"

	CodecJPEG = "JPEG"
	CodecH264 = "H264"
	CodecH265 = "H265"
)

type Media struct {
	Kind        string
	Codec       string
	PayloadType uint8
	ClockRate   uint32
	Control     string
	FmtpLine    string
}

func (m *Media) String() string {
	return m.Kind + ", " + m.Codec + "/" + strconv.Itoa(int(m.ClockRate)) + ", " + m.Control
}

// static payload types from RFC 3551
var staticTypes = map[string]struct {
	codec string
	rate  uint32
}{
	"0":  {"PCMU", 8000},
	"8":  {"PCMA", 8000},
	"14": {"MPA", 90000},
	"26": {CodecJPEG, 90000},
	"32": {"MPV", 90000},
}

const sdpHeader = `v=0
o=- 0 0 IN IP4 0.0.0.0
s=-
t=0 0`

var sdpSessionName = regexp.MustCompile("\ns=[^\n]+")

func UnmarshalSDP(rawSDP []byte) ([]*Media, error) {
	// fix bug from Reolink Doorbell
	if i := bytes.Index(rawSDP, []byte("a=sendonlym=")); i > 0 {
		rawSDP = append(rawSDP[:i+11], rawSDP[i+10:]...)
		rawSDP[i+10] = '\n'
	}

	// fix bug in Sonoff camera SDP "o=- 1 1 IN IP4 rom t_rtsplin"
	if i := bytes.Index(rawSDP, []byte("rom t_rtsplin")); i > 0 {
		rawSDP[i+3] = '_'
	}

	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(rawSDP); err != nil {
		// fix multiple `s=`
		rawSDP = sdpSessionName.ReplaceAll(rawSDP, nil)

		// fix SDP header for some cameras
		if i := bytes.Index(rawSDP, []byte("\nm=")); i > 0 {
			rawSDP = append([]byte(sdpHeader), rawSDP[i:]...)
			sd = &sdp.SessionDescription{}
			err = sd.Unmarshal(rawSDP)
		}

		if err != nil {
			return nil, err
		}
	}

	var medias []*Media

	for _, md := range sd.MediaDescriptions {
		if len(md.MediaName.Formats) == 0 {
			continue
		}

		media := &Media{Kind: md.MediaName.Media}
		media.Control, _ = md.Attribute("control")

		format := md.MediaName.Formats[0]
		pt, err := strconv.ParseUint(format, 10, 8)
		if err != nil {
			continue
		}
		media.PayloadType = uint8(pt)

		if st, ok := staticTypes[format]; ok {
			media.Codec, media.ClockRate = st.codec, st.rate
		}

		for _, attr := range md.Attributes {
			value, ok := strings.CutPrefix(attr.Value, format+" ")
			if !ok {
				continue
			}
			switch attr.Key {
			case "rtpmap":
				// 96 H264/90000
				name, rate, _ := strings.Cut(value, "/")
				media.Codec = strings.ToUpper(name)
				if i := strings.IndexByte(rate, '/'); i > 0 {
					rate = rate[:i]
				}
				if n, err := strconv.ParseUint(rate, 10, 32); err == nil {
					media.ClockRate = uint32(n)
				}
			case "fmtp":
				media.FmtpLine = value
			}
		}

		if media.Codec == "" {
			continue
		}

		medias = append(medias, media)
	}

	if len(medias) == 0 {
		return nil, errors.New("rtsp: no supported medias")
	}

	return medias, nil
}

// FindVideo returns the first video media with one of codecs.
func FindVideo(medias []*Media, codecs ...string) *Media {
	for _, media := range medias {
		if media.Kind != KindVideo {
			continue
		}
		for _, codec := range codecs {
			if media.Codec == codec {
				return media
			}
		}
	}
	return nil
}

// urlParse fix bugs:
// 1. Content-Base: rtsp://::ffff:192.168.1.123/onvif/profile.1/
// 2. Content-Base: rtsp://rtsp://turret2-cam.lan:554/stream1/
func urlParse(rawURL string) (*url.URL, error) {
	if strings.HasPrefix(rawURL, "rtsp://rtsp://") {
		rawURL = rawURL[7:]
	}

	u, err := url.Parse(rawURL)
	if err != nil && strings.HasSuffix(err.Error(), "after host") {
		if i1 := strings.Index(rawURL, "://"); i1 > 0 {
			if i2 := strings.IndexByte(rawURL[i1+3:], '/'); i2 > 0 {
				// IPv6 address without brackets, anything else is a broken port
				if net.ParseIP(rawURL[i1+3:i1+3+i2]) == nil {
					return nil, err
				}
				return urlParse(rawURL[:i1+3+i2] + ":" + rawURL[i1+3+i2:])
			}
		}
	}

	return u, err
}
