package onvif

import (
	"strconv"
	"strings"
	"time"
)

// Response builders for the device side. Used by onviftest to emulate
// cameras.

func GetCapabilitiesResponse(host string) []byte {
	e := NewEnvelope()
	e.Append(`<tds:GetCapabilitiesResponse>
	<tds:Capabilities>
		<tt:Device>
			<tt:XAddr>http://`, host, `/onvif/device_service</tt:XAddr>
		</tt:Device>
		<tt:Media>
			<tt:XAddr>http://`, host, `/onvif/media_service</tt:XAddr>
			<tt:StreamingCapabilities>
				<tt:RTPMulticast>false</tt:RTPMulticast>
				<tt:RTP_TCP>false</tt:RTP_TCP>
				<tt:RTP_RTSP_TCP>true</tt:RTP_RTSP_TCP>
			</tt:StreamingCapabilities>
		</tt:Media>
	</tds:Capabilities>
</tds:GetCapabilitiesResponse>`)
	return e.Bytes()
}

func GetSystemDateAndTimeResponse(now time.Time) []byte {
	utc := now.UTC()

	e := NewEnvelope()
	e.Appendf(`<tds:GetSystemDateAndTimeResponse>
	<tds:SystemDateAndTime>
		<tt:DateTimeType>NTP</tt:DateTimeType>
		<tt:DaylightSavings>false</tt:DaylightSavings>
		<tt:TimeZone>
			<tt:TZ>UTC0</tt:TZ>
		</tt:TimeZone>
		<tt:UTCDateTime>
			<tt:Time><tt:Hour>%d</tt:Hour><tt:Minute>%d</tt:Minute><tt:Second>%d</tt:Second></tt:Time>
			<tt:Date><tt:Year>%d</tt:Year><tt:Month>%d</tt:Month><tt:Day>%d</tt:Day></tt:Date>
		</tt:UTCDateTime>
	</tds:SystemDateAndTime>
</tds:GetSystemDateAndTimeResponse>`,
		utc.Hour(), utc.Minute(), utc.Second(), utc.Year(), utc.Month(), utc.Day(),
	)
	return e.Bytes()
}

func GetDeviceInformationResponse(info *DeviceInformation) []byte {
	e := NewEnvelope()
	e.Append(`<tds:GetDeviceInformationResponse>
	<tds:Manufacturer>`, EscapeText(info.Manufacturer), `</tds:Manufacturer>
	<tds:Model>`, EscapeText(info.Model), `</tds:Model>
	<tds:FirmwareVersion>`, EscapeText(info.FirmwareVersion), `</tds:FirmwareVersion>
	<tds:SerialNumber>`, EscapeText(info.SerialNumber), `</tds:SerialNumber>
	<tds:HardwareId>`, EscapeText(info.HardwareID), `</tds:HardwareId>
</tds:GetDeviceInformationResponse>`)
	return e.Bytes()
}

func GetProfilesResponse(profiles []Profile) []byte {
	e := NewEnvelope()
	e.Append(`<trt:GetProfilesResponse>
`)
	for _, profile := range profiles {
		appendProfile(e, profile)
	}
	e.Append(`</trt:GetProfilesResponse>`)
	return e.Bytes()
}

func appendProfile(e *Envelope, profile Profile) {
	token := EscapeText(profile.Token)
	width := strconv.Itoa(profile.Width)
	height := strconv.Itoa(profile.Height)

	e.Append(`<trt:Profiles token="`, token, `" fixed="true">
	<tt:Name>`, EscapeText(profile.Name), `</tt:Name>
	<tt:VideoSourceConfiguration token="VSC">
		<tt:Name>VSC</tt:Name>
		<tt:SourceToken>VS</tt:SourceToken>
		<tt:Bounds x="0" y="0" width="`, width, `" height="`, height, `"></tt:Bounds>
	</tt:VideoSourceConfiguration>
	<tt:VideoEncoderConfiguration token="`, token, `">
		<tt:Name>VEC</tt:Name>
		<tt:Encoding>`, EscapeText(profile.Encoding), `</tt:Encoding>
		<tt:Resolution><tt:Width>`, width, `</tt:Width><tt:Height>`, height, `</tt:Height></tt:Resolution>
		<tt:RateControl />
	</tt:VideoEncoderConfiguration>
</trt:Profiles>
`)
}

func GetStreamUriResponse(uri string) []byte {
	e := NewEnvelope()
	e.Append(`<trt:GetStreamUriResponse><trt:MediaUri><tt:Uri>`, EscapeText(uri), `</tt:Uri></trt:MediaUri></trt:GetStreamUriResponse>`)
	return e.Bytes()
}

// FaultResponse builds SOAP 1.2 fault like ter:NotAuthorized. Nested
// subcodes are separated by slash: ter:InvalidArgVal/ter:NoProfile.
func FaultResponse(code, subcode, reason string) []byte {
	var sub string
	values := strings.Split(subcode, "/")
	for i := len(values) - 1; i >= 0; i-- {
		sub = `<s:Subcode><s:Value>` + values[i] + `</s:Value>` + sub + `</s:Subcode>`
	}

	e := NewEnvelope()
	e.Append(`<s:Fault>
	<s:Code>
		<s:Value>`, code, `</s:Value>
		`, sub, `
	</s:Code>
	<s:Reason><s:Text xml:lang="en">`, EscapeText(reason), `</s:Text></s:Reason>
</s:Fault>`)
	return e.Bytes()
}
