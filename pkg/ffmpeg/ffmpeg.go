package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

type Args struct {
	Bin     string   // ffmpeg
	Global  string   // -hide_banner -v error
	Input   string   // -rtsp_transport tcp -i {input}
	Codecs  []string // -an -pix_fmt yuv420p
	Filters []string // scale=1280:-2
	Output  string   // -f yuv4mpegpipe -
}

func (a *Args) AddCodec(codec string) {
	a.Codecs = append(a.Codecs, codec)
}

func (a *Args) AddFilter(filter string) {
	a.Filters = append(a.Filters, filter)
}

func (a *Args) HasFilters(filters ...string) bool {
	for _, f1 := range a.Filters {
		for _, f2 := range filters {
			if strings.HasPrefix(f1, f2) {
				return true
			}
		}
	}

	return false
}

func (a *Args) String() string {
	b := bytes.NewBuffer(make([]byte, 0, 512))

	b.WriteString(a.Bin)

	if a.Global != "" {
		b.WriteByte(' ')
		b.WriteString(a.Global)
	}

	b.WriteByte(' ')
	b.WriteString(a.Input)

	for _, codec := range a.Codecs {
		b.WriteByte(' ')
		b.WriteString(codec)
	}

	if len(a.Filters) > 0 {
		for i, filter := range a.Filters {
			if i == 0 {
				b.WriteString(` -vf "`)
			} else {
				b.WriteByte(',')
			}
			b.WriteString(filter)
		}
		b.WriteByte('"')
	}

	b.WriteByte(' ')
	b.WriteString(a.Output)

	return b.String()
}

// Version returns the version from the first line of `ffmpeg -version`.
func Version(ctx context.Context, bin string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, "-version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	// ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers
	firstLine, _, _ := strings.Cut(out.String(), "\n")
	fields := strings.Fields(firstLine)
	if len(fields) < 3 {
		return "", errors.New("ffmpeg: wrong version output: " + firstLine)
	}
	return fields[2], nil
}
