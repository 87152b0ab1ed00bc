package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/camtap/camtap/internal/api"
	"github.com/camtap/camtap/internal/app"
	"github.com/camtap/camtap/pkg/mdns"
	"github.com/camtap/camtap/pkg/onvif"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod Config `yaml:"discovery"`
	}

	cfg.Mod = defaults

	app.LoadConfig(&cfg)

	config = cfg.Mod
	log = app.GetLogger("discovery")

	api.HandleFunc("api/discovery", apiDiscovery).Methods("GET")
}

type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	MDNS    bool          `yaml:"mdns"`
}

var defaults = Config{Timeout: 3 * time.Second, MDNS: true}

var config = defaults
var log = zerolog.Nop()

// Device is one camera found on the local network.
type Device struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Host   string `json:"host"`
	// URL is the ONVIF device service, empty for mDNS entries.
	URL string `json:"url,omitempty"`
	// Stream is a ready stream address, empty for ONVIF devices.
	Stream string `json:"stream,omitempty"`
	EPR    string `json:"epr,omitempty"`
}

const (
	SourceONVIF = "onvif"
	SourceMDNS  = "mdns"
)

var (
	discoverONVIF = onvif.Discover
	browseMDNS    = func(ctx context.Context, timeout time.Duration) ([]*mdns.ServiceEntry, error) {
		return mdns.Browse(ctx, mdns.ServiceRTSP, timeout)
	}
)

// Run probes ONVIF and mDNS at the same time. ONVIF devices come first and
// mDNS entries with an already known host are skipped. Only an ONVIF
// failure is returned, mDNS is best effort.
func Run(ctx context.Context, cfg Config) ([]*Device, error) {
	type result struct {
		entries []*mdns.ServiceEntry
		err     error
	}

	var ch chan result
	if cfg.MDNS {
		ch = make(chan result, 1)
		go func() {
			entries, err := browseMDNS(ctx, cfg.Timeout)
			ch <- result{entries, err}
		}()
	}

	descriptors, err := discoverONVIF(ctx, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	devices := make([]*Device, 0, len(descriptors))
	hosts := map[string]bool{}

	for _, d := range descriptors {
		host := d.Host()
		if host == "" {
			log.Debug().Str("epr", d.EPR).Strs("xaddrs", d.XAddrs).Msg("[discovery] skip device without http address")
			continue
		}

		name := d.Name()
		if name == "" {
			name = host
		}

		devices = append(devices, &Device{
			Name:   name,
			Source: SourceONVIF,
			Host:   host,
			URL:    d.URL(),
			EPR:    d.EPR,
		})
		hosts[hostname(host)] = true
	}

	if ch == nil {
		return devices, nil
	}

	res := <-ch
	if res.err != nil {
		log.Warn().Err(res.err).Msg("[discovery] mdns")
		return devices, nil
	}

	for _, e := range res.entries {
		if hosts[e.IP.String()] {
			continue
		}
		devices = append(devices, &Device{
			Name:   strings.TrimSuffix(e.Name, "."+mdns.ServiceRTSP+".local."),
			Source: SourceMDNS,
			Host:   e.Addr(),
			Stream: e.StreamURL(),
		})
	}

	return devices, nil
}

func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

// Print writes devices as a table for the -discover flag.
func Print(w io.Writer, devices []*Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no cameras found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSOURCE\tHOST\tADDRESS")
	for _, d := range devices {
		addr := d.URL
		if addr == "" {
			addr = d.Stream
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Source, d.Host, addr)
	}
	return tw.Flush()
}

// RunAndPrint is the -discover command.
func RunAndPrint(ctx context.Context, w io.Writer) error {
	devices, err := Run(ctx, config)
	if err != nil {
		return err
	}
	return Print(w, devices)
}

func apiDiscovery(w http.ResponseWriter, r *http.Request) {
	cfg := config

	if s := r.URL.Query().Get("timeout"); s != "" {
		timeout, err := time.ParseDuration(s)
		if err != nil || timeout <= 0 || timeout > time.Minute {
			http.Error(w, "timeout must be a duration up to 1m", http.StatusBadRequest)
			return
		}
		cfg.Timeout = timeout
	}

	devices, err := Run(r.Context(), cfg)
	if err != nil {
		api.Error(w, err)
		return
	}

	log.Debug().Int("count", len(devices)).Msg("[discovery] found")

	api.ResponseJSON(w, struct {
		Devices []*Device `json:"devices"`
	}{devices})
}
