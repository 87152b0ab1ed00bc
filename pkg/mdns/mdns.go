package mdns

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceRTSP is advertised by cameras and NVRs that publish their streams.
const ServiceRTSP = "_rtsp._tcp"

type ServiceEntry struct {
	Name string   `json:"name"`
	Host string   `json:"host,omitempty"`
	IP   net.IP   `json:"ip"`
	Port int      `json:"port"`
	Info []string `json:"info,omitempty"`
}

func (e *ServiceEntry) Addr() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

// Value returns the TXT record value for key.
func (e *ServiceEntry) Value(key string) string {
	for _, s := range e.Info {
		if k, v, ok := strings.Cut(s, "="); ok && strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// StreamURL builds rtsp address from the entry and its "path" TXT value.
func (e *ServiceEntry) StreamURL() string {
	path := e.Value("path")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "rtsp://" + e.Addr() + path
}

// Browse queries service for timeout and returns unique complete entries
// in arrival order.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]*ServiceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make(chan *mdns.ServiceEntry, 16)

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errs := make(chan error, 1)
	go func() {
		errs <- mdns.Query(params)
		close(entries)
	}()

	var items []*ServiceEntry

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return items, <-errs
			}
			items = appendEntry(items, entry)
		case <-ctx.Done():
			// query stops on its own timeout
			go func() {
				for range entries {
				}
			}()
			return nil, ctx.Err()
		}
	}
}

func appendEntry(items []*ServiceEntry, entry *mdns.ServiceEntry) []*ServiceEntry {
	item := newEntry(entry)
	if item == nil {
		return items
	}
	for _, other := range items {
		if other.Name == item.Name {
			return items
		}
	}
	return append(items, item)
}

func newEntry(entry *mdns.ServiceEntry) *ServiceEntry {
	ip := entry.AddrV4
	if ip == nil {
		ip = entry.AddrV6
	}
	if ip == nil || entry.Port == 0 {
		return nil
	}
	return &ServiceEntry{
		Name: entry.Name,
		Host: strings.TrimSuffix(entry.Host, "."),
		IP:   ip,
		Port: entry.Port,
		Info: entry.InfoFields,
	}
}
