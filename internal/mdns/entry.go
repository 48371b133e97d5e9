package mdns

import (
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Entry is a resolved service instance.
type Entry struct {
	Instance string
	Host     string
	Port     int
	AddrIPv4 []net.IP
	AddrIPv6 []net.IP
	Text     map[string]string
	TTL      uint32
}

// IP returns the preferred address, IPv4 first.
func (e Entry) IP() net.IP {
	if len(e.AddrIPv4) > 0 {
		return e.AddrIPv4[0]
	}
	if len(e.AddrIPv6) > 0 {
		return e.AddrIPv6[0]
	}
	return nil
}

// Resolvable reports whether the entry carries an address and port.
func (e Entry) Resolvable() bool {
	return e.IP() != nil && e.Port > 0
}

// TXT returns a TXT value by key.
func (e Entry) TXT(key string) string {
	return e.Text[key]
}

func fromServiceEntry(se *zeroconf.ServiceEntry) Entry {
	return Entry{
		Instance: se.Instance,
		Host:     strings.TrimSuffix(se.HostName, "."),
		Port:     se.Port,
		AddrIPv4: se.AddrIPv4,
		AddrIPv6: se.AddrIPv6,
		Text:     parseTXT(se.Text),
		TTL:      se.TTL,
	}
}

// parseTXT splits "key=value" records. Keys without '=' map to "".
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
