package yggdrasil

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ParsedEntry is one tendermint persistent peer, e.g. "<id>@ygg://[200::1]:4224".
type ParsedEntry struct {
	ID      string
	Proto   string
	Address string
	Port    *int // nil when absent
}

// IsOverlay reports whether the peer is reached through Yggdrasil.
func (e ParsedEntry) IsOverlay() bool { return e.Proto == "ygg" }

// TCPAddr resolves the entry to a literal TCP address.
func (e ParsedEntry) TCPAddr() (*net.TCPAddr, error) {
	ip := net.ParseIP(e.Address)
	if ip == nil {
		return nil, fmt.Errorf("peer %s: %q is not an IP address", e.ID, e.Address)
	}
	if e.Port == nil {
		return nil, fmt.Errorf("peer %s: missing port", e.ID)
	}
	return &net.TCPAddr{IP: ip, Port: *e.Port}, nil
}

var entryPattern = regexp.MustCompile(`^([a-fA-F0-9]+)@((?:[a-zA-Z]+://)?(?:\[[^\]]+\]|[^:]+))(?:[:](\d+))?$`)

// ParseEntries splits a comma-separated persistent peer list.
func ParseEntries(input string) ([]ParsedEntry, error) {
	var result []ParsedEntry
	for _, entry := range strings.Split(input, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		m := entryPattern.FindStringSubmatch(entry)
		if m == nil {
			return nil, fmt.Errorf("invalid entry: %s", entry)
		}

		parsed := ParsedEntry{ID: m[1], Address: m[2]}
		if proto, addr, ok := strings.Cut(m[2], "://"); ok {
			parsed.Proto, parsed.Address = proto, addr
		}
		parsed.Address = strings.TrimSuffix(strings.TrimPrefix(parsed.Address, "["), "]")

		if m[3] != "" {
			p, err := strconv.Atoi(m[3])
			if err != nil || p > 65535 {
				return nil, fmt.Errorf("invalid port in entry: %s", entry)
			}
			parsed.Port = &p
		}
		result = append(result, parsed)
	}
	return result, nil
}
