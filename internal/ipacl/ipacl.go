// Package ipacl gates the operational pages by the client's source address.
package ipacl

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
)

// Guard matches remote addresses against a fixed set of prefixes. It is
// built once at startup and safe for concurrent use.
type Guard struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// NewGuard creates a guard over the given prefixes.
func NewGuard(prefixes []netip.Prefix, logger *slog.Logger) *Guard {
	p := make([]netip.Prefix, len(prefixes))
	copy(p, prefixes)
	return &Guard{
		prefixes: p,
		logger:   logger.With("subsystem", "ipacl"),
	}
}

// Prefixes returns a copy of the configured prefixes.
func (g *Guard) Prefixes() []netip.Prefix {
	p := make([]netip.Prefix, len(g.prefixes))
	copy(p, g.prefixes)
	return p
}

// Allowed reports whether remoteAddr ("ip" or "ip:port") falls inside one
// of the configured prefixes. A prefix only ever matches addresses of its
// own family. Unparsable input is denied.
func (g *Guard) Allowed(remoteAddr string) bool {
	addr, err := ParseAddr(remoteAddr)
	if err != nil {
		g.logger.Warn("failed to parse remote address for acl match", "remote_addr", remoteAddr, "error", err)
		return false
	}
	for _, prefix := range g.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDR blocks or bare addresses. Bare addresses become
// /32 or /128 prefixes. Blank entries are skipped; any other invalid entry
// is an error naming it.
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		prefix, err := parseCIDROrIP(e)
		if err != nil {
			return nil, fmt.Errorf("invalid dashboard cidr %q: %w", e, err)
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseCIDROrIP(s string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("not a valid ip or cidr")
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParseAddr extracts the address from "ip", "ip:port" or "[ipv6]:port".
// IPv4-mapped IPv6 addresses are unmapped and zones dropped.
func ParseAddr(remoteAddr string) (netip.Addr, error) {
	s := strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap().WithZone(""), nil
}
