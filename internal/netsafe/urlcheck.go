// Package netsafe validates outbound URLs before any fetch: scheme and host
// rules, private/reserved address blocking, IDN homograph rejection.
package netsafe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

const maxURLLength = 2048

var ErrUnsafeURL = errors.New("unsafe url")

var blockedHostnames = map[string]bool{
	"localhost": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var blockedCIDRs = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// ValidateURL checks a URL against the outbound safety rules. A nil return
// means the URL may be fetched.
func ValidateURL(raw string) error {
	if len(raw) > maxURLLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrUnsafeURL, len(raw), maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}
	lhost := strings.ToLower(host)
	if blockedHostnames[lhost] {
		return fmt.Errorf("%w: blocked host %q", ErrUnsafeURL, host)
	}

	// Bare IP literals as host are rejected outright; the CIDR list also
	// covers them for defense against resolver tricks upstream.
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			return fmt.Errorf("%w: bare IPv4 literal host", ErrUnsafeURL)
		}
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: reserved address %q", ErrUnsafeURL, host)
		}
	}

	// Reject IDN hosts that change under NFKC: homograph smuggling.
	if norm.NFKC.String(host) != host {
		return fmt.Errorf("%w: host not NFKC-normalized", ErrUnsafeURL)
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return fmt.Errorf("%w: invalid IDN host: %v", ErrUnsafeURL, err)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	for _, n := range blockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
