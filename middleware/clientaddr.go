package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/relaykit/relay"
)

// HeaderXForwardedFor carries the proxy-appended chain of client addresses.
const HeaderXForwardedFor = "X-Forwarded-For"

// AddrExtractor resolves the client address used as the identity for
// rate limiting and access gating.
//
// By default only the socket peer address is used, which cannot be
// spoofed. When trusted proxy CIDRs are configured and the peer is one
// of them, X-Forwarded-For is walked right to left and the first
// address outside the trusted set is taken as the client.
type AddrExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewAddrExtractor builds an extractor from a list of CIDRs. Single
// addresses are accepted and treated as /32 (or /128) networks. Entries
// that do not parse are skipped.
func NewAddrExtractor(trustedProxies []string) *AddrExtractor {
	e := &AddrExtractor{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			entry = singleAddrToCIDR(entry)
			if entry == "" {
				continue
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			continue
		}
		e.trustedCIDRs = append(e.trustedCIDRs, network)
	}
	return e
}

// Extract returns the client address for the request.
func (e *AddrExtractor) Extract(r *http.Request) string {
	peer := stripPort(r.RemoteAddr)
	if len(e.trustedCIDRs) == 0 || !e.trusted(peer) {
		return peer
	}
	forwarded := r.Header.Get(HeaderXForwardedFor)
	if forwarded == "" {
		return peer
	}
	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := stripPort(strings.TrimSpace(hops[i]))
		if hop == "" || net.ParseIP(hop) == nil {
			continue
		}
		if !e.trusted(hop) {
			return hop
		}
	}
	return peer
}

func (e *AddrExtractor) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range e.trustedCIDRs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientAddr returns the stage that resolves and pins the client
// address on the context before identity-dependent stages run.
func ClientAddr(extractor *AddrExtractor) relay.Handler {
	return func(c *relay.Context) {
		c.SetClientAddr(extractor.Extract(c.Request))
		c.Next()
	}
}

func singleAddrToCIDR(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	if ip.To4() != nil {
		return addr + "/32"
	}
	return addr + "/128"
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
