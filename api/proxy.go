package api

import (
	"net"
	"net/http"
	"strings"
)

// proxyTrust lists the peers whose forwarding headers are believed. Entries
// are single addresses or CIDR blocks; invalid entries are ignored.
type proxyTrust struct {
	addrs  []net.IP
	blocks []*net.IPNet
}

func newProxyTrust(entries []string) proxyTrust {
	var p proxyTrust
	for _, raw := range entries {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, block, err := net.ParseCIDR(val); err == nil {
			p.blocks = append(p.blocks, block)
			continue
		}
		if ip := net.ParseIP(val); ip != nil {
			p.addrs = append(p.addrs, ip)
		}
	}
	return p
}

func (p proxyTrust) trusts(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, a := range p.addrs {
		if a.Equal(ip) {
			return true
		}
	}
	for _, b := range p.blocks {
		if b.Contains(ip) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimSpace(host)
}

// clientIP is the peer address unless the peer is a trusted proxy. Then the
// nearest untrusted X-Forwarded-For hop wins, X-Real-IP second.
func (p proxyTrust) clientIP(r *http.Request) string {
	peer := peerAddr(r)
	if !p.trusts(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip != nil && !p.trusts(ip.String()) {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

// forwardedHTTPS reports a TLS connection or X-Forwarded-Proto https sent
// by a trusted proxy.
func (p proxyTrust) forwardedHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if !p.trusts(peerAddr(r)) {
		return false
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
