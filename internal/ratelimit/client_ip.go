package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type IPSource string

const (
	SourceRemote       IPSource = "remote"
	SourceForwardedFor IPSource = "x-forwarded-for"
	SourceRealIP       IPSource = "x-real-ip"
)

// ClientIPResolver picks the client identifier used as the rate limit key.
// Forwarded headers are only believed when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	source  IPSource
	trusted []netip.Prefix
}

func NewClientIPResolver(source string, trustedProxies []string) (*ClientIPResolver, error) {
	src := IPSource(strings.ToLower(strings.TrimSpace(source)))
	switch src {
	case "":
		src = SourceRemote
	case SourceRemote, SourceForwardedFor, SourceRealIP:
	default:
		return nil, fmt.Errorf("unknown client ip source: %s", source)
	}

	var trusted []netip.Prefix
	for _, p := range trustedProxies {
		prefix, err := parsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		trusted = append(trusted, prefix)
	}

	return &ClientIPResolver{
		source:  src,
		trusted: trusted,
	}, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (r *ClientIPResolver) ClientIP(req *http.Request) string {
	host := peerHost(req.RemoteAddr)
	peer, ok := parseAddr(host)
	if !ok {
		return host
	}
	if r.source == SourceRemote || !r.isTrusted(peer) {
		return peer.String()
	}

	switch r.source {
	case SourceRealIP:
		if addr, ok := parseAddr(req.Header.Get("X-Real-Ip")); ok {
			return addr.String()
		}
	case SourceForwardedFor:
		var hops []string
		for _, v := range req.Header.Values("X-Forwarded-For") {
			hops = append(hops, strings.Split(v, ",")...)
		}
		// right to left, the first hop that is not one of our proxies is the client
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !r.isTrusted(addr) || i == 0 {
				return addr.String()
			}
		}
	}

	return peer.String()
}
