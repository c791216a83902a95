package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// RealIP replaces request RemoteAddr with client address reported by a trusted proxy.
// Forwarding headers sent by any other peer are ignored, so clients can't pick their own address.
//
// X-Forwarded-For is walked from the right and the first hop outside trusted list is the client.
// X-Real-IP is used only when the list names no such hop.
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	isTrusted := func(addr netip.Addr) bool {
		addr = addr.Unmap()
		for _, p := range trusted {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, err := netip.ParseAddrPort(r.RemoteAddr)
			if err == nil && isTrusted(peer.Addr()) {
				if client, ok := forwardedClient(r.Header, isTrusted); ok {
					r.RemoteAddr = netip.AddrPortFrom(client, peer.Port()).String()
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClient(h http.Header, isTrusted func(netip.Addr) bool) (netip.Addr, bool) {
	hops := strings.Split(strings.Join(h.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// Hops left of garbage are not trusted either
			break
		}
		if !isTrusted(addr) {
			return addr.Unmap(), true
		}
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(h.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}

	return netip.Addr{}, false
}

// ParseTrustedProxies parses IP addresses and CIDR ranges. Single address is a range of its own.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	res := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			res = append(res, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		res = append(res, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return res, nil
}
