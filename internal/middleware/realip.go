package middleware

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const clientIPKey = "client_ip"

// ProxyHeaders are the request headers consulted for the client address,
// in order of preference.
type ProxyHeaders struct {
	ForwardedFor   string
	RealIP         string
	CFConnectingIP string
}

// ExtractClientIP returns the first valid address among the first
// X-Forwarded-For entry, X-Real-IP and CF-Connecting-IP, falling back to
// the peer address.
func ExtractClientIP(h ProxyHeaders, remote string) string {
	if h.ForwardedFor != "" {
		first, _, _ := strings.Cut(h.ForwardedFor, ",")
		if ip, ok := validIP(first); ok {
			return ip
		}
	}
	if ip, ok := validIP(h.RealIP); ok {
		return ip
	}
	if ip, ok := validIP(h.CFConnectingIP); ok {
		return ip
	}
	return remote
}

func validIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return "", false
	}
	return s, true
}

// RealIP resolves the client address once per request. With trusted proxies
// configured, forwarding headers are honoured only from those peers.
func RealIP(trustedProxies []string) fiber.Handler {
	var trusted []netip.Prefix
	for _, p := range trustedProxies {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			trusted = append(trusted, prefix.Masked())
		} else if addr, err := netip.ParseAddr(p); err == nil {
			trusted = append(trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		}
	}

	return func(c *fiber.Ctx) error {
		remote := c.Context().RemoteIP().String()

		ip := remote
		if len(trusted) == 0 || isTrusted(trusted, remote) {
			ip = ExtractClientIP(ProxyHeaders{
				ForwardedFor:   c.Get(fiber.HeaderXForwardedFor),
				RealIP:         c.Get("X-Real-IP"),
				CFConnectingIP: c.Get("CF-Connecting-IP"),
			}, remote)
		}

		c.Locals(clientIPKey, ip)
		return c.Next()
	}
}

func isTrusted(trusted []netip.Prefix, remote string) bool {
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address resolved by RealIP, or the peer address when
// the middleware did not run.
func ClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return c.Context().RemoteIP().String()
}
