package capture

import (
	"net/http"
	"strings"
)

// proxyHeaderDenylist lists transport/proxy headers stripped before a
// request is buffered — they describe the hop to the gateway, not the
// caller's actual request.
var proxyHeaderDenylist = map[string]struct{}{
	"accept-encoding":   {},
	"cdn-loop":          {},
	"cf-connecting-ip":  {},
	"cf-ipcountry":      {},
	"cf-ray":            {},
	"cf-visitor":        {},
	"via":               {},
	"x-forwarded-for":   {},
	"x-forwarded-host":  {},
	"x-forwarded-proto": {},
	"x-real-ip":         {},
	"true-client-ip":    {},
}

func isProxyHeader(lowerName string) bool {
	_, ok := proxyHeaderDenylist[lowerName]
	return ok
}

// RealIP resolves the caller's address, preferring a Cloudflare-style
// connecting-IP header, then X-Real-IP, then the first hop of
// X-Forwarded-For, sanitizing the result so it can never carry injected
// control characters into downstream storage.
func RealIP(h http.Header) string {
	if ip := h.Get("CF-Connecting-IP"); ip != "" {
		return sanitizeIP(ip)
	}
	if ip := h.Get("X-Real-IP"); ip != "" {
		return sanitizeIP(ip)
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return sanitizeIP(strings.TrimSpace(first))
	}
	return ""
}

// sanitizeIP restricts the result to characters valid in an IPv4, IPv6, or
// bracketed-IPv6-with-zone address, capped at 45 characters (the longest
// valid IPv6 textual form); anything else sanitizes to empty.
func sanitizeIP(ip string) string {
	if len(ip) > 45 {
		return ""
	}
	for _, r := range ip {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '.' || r == ':' || r == '[' || r == ']' || r == '%':
		default:
			return ""
		}
	}
	return ip
}
