package admission

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc resolves the client identity a request is rate limited under.
type KeyFunc func(r *http.Request) string

// KeyStrategy picks ForwardedKey when the service sits behind a trusted proxy
// and RemoteAddrKey otherwise.
func KeyStrategy(trustProxy bool) KeyFunc {
	if trustProxy {
		return ForwardedKey
	}
	return RemoteAddrKey
}

// RemoteAddrKey uses the transport peer address, ignoring headers.
func RemoteAddrKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedKey trusts proxy headers in this order: the first X-Forwarded-For
// entry that is an IP, X-Real-IP, the first for= of Forwarded, then the peer
// address.
func ForwardedKey(r *http.Request) string {
	for _, xff := range r.Header.Values("X-Forwarded-For") {
		for _, entry := range strings.Split(xff, ",") {
			if ip := parseIP(entry); ip != "" {
				return ip
			}
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		if ip := forwardedFor(fwd); ip != "" {
			return ip
		}
	}
	return RemoteAddrKey(r)
}

// forwardedFor extracts the for= node of the first element of an RFC 7239
// Forwarded header.
func forwardedFor(v string) string {
	first, _, _ := strings.Cut(v, ",")
	for _, pair := range strings.Split(first, ";") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(k, "for") {
			continue
		}
		val = strings.Trim(val, `"`)
		if strings.HasPrefix(val, "[") {
			// [2001:db8::1]:4711
			if end := strings.Index(val, "]"); end > 0 {
				return parseIP(val[1:end])
			}
			return ""
		}
		if host, _, err := net.SplitHostPort(val); err == nil {
			val = host
		}
		return parseIP(val)
	}
	return ""
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
