package utils

import (
	"net/http"
	"strings"
)

// ExtractIP resolves the viewer address recorded on view events and used
// as the rate-limit key. The gateway in front of this service sets proxy
// headers, so those win over the socket peer.
func ExtractIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// First entry in the chain is the original client.
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// RemoteAddr carries host:port; the event row wants the bare host.
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// PathSegment returns the idx-th segment of the URL path, "" when absent.
func PathSegment(path string, idx int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if idx < 0 || idx >= len(parts) {
		return ""
	}
	return parts[idx]
}
