package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address. Forwarding headers are honoured only
// when trustProxy is set, since anyone can send them to a directly exposed
// server. The first X-Forwarded-For entry wins, then X-Real-IP, then
// RemoteAddr. IPv6 addresses are returned without brackets.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return trimBrackets(ip)
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return trimBrackets(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return trimBrackets(r.RemoteAddr)
	}
	return ip
}

func trimBrackets(ip string) string {
	return strings.TrimSuffix(strings.TrimPrefix(ip, "["), "]")
}

// WriteJSON writes v with the given status. Encoding errors are returned so
// callers can log them; the status line has already been sent by then.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
