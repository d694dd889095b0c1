package authapi

import (
	"net"
	"net/http"
	"strings"

	"motionhub/cmd/identity"
)

func toUserResponse(a identity.Account) userResponse {
	return userResponse{
		ID:              a.ID,
		Email:           a.Email,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		ThemePreference: a.ThemePreference,
		EmailVerified:   a.IsVerified,
		CreatedAt:       a.CreatedAt,
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the first parseable hop, the client as seen by the outermost proxy.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for p := range strings.SplitSeq(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
