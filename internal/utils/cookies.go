package utils

import (
	"fmt"
	"net/http"
	"time"
)

// Cookie names follow the __Host- prefix rule (no Domain attribute allowed).
const SessionCookieName = "__Host-sessionToken"

// SetSessionCookie writes the browser session token as a secure cookie,
// plus the response headers recommended for token-bearing responses.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	if token == "" {
		return
	}

	w.Header().Add("Set-Cookie",
		fmt.Sprintf("%s=%s; Path=/; Max-Age=%d; SameSite=Lax; Secure; HttpOnly; Priority=High",
			SessionCookieName,
			token,
			int(ttl.Seconds()),
		))

	addSecurityHeaders(w)
}

// ClearSessionCookie deletes the session cookie (browser logout).
func ClearSessionCookie(w http.ResponseWriter) {
	expired := time.Now().Add(-1 * time.Hour).UTC().Format(http.TimeFormat)

	w.Header().Add("Set-Cookie",
		fmt.Sprintf("%s=; Path=/; Expires=%s; Max-Age=0; SameSite=Lax; Secure; HttpOnly; Priority=High",
			SessionCookieName,
			expired,
		))

	addSecurityHeaders(w)
}

func addSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
}
