package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiHeaders apply to every JSON API response. The API serves patient data
// and never HTML, so nothing may be cached, framed or sniffed.
var apiHeaders = [][2]string{
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders is mounted on the /api group only; the static front end
// needs scripts and styles that the API CSP forbids. hsts adds
// Strict-Transport-Security and should be on when the portal is served over
// TLS in production.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if hsts {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
