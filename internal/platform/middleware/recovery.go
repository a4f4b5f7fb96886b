package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 and logs it with the request id,
// the matched route and, on authenticated routes, the portal user.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Interface("panic", r).
					Str("stack", string(debug.Stack()))
				if uid, ok := c.Get("user_id").(int64); ok {
					evt = evt.Int64("user_id", uid)
				}
				evt.Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "Internal server error.")
			}()
			return next(c)
		}
	}
}
