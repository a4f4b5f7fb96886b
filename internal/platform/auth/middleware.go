package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/portal/internal/platform/apperr"
)

type contextKey string

const claimsKey contextKey = "session_claims"

// JWTMiddleware requires a bearer session token. A missing header is 401; a
// token that fails verification or has expired is 403.
func JWTMiddleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apperr.Unauthorized("missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return apperr.Unauthorized("invalid authorization format")
			}

			claims, err := issuer.Parse(strings.TrimSpace(tokenStr))
			if err != nil {
				return apperr.Forbidden("invalid or expired token")
			}

			c.Set("user_id", claims.UserID)
			c.SetRequest(c.Request().WithContext(WithClaims(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the session claims set by JWTMiddleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// CurrentUser returns the authenticated claims or an Unauthorized error.
func CurrentUser(c echo.Context) (*Claims, error) {
	claims := ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	return claims, nil
}
