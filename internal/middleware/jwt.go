package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-auction/internal/model"
	"github.com/iliyamo/live-auction/internal/utils"
)

// AccessTokenCookie is the cookie browsers may use instead of a header.
const AccessTokenCookie = "access_token"

// JWTAuth returns an Echo middleware that validates the caller's access
// token and stores the resulting identity in the context.  Handlers read
// it back with IdentityFrom.  The secret must match the one used when
// issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := TokenFromRequest(c.Request())
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			id, err := utils.ParseIdentity(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			setIdentity(c, id)
			return next(c)
		}
	}
}

// Authenticator verifies plain HTTP requests; the websocket handshake
// uses it before upgrading.
func Authenticator(secret string) func(r *http.Request) (model.Identity, error) {
	return func(r *http.Request) (model.Identity, error) {
		raw := TokenFromRequest(r)
		if raw == "" {
			return model.Identity{}, utils.ErrInvalidToken
		}
		return utils.ParseIdentity(secret, raw)
	}
}

// TokenFromRequest looks for a token in the Authorization header, then
// the "token" query parameter (browsers cannot set headers on a
// websocket upgrade), then the access token cookie.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); raw != "" {
			return raw
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("token")); raw != "" {
		return raw
	}
	if ck, err := r.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}
