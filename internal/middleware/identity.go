package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-auction/internal/model"
)

const identityKey = "identity"

func setIdentity(c echo.Context, id model.Identity) {
	c.Set(identityKey, id)
	c.Set("user_id", strconv.FormatUint(id.UserID, 10))
	c.Set("role", id.Role)
}

// IdentityFrom returns the identity stored by JWTAuth.
func IdentityFrom(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(identityKey).(model.Identity)
	return id, ok
}

// userID returns the caller's id for rate-limit keys, or "anon".
func userID(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.UserID, 10)
	}
	return "anon"
}
