package middleware

// identity.go holds the context keys the auth middleware fills in and the
// accessors handlers and other middleware read them through.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/service"
)

const (
	ctxAccountID = "account_id"
	ctxRole      = "role"
)

// AccountID returns the authenticated account id, or "" when the request
// is anonymous.
func AccountID(c echo.Context) string {
	s, _ := c.Get(ctxAccountID).(string)
	return s
}

// Role returns the authenticated role, or "" when anonymous.
func Role(c echo.Context) model.Role {
	r, _ := c.Get(ctxRole).(model.Role)
	return r
}

func setIdentity(c echo.Context, cl service.Claims) {
	c.Set(ctxAccountID, cl.AccountID)
	c.Set(ctxRole, cl.Role)
}

// currentUserID is the rate limit and cache key component for the caller.
func currentUserID(c echo.Context) string {
	if id := AccountID(c); id != "" {
		return id
	}
	return "anon"
}
