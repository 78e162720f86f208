package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/model"
)

// RequireRole rejects with 403 any caller whose role is not listed.  It
// must run after JWTAuth.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return echo.NewHTTPError(http.StatusForbidden, "Access denied for this role")
			}
			return next(c)
		}
	}
}
