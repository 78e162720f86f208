package middleware // middleware provides shared request processing for handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/service"
)

// AccessCookie is the cookie the access token is delivered in.
const AccessCookie = "accessToken"

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(accessToken string) (service.Claims, error)
}

// JWTAuth validates the access token from the accessToken cookie or a
// Bearer Authorization header and stores the caller's identity in the
// context (see AccountID and Role).  Requests without a valid token end
// with 401.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
	if auth == nil {
		panic("JWTAuth: nil Authenticator")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized request")
			}
			claims, err := auth.Authenticate(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid access token")
			}
			setIdentity(c, claims)
			return next(c)
		}
	}
}

// bearerToken prefers the cookie and falls back to the header.
func bearerToken(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
