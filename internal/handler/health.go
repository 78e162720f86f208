package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports whether the service can reach its database.  Load
// balancers poll it; it answers 503 when the ping fails.
func Health(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return failWith(c, http.StatusServiceUnavailable, "Database unreachable")
		}
		return respond(c, http.StatusOK, map[string]string{"status": "ok"}, "ok")
	}
}
