package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/middleware"
	"github.com/iliyamo/eduvault/internal/service"
)

// DirectoryHandler serves faculty search and the institution portal
// endpoints.
type DirectoryHandler struct {
	Directory *service.Directory
	Timeout   time.Duration
}

func NewDirectoryHandler(d *service.Directory, timeout time.Duration) *DirectoryHandler {
	if d == nil {
		panic("NewDirectoryHandler: nil Directory")
	}
	return &DirectoryHandler{Directory: d, Timeout: timeout}
}

// SearchFaculty finds faculty of the calling student's institution by name.
func (h *DirectoryHandler) SearchFaculty(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	out, err := h.Directory.SearchFaculty(ctx, middleware.AccountID(c), c.QueryParam("name"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, out, "Faculty fetched successfully")
}

// ConfigurePortal stores the calling institution's portal URL and key.
func (h *DirectoryHandler) ConfigurePortal(c echo.Context) error {
	var req service.PortalSettings
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "Invalid request body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	a, err := h.Directory.ConfigurePortal(ctx, middleware.AccountID(c), req)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, a, "Portal configured successfully")
}

// SyncPortal pulls the calling student's record from their institution's
// portal.  The portal call has its own timeout inside the directory.
func (h *DirectoryHandler) SyncPortal(c echo.Context) error {
	a, err := h.Directory.SyncPortal(c.Request().Context(), middleware.AccountID(c))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, a, "Portal data synced successfully")
}
